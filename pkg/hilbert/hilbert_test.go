package hilbert_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/imgdup/pkg/hilbert"
)

func randomPoint(r *rand.Rand, dim, order int) []uint32 {
	p := make([]uint32, dim)
	max := uint32(1)<<uint(order) - 1
	for i := range p {
		p[i] = uint32(r.Int63n(int64(max) + 1))
	}
	return p
}

// TestRoundTripEncodeDecode is the S6 scenario: for the production
// parameters (dim=6, order=8), decode(encode(x)) == x over random points.
func TestRoundTripEncodeDecode(t *testing.T) {
	const dim, order = 6, 8
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		x := randomPoint(r, dim, order)
		d, err := hilbert.Encode(dim, order, x)
		require.NoError(t, err)
		got, err := hilbert.Decode(dim, order, d)
		require.NoError(t, err)
		require.Equal(t, x, got, "round trip mismatch for input %v", x)
	}
}

// TestRoundTripDecodeEncode checks the other direction: encode(decode(d))
// == d over random curve-distance words.
func TestRoundTripDecodeEncode(t *testing.T) {
	const dim, order = 6, 8
	r := rand.New(rand.NewSource(2))

	for i := 0; i < 1000; i++ {
		d := randomPoint(r, dim, order)
		x, err := hilbert.Decode(dim, order, d)
		require.NoError(t, err)
		got, err := hilbert.Encode(dim, order, x)
		require.NoError(t, err)
		require.Equal(t, d, got, "round trip mismatch for distance %v", d)
	}
}

func TestRoundTripOtherDimensionOrderPairs(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	cases := []struct{ dim, order int }{
		{2, 8}, {3, 10}, {8, 8}, {4, 32},
	}
	for _, c := range cases {
		for i := 0; i < 50; i++ {
			x := randomPoint(r, c.dim, c.order)
			d, err := hilbert.Encode(c.dim, c.order, x)
			require.NoError(t, err)
			got, err := hilbert.Decode(c.dim, c.order, d)
			require.NoError(t, err)
			require.Equal(t, x, got, "dim=%d order=%d input=%v", c.dim, c.order, x)
		}
	}
}

func TestEncodeRejectsUnsupportedDimensions(t *testing.T) {
	cases := []struct{ dim, order int }{
		{1, 8}, {9, 8}, {4, 7}, {4, 33},
	}
	for _, c := range cases {
		_, err := hilbert.Encode(c.dim, c.order, make([]uint32, c.dim))
		require.Error(t, err)
		var target hilbert.ErrUnsupportedDimensions
		require.ErrorAs(t, err, &target)
	}
}

func TestDecodeRejectsUnsupportedDimensions(t *testing.T) {
	_, err := hilbert.Decode(1, 8, make([]uint32, 1))
	require.Error(t, err)
}

func TestEncodeRejectsWrongLength(t *testing.T) {
	_, err := hilbert.Encode(6, 8, make([]uint32, 3))
	require.Error(t, err)
}

// TestEncodeIsInjectiveOverSmallGrid encodes an 8x8 lattice of points
// (every 32nd coordinate) of a dim=2, order=8 grid and checks that no two
// distinct points collide (a necessary property of any correct
// space-filling curve index).
func TestEncodeIsInjectiveOverSmallGrid(t *testing.T) {
	const dim, order = 2, 8
	const side = 1 << order

	seen := make(map[[2]uint32]bool)
	for x := uint32(0); x < 8; x++ {
		for y := uint32(0); y < 8; y++ {
			d, err := hilbert.Encode(dim, order, []uint32{x * (side / 8), y * (side / 8)})
			require.NoError(t, err)
			key := [2]uint32{d[0], d[1]}
			require.False(t, seen[key], "collision encoding (%d,%d)", x, y)
			seen[key] = true
		}
	}
}

func TestSortByCurveOrdersByDistanceAndPreservesOIDs(t *testing.T) {
	const dim, order = 3, 8
	oids := []uint32{10, 11, 12, 13}
	points := [][]uint32{
		{5, 5, 5},
		{0, 0, 0},
		{255, 255, 255},
		{1, 1, 1},
	}

	keyed, err := hilbert.SortByCurve(dim, order, oids, points)
	require.NoError(t, err)
	require.Len(t, keyed, 4)

	seen := make(map[uint32]bool)
	for _, k := range keyed {
		seen[k.OID] = true
	}
	require.Len(t, seen, 4)

	for i := 1; i < len(keyed); i++ {
		prev, cur := keyed[i-1].Dist, keyed[i].Dist
		less := false
		for w := range prev {
			if prev[w] != cur[w] {
				less = prev[w] < cur[w]
				break
			}
		}
		require.True(t, less || equalWords(prev, cur), "sorted output must be non-decreasing by Hilbert distance")
	}
}

func equalWords(a, b []uint32) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSortByCurveMismatchedLengthsError(t *testing.T) {
	_, err := hilbert.SortByCurve(3, 8, []uint32{1, 2}, [][]uint32{{0, 0, 0}})
	require.Error(t, err)
}
