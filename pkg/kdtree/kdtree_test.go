package kdtree_test

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/imgdup/pkg/kdtree"
	"github.com/rpcpool/imgdup/pkg/kdtreefile"
)

func randomPoints(n int, seed int64) []kdtree.Point {
	r := rand.New(rand.NewSource(seed))
	pts := make([]kdtree.Point, n)
	for i := range pts {
		var v kdtree.Vector
		for d := range v {
			v[d] = byte(r.Intn(256))
		}
		pts[i] = kdtree.Point{OID: uint32(i + 1), Vec: v}
	}
	return pts
}

func drain(t *testing.T, it *kdtree.SearchIter) []kdtree.Point {
	t.Helper()
	var out []kdtree.Point
	for {
		oid, dist, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, kdtree.Point{OID: oid})
		_ = dist
	}
	return out
}

// TestSearchSelfMatchZeroDistance is the S4 scenario: after inserting 2000
// random vectors, querying each of the first 200 with itself at max_dist=0
// must return that point's own oid with distance 0.
func TestSearchSelfMatchZeroDistance(t *testing.T) {
	pts := randomPoints(2000, 1)
	tree := kdtree.Build(pts)

	for _, p := range pts[:200] {
		it := tree.Search(p.Vec, 0)
		found := false
		for {
			oid, dist, err := it.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			require.Zero(t, dist)
			if oid == p.OID {
				found = true
			}
		}
		require.True(t, found, "expected self-match for oid %d", p.OID)
	}
}

func TestSearchUnlimitedReturnsAllPoints(t *testing.T) {
	pts := randomPoints(300, 2)
	tree := kdtree.Build(pts)

	it := tree.Search(pts[0].Vec, kdtree.DistUnlimited)
	got := drain(t, it)
	require.Len(t, got, len(pts))
}

func TestSearchBoundedExcludesFarPoints(t *testing.T) {
	pts := []kdtree.Point{
		{OID: 1, Vec: kdtree.Vector{0, 0, 0, 0, 0, 0}},
		{OID: 2, Vec: kdtree.Vector{1, 0, 0, 0, 0, 0}},
		{OID: 3, Vec: kdtree.Vector{255, 255, 255, 255, 255, 255}},
	}
	tree := kdtree.Build(pts)

	it := tree.Search(kdtree.Vector{0, 0, 0, 0, 0, 0}, 2)
	got := drain(t, it)

	oids := map[uint32]bool{}
	for _, p := range got {
		oids[p.OID] = true
	}
	require.True(t, oids[1])
	require.True(t, oids[2])
	require.False(t, oids[3])
}

func TestBuildEmpty(t *testing.T) {
	tree := kdtree.Build(nil)
	it := tree.Search(kdtree.Vector{}, kdtree.DistUnlimited)
	_, _, err := it.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestBuildSinglePoint(t *testing.T) {
	pts := []kdtree.Point{{OID: 42, Vec: kdtree.Vector{10, 20, 30, 40, 50, 60}}}
	tree := kdtree.Build(pts)

	it := tree.Search(pts[0].Vec, 0)
	oid, dist, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, uint32(42), oid)
	require.Zero(t, dist)

	_, _, err = it.Next()
	require.ErrorIs(t, err, io.EOF)
}

// TestRoundTripWriteReadSearchIdentity builds a tree, serializes it through
// pkg/kdtreefile, reads it back, and checks that search results from the
// deserialized tree match the original.
func TestRoundTripWriteReadSearchIdentity(t *testing.T) {
	pts := randomPoints(500, 3)
	tree := kdtree.Build(pts)

	var buf bytes.Buffer
	require.NoError(t, kdtreefile.Write(&buf, tree))

	reread, err := kdtreefile.Read(&buf)
	require.NoError(t, err)
	require.Equal(t, tree.BBox, reread.BBox)
	require.Equal(t, tree.Depth, reread.Depth)
	require.Equal(t, tree.Nodes, reread.Nodes)
	require.Len(t, reread.Leaves, len(tree.Leaves))

	query := pts[17].Vec
	before := drain(t, tree.Search(query, 10))
	after := drain(t, reread.Search(query, 10))

	beforeOIDs := map[uint32]bool{}
	for _, p := range before {
		beforeOIDs[p.OID] = true
	}
	afterOIDs := map[uint32]bool{}
	for _, p := range after {
		afterOIDs[p.OID] = true
	}
	require.Equal(t, beforeOIDs, afterOIDs)
}
