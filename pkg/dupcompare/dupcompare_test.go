package dupcompare_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/imgdup/pkg/dupcompare"
	"github.com/rpcpool/imgdup/pkg/raster"
)

func randomImage(cols, rows uint32, seed int64) *raster.Raster {
	r := rand.New(rand.NewSource(seed))
	img := raster.New(cols, rows)
	for i := range img.Pix {
		img.Pix[i] = byte(r.Intn(256))
	}
	return img
}

// rotateCCW returns a new raster holding src rotated 90 degrees
// counter-clockwise (output has swapped dimensions).
func rotateCCW(src *raster.Raster) *raster.Raster {
	dst := raster.New(src.Rows, src.Cols)
	for y := uint32(0); y < src.Rows; y++ {
		for x := uint32(0); x < src.Cols; x++ {
			r, g, b := src.Pixel(x, y)
			dx := y
			dy := src.Cols - 1 - x
			o := dst.At(dx, dy)
			dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2] = r, g, b
		}
	}
	return dst
}

func TestCompareReflexiveIdentity(t *testing.T) {
	img := randomImage(64, 48, 1)
	d := dupcompare.Build(img)

	cfg := dupcompare.DefaultConfig()
	mask, err := dupcompare.Compare(d, d, dupcompare.TransAll|dupcompare.WantAll, cfg)
	require.NoError(t, err)
	require.NotZero(t, mask&dupcompare.TransID, "identity must match itself")
}

func TestCompareScaleReflexiveRandomImageMatchesIdentityOnly(t *testing.T) {
	img := randomImage(32, 32, 2)
	d := dupcompare.Build(img)

	cfg := dupcompare.DefaultConfig()
	mask, err := dupcompare.Compare(d, d, dupcompare.TransAll|dupcompare.Scale|dupcompare.WantAll, cfg)
	require.NoError(t, err)
	require.Equal(t, dupcompare.TransID, mask&dupcompare.TransAll)
}

// TestCompareRotationCCW is the S5 scenario: a 64x48 random image rotated
// 90 degrees CCW must be detected via the RotCCW transform bit.
func TestCompareRotationCCW(t *testing.T) {
	a := randomImage(64, 48, 3)
	b := rotateCCW(a)

	da := dupcompare.Build(a)
	db := dupcompare.Build(b)

	mask, err := dupcompare.Compare(da, db, dupcompare.RotCCW|dupcompare.Scale, dupcompare.DefaultConfig())
	require.NoError(t, err)
	require.NotZero(t, mask&dupcompare.RotCCW)
}

// TestCompareTransformSymmetric is invariant 7: compare(A,B) returning
// transform t implies compare(B,A) returns InverseTransform(t).
func TestCompareTransformSymmetric(t *testing.T) {
	a := randomImage(64, 48, 4)
	b := rotateCCW(a)

	da := dupcompare.Build(a)
	db := dupcompare.Build(b)

	cfg := dupcompare.DefaultConfig()
	maskAB, err := dupcompare.Compare(da, db, dupcompare.TransAll|dupcompare.Scale|dupcompare.WantAll, cfg)
	require.NoError(t, err)
	maskBA, err := dupcompare.Compare(db, da, dupcompare.TransAll|dupcompare.Scale|dupcompare.WantAll, cfg)
	require.NoError(t, err)

	for trans := 0; trans < 8; trans++ {
		bit := dupcompare.Flags(1 << uint(trans))
		if maskAB&bit == 0 {
			continue
		}
		inv := dupcompare.Flags(1 << uint(dupcompare.InverseTransform(trans)))
		require.NotZero(t, maskBA&inv, "transform %d set in A->B but inverse not set in B->A", trans)
	}
}

func TestCompareDifferentImagesNoMatch(t *testing.T) {
	a := randomImage(64, 48, 5)
	b := randomImage(64, 48, 6)

	da := dupcompare.Build(a)
	db := dupcompare.Build(b)

	mask, err := dupcompare.Compare(da, db, dupcompare.TransAll, dupcompare.DefaultConfig())
	require.NoError(t, err)
	require.Zero(t, mask)
}

func TestAspectRatioGateRejectsMismatch(t *testing.T) {
	a := randomImage(64, 48, 7)
	b := randomImage(16, 48, 7) // very different aspect ratio, same seed/content pattern

	da := dupcompare.Build(a)
	db := dupcompare.Build(b)

	mask, err := dupcompare.Compare(da, db, dupcompare.TransID|dupcompare.Scale, dupcompare.DefaultConfig())
	require.NoError(t, err)
	require.Zero(t, mask&dupcompare.TransID)
}
