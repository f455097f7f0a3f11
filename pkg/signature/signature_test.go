package signature_test

import (
	"math/rand"
	"testing"

	"github.com/rpcpool/imgdup/pkg/raster"
	"github.com/rpcpool/imgdup/pkg/signature"
	"github.com/stretchr/testify/require"
)

func solidRaster(cols, rows uint32, r, g, b byte) *raster.Raster {
	img := raster.New(cols, rows)
	for y := uint32(0); y < rows; y++ {
		for x := uint32(0); x < cols; x++ {
			o := img.At(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2] = r, g, b
		}
	}
	return img
}

func TestComputeTooSmallImage(t *testing.T) {
	_, err := signature.Compute(raster.New(4, 3))
	require.ErrorIs(t, err, signature.ErrTooSmall)
	_, err = signature.Compute(raster.New(3, 4))
	require.ErrorIs(t, err, signature.ErrTooSmall)
}

func TestComputeDeterministic(t *testing.T) {
	img := randomRaster(16, 16, 1)
	a, err := signature.Compute(img)
	require.NoError(t, err)
	b, err := signature.Compute(img)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestComputeIdenticalRastersBitExact(t *testing.T) {
	img1 := randomRaster(20, 12, 42)
	img2 := randomRaster(20, 12, 42)
	sig1, err := signature.Compute(img1)
	require.NoError(t, err)
	sig2, err := signature.Compute(img2)
	require.NoError(t, err)
	require.Equal(t, sig1, sig2)
}

func TestComputeConstantGrayImageHasZeroWaveletEnergy(t *testing.T) {
	img := solidRaster(16, 16, 128, 128, 128)
	sig, err := signature.Compute(img)
	require.NoError(t, err)
	require.Zero(t, sig.Vec[3]) // LH
	require.Zero(t, sig.Vec[4]) // HL
	require.Zero(t, sig.Vec[5]) // HH
	require.Empty(t, sig.Regions)
}

func TestLuvGridAccuracy(t *testing.T) {
	require.NoError(t, signature.VerifyLuvGrid(rand.New(rand.NewSource(1))))
}

func randomRaster(cols, rows uint32, seed int64) *raster.Raster {
	rnd := rand.New(rand.NewSource(seed))
	img := raster.New(cols, rows)
	for i := range img.Pix {
		img.Pix[i] = byte(rnd.Intn(256))
	}
	return img
}
