package indexer_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/imgdup/internal/config"
	"github.com/rpcpool/imgdup/internal/indexer"
	"github.com/rpcpool/imgdup/pkg/bucketpool"
	"github.com/rpcpool/imgdup/pkg/raster"
)

func solidImage(cols, rows uint32, r, g, b byte) *raster.Raster {
	img := raster.New(cols, rows)
	for y := uint32(0); y < rows; y++ {
		for x := uint32(0); x < cols; x++ {
			o := img.At(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2] = r, g, b
		}
	}
	return img
}

// encodeThumbnailForTest mirrors the package-private encodeThumbnail, kept
// here so the test can build bucket payloads without reaching into
// unexported indexer internals.
func encodeThumbnailForTest(img *raster.Raster) []byte {
	out := make([]byte, 8+len(img.Pix))
	out[0] = byte(img.Cols)
	out[1] = byte(img.Cols >> 8)
	out[2] = byte(img.Cols >> 16)
	out[3] = byte(img.Cols >> 24)
	out[4] = byte(img.Rows)
	out[5] = byte(img.Rows >> 8)
	out[6] = byte(img.Rows >> 16)
	out[7] = byte(img.Rows >> 24)
	copy(out[8:], img.Pix)
	return out
}

func openTestPool(t *testing.T) *bucketpool.Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.bin")
	pool, err := bucketpool.Open(path, true, bucketpool.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func writeThumbnail(t *testing.T, pool *bucketpool.Pool, img *raster.Raster) bucketpool.OID {
	t.Helper()
	w, err := pool.Create(bucketpool.TypePlain)
	require.NoError(t, err)
	_, err = w.Write(encodeThumbnailForTest(img))
	require.NoError(t, err)
	hdr, err := w.CreateEnd()
	require.NoError(t, err)
	return hdr.OID
}

func TestNewRunsSignatureSelfTest(t *testing.T) {
	pool := openTestPool(t)
	ix, err := indexer.New(pool, config.New(config.BucketFile(pool.Path())))
	require.NoError(t, err)
	require.NotNil(t, ix)
}

func TestRunPass1FindsExactDuplicates(t *testing.T) {
	pool := openTestPool(t)

	a := solidImage(32, 32, 200, 50, 10)
	writeThumbnail(t, pool, a)
	writeThumbnail(t, pool, a) // identical payload, distinct bucket => distinct oid

	distinct := solidImage(32, 32, 5, 5, 5)
	writeThumbnail(t, pool, distinct)

	ix, err := indexer.New(pool, config.New(config.BucketFile(pool.Path())))
	require.NoError(t, err)

	sigPath := filepath.Join(t.TempDir(), "pass1.sig")
	report, err := ix.RunPass1(sigPath)
	require.NoError(t, err)
	require.Equal(t, 3, report.CardsIndexed)
	require.Zero(t, report.Skipped)
	require.NotEmpty(t, report.Duplicates)

	foundExactPair := false
	for _, d := range report.Duplicates {
		if d.Trans == 0 {
			foundExactPair = true
		}
	}
	require.True(t, foundExactPair, "expected an identity-transform duplicate between the two identical thumbnails")
}

func TestRunPass1SkipsUndersizedImages(t *testing.T) {
	pool := openTestPool(t)
	tiny := solidImage(2, 2, 1, 2, 3)
	writeThumbnail(t, pool, tiny)

	ix, err := indexer.New(pool, config.New(config.BucketFile(pool.Path())))
	require.NoError(t, err)

	sigPath := filepath.Join(t.TempDir(), "pass1.sig")
	report, err := ix.RunPass1(sigPath)
	require.NoError(t, err)
	require.Zero(t, report.CardsIndexed)
	require.Equal(t, 1, report.Skipped)
}

func TestKibitzMapRebindsAcrossShakedown(t *testing.T) {
	km := indexer.NewKibitzMap()
	km.Bind("card-a", bucketpool.OID(10))

	kf := km.KibitzFunc(func(old bucketpool.Header, payload []byte) (bucketpool.KibitzAction, []byte, error) {
		return bucketpool.KibitzKeep, payload, nil
	})
	_, _, err := kf(bucketpool.Header{OID: 10}, bucketpool.OID(3), nil)
	require.NoError(t, err)

	oid, ok := km.Resolve("card-a")
	require.True(t, ok)
	require.Equal(t, bucketpool.OID(3), oid)
}
