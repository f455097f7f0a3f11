package thumbcache_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/imgdup/pkg/raster"
	"github.com/rpcpool/imgdup/pkg/thumbcache"
)

func solidImage(cols, rows uint32, v byte) *raster.Raster {
	img := raster.New(cols, rows)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func decoderFor(images map[uint32]*raster.Raster) thumbcache.DecodeFunc {
	return func(oid uint32) (string, *raster.Raster, error) {
		img, ok := images[oid]
		if !ok {
			return "", nil, fmt.Errorf("no such oid %d", oid)
		}
		return fmt.Sprintf("https://example.test/%d.jpg", oid), img, nil
	}
}

func TestLookupMissThenHit(t *testing.T) {
	images := map[uint32]*raster.Raster{1: solidImage(8, 8, 10)}
	c := thumbcache.New(1<<20, decoderFor(images))

	e1, err := c.Lookup(1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), e1.OID)
	c.Unlock(1)

	e2, err := c.Lookup(1)
	require.NoError(t, err)
	require.Same(t, e1.Image, e2.Image)
	c.Unlock(1)

	st := c.Stats()
	require.Equal(t, uint64(2), st.Lookups)
	require.Equal(t, uint64(1), st.Reads)
}

func TestLookupUnknownOIDErrors(t *testing.T) {
	c := thumbcache.New(1<<20, decoderFor(nil))
	_, err := c.Lookup(99)
	require.Error(t, err)
}

func TestCompactionReclaimsEvictedSpace(t *testing.T) {
	images := map[uint32]*raster.Raster{}
	for i := uint32(1); i <= 20; i++ {
		images[i] = solidImage(16, 16, byte(i))
	}
	// Slab sized to hold only a handful of entries at once, forcing
	// eviction + compaction well before all 20 are visited.
	entrySize := len(images[1].Pix)
	c := thumbcache.New(entrySize*4, decoderFor(images))

	for i := uint32(1); i <= 20; i++ {
		e, err := c.Lookup(i)
		require.NoError(t, err)
		require.Equal(t, i, e.OID)
		c.Unlock(i)
	}

	st := c.Stats()
	require.Positive(t, st.Shrinks)
	require.LessOrEqual(t, st.LiveEntries, 4)
}

func TestBufferTooSmallWhenSingleEntryExceedsSlab(t *testing.T) {
	images := map[uint32]*raster.Raster{1: solidImage(64, 64, 1)}
	tooSmall := len(images[1].Pix) / 2
	c := thumbcache.New(tooSmall, decoderFor(images))

	_, err := c.Lookup(1)
	require.Error(t, err)
}

func TestPinnedEntryNotEvicted(t *testing.T) {
	images := map[uint32]*raster.Raster{}
	for i := uint32(1); i <= 10; i++ {
		images[i] = solidImage(16, 16, byte(i))
	}
	entrySize := len(images[1].Pix)
	c := thumbcache.New(entrySize*3, decoderFor(images))

	pinned, err := c.Lookup(1)
	require.NoError(t, err)

	for i := uint32(2); i <= 10; i++ {
		_, err := c.Lookup(i)
		require.NoError(t, err)
		c.Unlock(i)
	}

	require.Equal(t, uint32(1), pinned.OID)
	require.NotEmpty(t, pinned.Image.Pix)
	c.Unlock(1)
}
