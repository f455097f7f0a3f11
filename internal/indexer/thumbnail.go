package indexer

import (
	"encoding/binary"
	"fmt"

	"github.com/rpcpool/imgdup/pkg/raster"
)

// decodeThumbnail parses a bucket payload into a raster. Image codecs
// (JPEG/PNG/...) are out of scope for this module (spec.md Non-goals), so
// the pool stores thumbnails pre-decoded: an 8-byte little-endian
// (cols, rows) header followed by cols*rows*3 RGB bytes, matching the data
// flow's "decoded RGB raster" stage directly rather than re-deriving it
// from a compressed format this module does not implement.
func decodeThumbnail(payload []byte) (*raster.Raster, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("indexer: thumbnail payload too short (%d bytes)", len(payload))
	}
	cols := binary.LittleEndian.Uint32(payload[0:4])
	rows := binary.LittleEndian.Uint32(payload[4:8])
	want := int(cols) * int(rows) * 3
	if len(payload)-8 != want {
		return nil, fmt.Errorf("indexer: thumbnail payload length mismatch: header says %dx%d (%d bytes), have %d", cols, rows, want, len(payload)-8)
	}
	img := raster.New(cols, rows)
	copy(img.Pix, payload[8:])
	return img, nil
}

// encodeThumbnail is decodeThumbnail's inverse. Nothing in this module
// calls it; the tests use their own copy, encodeThumbnailForTest.
func encodeThumbnail(img *raster.Raster) []byte {
	out := make([]byte, 8+len(img.Pix))
	binary.LittleEndian.PutUint32(out[0:4], img.Cols)
	binary.LittleEndian.PutUint32(out[4:8], img.Rows)
	copy(out[8:], img.Pix)
	return out
}
