// Package raster defines the minimal packed-RGB image representation shared
// by the signature extractor and the duplicate comparator. Decoding a
// thumbnail blob into a Raster is the responsibility of an external codec
// (JPEG/PNG/GIF); this package only describes the decoded result.
package raster

// Raster is a packed 8-bit-per-channel RGB image, rows top to bottom, no
// padding between rows beyond RowSize.
type Raster struct {
	Cols    uint32
	Rows    uint32
	RowSize uint32 // bytes per row, >= Cols*3
	Pix     []byte
}

// New allocates a Raster with a tightly packed row size (Cols*3).
func New(cols, rows uint32) *Raster {
	rowSize := cols * 3
	return &Raster{
		Cols:    cols,
		Rows:    rows,
		RowSize: rowSize,
		Pix:     make([]byte, int(rowSize)*int(rows)),
	}
}

// At returns the byte offset of pixel (x, y) within Pix.
func (r *Raster) At(x, y uint32) int {
	return int(y)*int(r.RowSize) + int(x)*3
}

// Pixel returns the R, G, B bytes at (x, y).
func (r *Raster) Pixel(x, y uint32) (uint8, uint8, uint8) {
	o := r.At(x, y)
	return r.Pix[o], r.Pix[o+1], r.Pix[o+2]
}
