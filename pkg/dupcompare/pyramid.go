package dupcompare

import "github.com/rpcpool/imgdup/pkg/raster"

// maxTabBits bounds how deep the averaging pyramid goes in either
// dimension; dup-init.c (not present in the retrieved sources) presumably
// derives this from image_dup_estimate_size, so the cap is chosen here to
// keep the pyramid small while still resolving block sizes well past any
// plausible thumbnail dimension.
const maxTabBits = 6

// level is one pyramid level: a Cols x Rows grid of averaged RGB triples,
// row-major, 3 bytes per cell.
type level struct {
	Cols, Rows uint32
	Pix        []byte
}

func (l level) at(c, r uint32) (uint8, uint8, uint8) {
	o := int(r)*int(l.Cols)*3 + int(c)*3
	return l.Pix[o], l.Pix[o+1], l.Pix[o+2]
}

// Descriptor is a built duplicate-comparison descriptor: the original
// raster plus its averaging pyramid, grounded on dup-cmp.c's struct
// image_dup (tab_pixels/tab_cols/tab_rows) generalized to an explicit
// level matrix instead of a single packed buffer.
type Descriptor struct {
	Raw     *raster.Raster
	Cols    uint32
	Rows    uint32
	TabCols uint32 // pyramid depth in the column axis (0..maxTabBits)
	TabRows uint32 // pyramid depth in the row axis (0..maxTabBits)

	// levels[tabCol][tabRow] is the averaged grid of (1<<tabCol) x
	// (1<<tabRow) blocks.
	levels [][]level
}

// Build constructs a Descriptor from img, computing its full averaging
// pyramid up front.
func Build(img *raster.Raster) *Descriptor {
	d := &Descriptor{
		Raw:     img,
		Cols:    img.Cols,
		Rows:    img.Rows,
		TabCols: log2Cap(img.Cols),
		TabRows: log2Cap(img.Rows),
	}
	d.levels = make([][]level, d.TabCols+1)
	for c := range d.levels {
		d.levels[c] = make([]level, d.TabRows+1)
	}

	finest := boxAverage(img, uint32(1)<<d.TabCols, uint32(1)<<d.TabRows)
	d.levels[d.TabCols][d.TabRows] = finest

	// Halve the row axis down to 0, keeping the column axis at its finest.
	for row := int(d.TabRows); row > 0; row-- {
		d.levels[d.TabCols][row-1] = halveRows(d.levels[d.TabCols][row])
	}
	// Then, for every row depth, halve the column axis down to 0.
	for row := 0; row <= int(d.TabRows); row++ {
		for col := int(d.TabCols); col > 0; col-- {
			d.levels[col-1][row] = halveCols(d.levels[col][row])
		}
	}
	return d
}

func (d *Descriptor) level(tabCol, tabRow uint32) level {
	return d.levels[tabCol][tabRow]
}

func log2Cap(n uint32) uint32 {
	b := uint32(0)
	for (uint32(1) << b) < n && b < maxTabBits {
		b++
	}
	return b
}

func boxAverage(img *raster.Raster, cols, rows uint32) level {
	l := level{Cols: cols, Rows: rows, Pix: make([]byte, int(cols)*int(rows)*3)}
	for r := uint32(0); r < rows; r++ {
		y0 := r * img.Rows / rows
		y1 := (r + 1) * img.Rows / rows
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for c := uint32(0); c < cols; c++ {
			x0 := c * img.Cols / cols
			x1 := (c + 1) * img.Cols / cols
			if x1 <= x0 {
				x1 = x0 + 1
			}
			var sumR, sumG, sumB, n uint64
			for y := y0; y < y1 && y < img.Rows; y++ {
				for x := x0; x < x1 && x < img.Cols; x++ {
					pr, pg, pb := img.Pixel(x, y)
					sumR += uint64(pr)
					sumG += uint64(pg)
					sumB += uint64(pb)
					n++
				}
			}
			o := int(r)*int(cols)*3 + int(c)*3
			if n == 0 {
				continue
			}
			l.Pix[o] = byte(sumR / n)
			l.Pix[o+1] = byte(sumG / n)
			l.Pix[o+2] = byte(sumB / n)
		}
	}
	return l
}

func halveRows(src level) level {
	rows := src.Rows / 2
	if rows == 0 {
		rows = 1
	}
	dst := level{Cols: src.Cols, Rows: rows, Pix: make([]byte, int(src.Cols)*int(rows)*3)}
	for r := uint32(0); r < rows; r++ {
		r0, r1 := 2*r, 2*r+1
		if r1 >= src.Rows {
			r1 = r0
		}
		for c := uint32(0); c < src.Cols; c++ {
			p0r, p0g, p0b := src.at(c, r0)
			p1r, p1g, p1b := src.at(c, r1)
			o := int(r)*int(src.Cols)*3 + int(c)*3
			dst.Pix[o] = byte((uint16(p0r) + uint16(p1r)) / 2)
			dst.Pix[o+1] = byte((uint16(p0g) + uint16(p1g)) / 2)
			dst.Pix[o+2] = byte((uint16(p0b) + uint16(p1b)) / 2)
		}
	}
	return dst
}

func halveCols(src level) level {
	cols := src.Cols / 2
	if cols == 0 {
		cols = 1
	}
	dst := level{Cols: cols, Rows: src.Rows, Pix: make([]byte, int(cols)*int(src.Rows)*3)}
	for r := uint32(0); r < src.Rows; r++ {
		for c := uint32(0); c < cols; c++ {
			c0, c1 := 2*c, 2*c+1
			if c1 >= src.Cols {
				c1 = c0
			}
			p0r, p0g, p0b := src.at(c0, r)
			p1r, p1g, p1b := src.at(c1, r)
			o := int(r)*int(cols)*3 + int(c)*3
			dst.Pix[o] = byte((uint16(p0r) + uint16(p1r)) / 2)
			dst.Pix[o+1] = byte((uint16(p0g) + uint16(p1g)) / 2)
			dst.Pix[o+2] = byte((uint16(p0b) + uint16(p1b)) / 2)
		}
	}
	return dst
}
