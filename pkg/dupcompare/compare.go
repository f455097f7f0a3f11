package dupcompare

// mapCoord maps pixel (c, r) of a C1 x R1 grid into the corresponding
// coordinate of the transformed grid for transform trans, per the exact
// pointer arithmetic of original_source/images/dup-cmp.c's blocks_compare
// and same_size_compare switch statements (cases 0..7).
func mapCoord(trans int, c, r, c1, r1 uint32) (c2, r2 uint32) {
	switch trans {
	case 0: // identity
		return c, r
	case 1: // flip-X
		return c1 - 1 - c, r
	case 2: // flip-Y
		return c, r1 - 1 - r
	case 3: // rot-180
		return c1 - 1 - c, r1 - 1 - r
	case 4: // transpose
		return r, c
	case 5: // rot-CCW
		return r, c1 - 1 - c
	case 6: // rot-CW
		return r1 - 1 - r, c
	case 7: // anti-transpose
		return r1 - 1 - r, c1 - 1 - c
	default:
		panic("dupcompare: invalid transform index")
	}
}

// averageCompare is the fast-fail average test: compare the two images'
// 1x1 pyramid level (overall average RGB).
func averageCompare(d1, d2 *Descriptor, errorThreshold uint32) bool {
	l1 := d1.level(0, 0)
	l2 := d2.level(0, 0)
	r1, g1, b1 := l1.at(0, 0)
	r2, g2, b2 := l2.at(0, 0)
	e := errSq(r1, r2) + errSq(g1, g2) + errSq(b1, b2)
	return e <= errorThreshold
}

// blocksCompare computes the mean squared error between d1's (tabCol,
// tabRow) pyramid level and d2's corresponding level under trans.
func blocksCompare(d1, d2 *Descriptor, tabCol, tabRow uint32, trans int, errorThreshold uint32) bool {
	l1 := d1.level(tabCol, tabRow)
	var l2 level
	if trans < 4 {
		l2 = d2.level(tabCol, tabRow)
	} else {
		l2 = d2.level(tabRow, tabCol)
	}

	c1, r1 := l1.Cols, l1.Rows
	var sum uint64
	for r := uint32(0); r < r1; r++ {
		for c := uint32(0); c < c1; c++ {
			pr, pg, pb := l1.at(c, r)
			c2, r2 := mapCoord(trans, c, r, c1, r1)
			qr, qg, qb := l2.at(c2, r2)
			sum += uint64(errSq(pr, qr)) + uint64(errSq(pg, qg)) + uint64(errSq(pb, qb))
		}
	}
	n := uint64(c1) * uint64(r1)
	if n == 0 {
		return true
	}
	return sum/n <= uint64(errorThreshold)
}

// sameSizeCompare runs the full-resolution check once the pyramid walk has
// passed at every level and the underlying raw dimensions match (or are
// swap-equal) for trans.
func sameSizeCompare(d1, d2 *Descriptor, trans int, errorThreshold uint32) bool {
	img1, img2 := d1.Raw, d2.Raw
	if img1 == nil || img2 == nil || len(img1.Pix) == 0 || len(img2.Pix) == 0 {
		return true
	}
	c1, r1 := img1.Cols, img1.Rows
	var sum uint64
	for r := uint32(0); r < r1; r++ {
		for c := uint32(0); c < c1; c++ {
			pr, pg, pb := img1.Pixel(c, r)
			c2, r2 := mapCoord(trans, c, r, c1, r1)
			qr, qg, qb := img2.Pixel(c2, r2)
			sum += uint64(errSq(pr, qr)) + uint64(errSq(pg, qg)) + uint64(errSq(pb, qb))
		}
	}
	n := uint64(c1) * uint64(r1)
	if n == 0 {
		return true
	}
	return sum/n <= uint64(errorThreshold)
}

// aspectRatioTest implements spec.md §4.4.2's symmetric fixed-point ratio
// gate: c1*r2 <= (r1*c2*ratioThreshold)>>7 and the reverse.
func aspectRatioTest(c1, r1, c2, r2, ratioThreshold uint32) bool {
	a := c1 * r2
	b := r1 * c2
	return a <= (b*ratioThreshold)>>7 && b <= (a*ratioThreshold)>>7
}
