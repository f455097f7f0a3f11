// Package dupcompare implements the multi-resolution duplicate-image
// comparator of spec.md §4.4: an 8-way reflection/rotation transform set,
// an aspect-ratio gate, and a coarse-to-fine pyramid walk with early abort,
// grounded on original_source/images/dup-cmp.c's average/blocks/same-size
// compare functions. Where dup-cmp.c addresses a single packed pyramid
// buffer by pointer arithmetic, this package instead holds the pyramid as
// an explicit [][]level matrix indexed by (tabCol, tabRow) — an arena of
// pointers has no Go equivalent worth keeping; plain slices say the same
// thing.
package dupcompare

import (
	"fmt"
)

// Flags selects which of the 8 transforms to test, plus the scale and
// want-all modifiers, mirroring duplicates.h's IMAGE_DUP_* bitset.
type Flags uint32

const (
	TransID    Flags = 0x01 // identity
	FlipX      Flags = 0x02
	FlipY      Flags = 0x04
	Rot180     Flags = 0x08
	FlipBack   Flags = 0x10 // transpose
	RotCCW     Flags = 0x20
	RotCW      Flags = 0x40
	FlipSlash  Flags = 0x80 // anti-transpose
	TransAll   Flags = 0xff
	Scale      Flags = 0x100
	WantAll    Flags = 0x200
)

// inverseOf maps a transform index (0..7) to the index of its group
// inverse. Reflections and the 180-degree rotation are involutions;
// the two 90-degree rotations are each other's inverse.
var inverseOf = [8]int{0, 1, 2, 3, 4, 6, 5, 7}

// InverseTransform returns the transform index that undoes trans, so that
// compare(B, A) reports InverseTransform(t) whenever compare(A, B) reports
// t (spec.md §8 invariant 7).
func InverseTransform(trans int) int {
	return inverseOf[trans]
}

// Config holds the comparator's tunable thresholds.
type Config struct {
	ErrorThreshold  uint32 // max per-channel-squared mean error to accept a block/transform
	RatioThreshold  uint32 // aspect ratio gate scale, 7-bit fixed point (spec.md §4.4.2)
}

// DefaultConfig returns the comparator's default thresholds. RatioThreshold
// defaults to 128 (spec.md's "127 + epsilon", the smallest integer that
// still accepts exactly-equal aspect ratios under the >>7 fixed-point test).
func DefaultConfig() Config {
	return Config{ErrorThreshold: 64, RatioThreshold: 128}
}

func errSq(a, b byte) uint32 {
	d := int32(a) - int32(b)
	return uint32(d * d)
}

// Compare runs the multi-resolution comparison of d1 against d2 for the
// transforms selected in flags, per spec.md §4.4.3. It returns a bitmask of
// the transform bits (0x01..0x80) that passed. Unless WantAll is set, it
// returns on the first passing transform.
func Compare(d1, d2 *Descriptor, flags Flags, cfg Config) (Flags, error) {
	if d1 == nil || d2 == nil {
		return 0, fmt.Errorf("dupcompare: nil descriptor")
	}
	if !averageCompare(d1, d2, cfg.ErrorThreshold) {
		return 0, nil
	}

	active := flags
	if flags&Scale != 0 {
		if !aspectRatioTest(d1.Cols, d1.Rows, d2.Cols, d2.Rows, cfg.RatioThreshold) {
			active &^= 0x0f
		}
		if !aspectRatioTest(d1.Cols, d1.Rows, d2.Rows, d2.Cols, cfg.RatioThreshold) {
			active &^= 0xf0
		}
	} else {
		if !(d1.Cols == d2.Cols && d1.Rows == d2.Rows) {
			active &^= 0x0f
		}
		if !(d1.Cols == d2.Rows && d1.Rows == d2.Cols) {
			active &^= 0xf0
		}
	}
	if active&TransAll == 0 {
		return 0, nil
	}

	var result Flags
	if active&0x0f != 0 {
		r, done := walkGroup(d1, d2, active, cfg, 0, 4, d1.Cols == d2.Cols && d1.Rows == d2.Rows)
		result |= r
		if done {
			return result, nil
		}
	}
	if active&0xf0 != 0 {
		r, done := walkGroup(d1, d2, active, cfg, 4, 8, d1.Cols == d2.Rows && d1.Rows == d2.Cols)
		result |= r
		if done {
			return result, nil
		}
	}
	return result, nil
}

// walkGroup tests transforms [lo, hi) (the non-swap group 0..3 or the swap
// group 4..7), returning early (done=true) if a match is found and WantAll
// is not set.
func walkGroup(d1, d2 *Descriptor, flags Flags, cfg Config, lo, hi int, rawDimsEqual bool) (Flags, bool) {
	var cols, rows uint32
	if lo == 0 {
		cols = min32(d1.TabCols, d2.TabCols)
		rows = min32(d1.TabRows, d2.TabRows)
	} else {
		cols = min32(d1.TabCols, d2.TabRows)
		rows = min32(d1.TabRows, d2.TabCols)
	}

	var result Flags
	for t := lo; t < hi; t++ {
		bit := Flags(1 << uint(t))
		if flags&bit == 0 {
			continue
		}
		if !testTransform(d1, d2, cols, rows, t, cfg, rawDimsEqual) {
			continue
		}
		result |= bit
		if flags&WantAll == 0 {
			return result, true
		}
	}
	return result, false
}

// testTransform walks the pyramid from small to large for one transform,
// aborting on the first failing level; on success at the finest common
// level it runs the full-resolution check if raw dimensions match.
func testTransform(d1, d2 *Descriptor, cols, rows uint32, trans int, cfg Config, rawDimsEqual bool) bool {
	maxI := cols
	if rows > maxI {
		maxI = rows
	}
	for i := int(maxI) - 1; i >= 0; i-- {
		col := maxU32(0, int32(cols)-int32(i))
		row := maxU32(0, int32(rows)-int32(i))
		if !blocksCompare(d1, d2, col, row, trans, cfg.ErrorThreshold) {
			return false
		}
		if i == 0 {
			return !rawDimsEqual || sameSizeCompare(d1, d2, trans, cfg.ErrorThreshold)
		}
	}
	return true
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxU32(a, b int32) uint32 {
	if a > b {
		return uint32(a)
	}
	return uint32(b)
}
