// Package kdtree builds and searches the fixed-dimensional k-d tree index
// over image signature vectors, per spec.md §4.3. Build is iterative
// (explicit stack, not recursion) and search is best-first over subtree
// bounding boxes via container/heap.
package kdtree

import (
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("kdtree")

// Dims is the fixed dimensionality of an indexed vector (L, u, v, LH, HL, HH).
const Dims = 6

// Vector is a signature vector as indexed by the tree.
type Vector [Dims]byte

// Point is one (oid, vector) pair supplied to Build.
type Point struct {
	OID uint32
	Vec Vector
}

// BBox is a componentwise axis-aligned bounding box over Vector space.
type BBox struct {
	Min, Max Vector
}

func (b BBox) width(dim int) int {
	return int(b.Max[dim]) - int(b.Min[dim])
}

func (b BBox) widestDim() int {
	widest, best := -1, -1
	for d := 0; d < Dims; d++ {
		w := b.width(d)
		if w > widest {
			widest = w
			best = d
		}
	}
	return best
}

// DistUnlimited is the "no bound" sentinel for Search's maxDist parameter,
// mirroring IMAGE_SEARCH_DIST_UNLIMITED.
const DistUnlimited = ^uint32(0)

// distSqToBBox returns the squared L2 distance from query to its nearest
// point within bbox (0 if query is inside bbox).
func distSqToBBox(query Vector, bbox BBox) uint64 {
	var sum uint64
	for d := 0; d < Dims; d++ {
		v := int(query[d])
		var diff int
		switch {
		case v < int(bbox.Min[d]):
			diff = int(bbox.Min[d]) - v
		case v > int(bbox.Max[d]):
			diff = v - int(bbox.Max[d])
		}
		sum += uint64(diff) * uint64(diff)
	}
	return sum
}

func distSq(a, b Vector) uint64 {
	var sum uint64
	for d := 0; d < Dims; d++ {
		diff := int(a[d]) - int(b[d])
		sum += uint64(diff) * uint64(diff)
	}
	return sum
}
