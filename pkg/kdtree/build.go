package kdtree

import "golang.org/x/exp/slices"

// Tree is a built, immutable k-d tree over Dims-dimensional vectors.
type Tree struct {
	BBox   BBox
	Depth  uint32
	Nodes  []uint32
	Leaves []LeafEntry
}

type buildFrame struct {
	heapIdx uint32
	level   uint32
	bbox    BBox
	lo, hi  int // half-open range into the working points slice
}

// Build constructs a Tree over pts. Splitting always picks the widest
// current bbox side and partitions by median, per spec.md §4.3. The build
// uses an explicit stack rather than recursive function calls.
func Build(pts []Point) *Tree {
	if len(pts) == 0 {
		return &Tree{}
	}
	work := make([]Point, len(pts))
	copy(work, pts)

	bbox := globalBBox(work)
	depth := requiredDepth(len(work))
	nodeCount := (uint32(1) << depth) - 1

	t := &Tree{BBox: bbox, Depth: depth, Nodes: make([]uint32, nodeCount)}

	stack := []buildFrame{{heapIdx: 1, level: 1, bbox: bbox, lo: 0, hi: len(work)}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := f.hi - f.lo
		if n <= 1 || f.level >= depth {
			leafBBox := globalBBox(work[f.lo:f.hi])
			start := uint32(len(t.Leaves))
			for i := f.lo; i < f.hi; i++ {
				t.Leaves = append(t.Leaves, LeafEntry{
					oid:   work[i].OID,
					quant: quantizeVector(work[i].Vec, leafBBox),
					bbox:  leafBBox,
					last:  i == f.hi-1,
				})
			}
			t.Nodes[f.heapIdx-1] = encodeLeafNode(start)
			continue
		}

		dim := f.bbox.widestDim()
		sub := work[f.lo:f.hi]
		slices.SortStableFunc(sub, func(a, b Point) int {
			return int(a.Vec[dim]) - int(b.Vec[dim])
		})
		mid := n / 2

		var leftMax, rightMin byte
		if mid > 0 {
			leftMax = sub[mid-1].Vec[dim]
		} else {
			leftMax = f.bbox.Min[dim]
		}
		if mid < n {
			rightMin = sub[mid].Vec[dim]
		} else {
			rightMin = f.bbox.Max[dim]
		}
		pivot := clampPivot(f.bbox, dim, leftMax, rightMin)

		t.Nodes[f.heapIdx-1] = encodeInternalNode(dim, pivot)

		leftBBox := f.bbox
		leftBBox.Max[dim] = pivot
		rightBBox := f.bbox
		rightBBox.Min[dim] = pivot

		stack = append(stack,
			buildFrame{heapIdx: 2 * f.heapIdx, level: f.level + 1, bbox: leftBBox, lo: f.lo, hi: f.lo + mid},
			buildFrame{heapIdx: 2*f.heapIdx + 1, level: f.level + 1, bbox: rightBBox, lo: f.lo + mid, hi: f.hi},
		)
	}
	return t
}

func globalBBox(pts []Point) BBox {
	bbox := BBox{Min: pts[0].Vec, Max: pts[0].Vec}
	for _, p := range pts[1:] {
		for d := 0; d < Dims; d++ {
			if p.Vec[d] < bbox.Min[d] {
				bbox.Min[d] = p.Vec[d]
			}
			if p.Vec[d] > bbox.Max[d] {
				bbox.Max[d] = p.Vec[d]
			}
		}
	}
	return bbox
}

// requiredDepth returns the smallest d with (1<<(d-1)) >= count.
func requiredDepth(count int) uint32 {
	d := uint32(1)
	for (uint32(1) << (d - 1)) < uint32(count) {
		d++
	}
	return d
}

// clampPivot pushes the split point into the gap between the two subsets
// when one exists, per spec.md's "clamp(bbox.min + bbox.width/2, left_max,
// right_min)".
func clampPivot(bbox BBox, dim int, leftMax, rightMin byte) byte {
	mid := int(bbox.Min[dim]) + bbox.width(dim)/2
	if mid < int(leftMax) {
		mid = int(leftMax)
	}
	if mid > int(rightMin) {
		mid = int(rightMin)
	}
	if mid < 0 {
		mid = 0
	}
	if mid > 255 {
		mid = 255
	}
	return byte(mid)
}

func quantizeVector(v Vector, bbox BBox) [Dims]uint8 {
	var q [Dims]uint8
	for d := 0; d < Dims; d++ {
		q[d] = quantize(v[d], bbox.Min[d], bbox.Max[d])
	}
	return q
}
