package kdtree

import (
	"container/heap"
	"io"
)

// searchItem is a pending subtree, ordered in the priority queue by its
// lower-bound squared distance to the query.
type searchItem struct {
	heapIdx uint32
	bbox    BBox
	lb      uint64
}

type itemHeap []searchItem

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].lb < h[j].lb }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(searchItem)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// SearchIter is a best-first nearest-neighbor search iterator over a Tree.
type SearchIter struct {
	tree      *Tree
	query     Vector
	maxDistSq uint64
	heap      itemHeap

	pending    []Point
	pendingPos int
}

// Search begins a best-first bounded-distance search for query against t.
// maxDist == DistUnlimited disables the distance bound. Results are emitted
// in non-decreasing lower-bound distance order (spec.md §4.3).
func (t *Tree) Search(query Vector, maxDist uint32) *SearchIter {
	it := &SearchIter{tree: t, query: query}
	if maxDist == DistUnlimited {
		it.maxDistSq = ^uint64(0)
	} else {
		it.maxDistSq = uint64(maxDist) * uint64(maxDist)
	}
	if len(t.Nodes) == 0 {
		return it
	}
	root := searchItem{heapIdx: 1, bbox: t.BBox, lb: distSqToBBox(query, t.BBox)}
	if root.lb <= it.maxDistSq {
		it.heap = itemHeap{root}
	}
	return it
}

// Next returns the next (oid, squared-distance) result, or io.EOF when the
// search is exhausted.
func (it *SearchIter) Next() (oid uint32, dist uint64, err error) {
	for {
		if it.pendingPos < len(it.pending) {
			p := it.pending[it.pendingPos]
			it.pendingPos++
			return p.OID, distSq(it.query, p.Vec), nil
		}
		if len(it.heap) == 0 {
			return 0, 0, io.EOF
		}
		item := heap.Pop(&it.heap).(searchItem)
		word := it.tree.Nodes[item.heapIdx-1]
		if isLeafNode(word) {
			it.pending, it.pendingPos = it.leafPoints(word), 0
			continue
		}

		dim, pivot := decodeInternalNode(word)
		leftBBox := item.bbox
		leftBBox.Max[dim] = pivot
		rightBBox := item.bbox
		rightBBox.Min[dim] = pivot

		left := searchItem{heapIdx: 2 * item.heapIdx, bbox: leftBBox, lb: distSqToBBox(it.query, leftBBox)}
		right := searchItem{heapIdx: 2*item.heapIdx + 1, bbox: rightBBox, lb: distSqToBBox(it.query, rightBBox)}
		if left.lb <= it.maxDistSq {
			heap.Push(&it.heap, left)
		}
		if right.lb <= it.maxDistSq {
			heap.Push(&it.heap, right)
		}
	}
}

// leafPoints walks a leaf list starting at the node's leaf index, filtering
// to those within maxDistSq, de-quantizing each entry's position against the
// tight bbox it was quantized against (not the wider bbox of the descent
// path that led to this leaf).
func (it *SearchIter) leafPoints(word uint32) []Point {
	var pts []Point
	for i := leafStartOf(word); ; i++ {
		e := it.tree.Leaves[i]
		var v Vector
		for d := 0; d < Dims; d++ {
			v[d] = dequantize(e.quant[d], e.bbox.Min[d], e.bbox.Max[d])
		}
		if distSq(it.query, v) <= it.maxDistSq {
			pts = append(pts, Point{OID: e.oid, Vec: v})
		}
		if e.last {
			break
		}
	}
	return pts
}
