// Package kdtreefile reads and writes the k-d tree on-disk format of
// spec.md §6: little-endian count/depth/bbox/nodes/leaves, mirroring
// store/freelist/freelist.go's explicit binary.LittleEndian style rather
// than struct casts (spec.md §9 endianness note).
//
// Each leaf record carries its own tight bbox (12 bytes, min[6]/max[6])
// alongside the flags/oid pair spec.md §6 names: a leaf's quantized position
// is defined relative to "the leaf's bbox" (spec.md line 59), which is
// generally tighter than the bbox inherited from the split path down to it,
// so it must be stored rather than re-derived during a read.
package kdtreefile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rpcpool/imgdup/pkg/kdtree"
)

// Write serializes t to w in the format:
//
//	u32 count
//	u32 depth
//	bbox: 12 bytes (min[6], max[6])
//	nodes[(1<<depth)-1]: each u32
//	leaves[count]: each 20 bytes (u32 flags, u32 oid, bbox min[6], bbox max[6])
func Write(w io.Writer, t *kdtree.Tree) error {
	count := uint32(len(t.Leaves))
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], count)
	binary.LittleEndian.PutUint32(hdr[4:8], t.Depth)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("kdtreefile: write header: %w", err)
	}

	var bbox [12]byte
	copy(bbox[0:6], t.BBox.Min[:])
	copy(bbox[6:12], t.BBox.Max[:])
	if _, err := w.Write(bbox[:]); err != nil {
		return fmt.Errorf("kdtreefile: write bbox: %w", err)
	}

	nodeBuf := make([]byte, 4*len(t.Nodes))
	for i, n := range t.Nodes {
		binary.LittleEndian.PutUint32(nodeBuf[4*i:], n)
	}
	if _, err := w.Write(nodeBuf); err != nil {
		return fmt.Errorf("kdtreefile: write nodes: %w", err)
	}

	const leafRecordSize = 20
	leafBuf := make([]byte, leafRecordSize*len(t.Leaves))
	for i, e := range t.Leaves {
		flags, oid, bboxMin, bboxMax := kdtree.EncodeLeafEntry(e)
		off := leafRecordSize * i
		binary.LittleEndian.PutUint32(leafBuf[off:], flags)
		binary.LittleEndian.PutUint32(leafBuf[off+4:], oid)
		copy(leafBuf[off+8:off+14], bboxMin[:])
		copy(leafBuf[off+14:off+20], bboxMax[:])
	}
	if _, err := w.Write(leafBuf); err != nil {
		return fmt.Errorf("kdtreefile: write leaves: %w", err)
	}
	return nil
}

// Read deserializes a Tree from r.
func Read(r io.Reader) (*kdtree.Tree, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("kdtreefile: read header: %w", err)
	}
	count := binary.LittleEndian.Uint32(hdr[0:4])
	depth := binary.LittleEndian.Uint32(hdr[4:8])

	var bbox [12]byte
	if _, err := io.ReadFull(r, bbox[:]); err != nil {
		return nil, fmt.Errorf("kdtreefile: read bbox: %w", err)
	}
	t := &kdtree.Tree{Depth: depth}
	copy(t.BBox.Min[:], bbox[0:6])
	copy(t.BBox.Max[:], bbox[6:12])

	nodeCount := 0
	if depth > 0 {
		nodeCount = int(uint32(1)<<depth) - 1
	}
	nodeBuf := make([]byte, 4*nodeCount)
	if _, err := io.ReadFull(r, nodeBuf); err != nil {
		return nil, fmt.Errorf("kdtreefile: read nodes: %w", err)
	}
	t.Nodes = make([]uint32, nodeCount)
	for i := range t.Nodes {
		t.Nodes[i] = binary.LittleEndian.Uint32(nodeBuf[4*i:])
	}

	const leafRecordSize = 20
	leafBuf := make([]byte, leafRecordSize*int(count))
	if _, err := io.ReadFull(r, leafBuf); err != nil {
		return nil, fmt.Errorf("kdtreefile: read leaves: %w", err)
	}
	t.Leaves = make([]kdtree.LeafEntry, count)
	for i := range t.Leaves {
		off := leafRecordSize * i
		flags := binary.LittleEndian.Uint32(leafBuf[off:])
		oid := binary.LittleEndian.Uint32(leafBuf[off+4:])
		var bboxMin, bboxMax kdtree.Vector
		copy(bboxMin[:], leafBuf[off+8:off+14])
		copy(bboxMax[:], leafBuf[off+14:off+20])
		t.Leaves[i] = kdtree.DecodeLeafEntry(flags, oid, bboxMin, bboxMax)
	}
	return t, nil
}
