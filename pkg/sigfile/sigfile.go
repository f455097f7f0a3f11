// Package sigfile reads and writes the per-pass signature file format of
// spec.md §6: a sequential little-endian stream of (oid, vector, region
// list) records, mirroring pkg/kdtreefile's explicit binary.LittleEndian
// style rather than struct casts (spec.md §9 endianness note), itself
// grounded on store/freelist/freelist.go's field-at-a-time encoding.
package sigfile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rpcpool/imgdup/pkg/signature"
)

// Record is one (oid, signature) pair as stored in the file.
type Record struct {
	OID uint32
	Sig signature.Signature
}

const recordFixedSize = 4 + signature.Len + 1 // oid + f[6] + region_len

// Writer appends records to a signature file, writing the count field
// provisionally as 0 and rewriting it with the true count on Close, per
// spec.md §6.
type Writer struct {
	w     io.WriteSeeker
	count uint32
}

// NewWriter writes the provisional zero count and returns a Writer
// positioned to append records.
func NewWriter(w io.WriteSeeker) (*Writer, error) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 0)
	if _, err := w.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("sigfile: write provisional count: %w", err)
	}
	return &Writer{w: w}, nil
}

// Append writes one record.
func (wr *Writer) Append(rec Record) error {
	if len(rec.Sig.Regions) > 255 {
		return fmt.Errorf("sigfile: record oid %d has %d regions, max 255", rec.OID, len(rec.Sig.Regions))
	}
	buf := make([]byte, recordFixedSize+16*len(rec.Sig.Regions))
	binary.LittleEndian.PutUint32(buf[0:4], rec.OID)
	copy(buf[4:4+signature.Len], rec.Sig.Vec[:])
	buf[4+signature.Len] = byte(len(rec.Sig.Regions))
	off := recordFixedSize
	for _, r := range rec.Sig.Regions {
		copy(buf[off:off+16], r[:])
		off += 16
	}
	if _, err := wr.w.Write(buf); err != nil {
		return fmt.Errorf("sigfile: write record oid %d: %w", rec.OID, err)
	}
	wr.count++
	return nil
}

// Close rewrites the count field with the true number of records appended.
func (wr *Writer) Close() error {
	if _, err := wr.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("sigfile: seek to rewrite count: %w", err)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], wr.count)
	if _, err := wr.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("sigfile: rewrite count: %w", err)
	}
	return nil
}

// Reader sequentially decodes records from a signature file.
type Reader struct {
	r     io.Reader
	count uint32
	read  uint32
}

// NewReader reads the header and returns a Reader positioned at the first
// record.
func NewReader(r io.Reader) (*Reader, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("sigfile: read count: %w", err)
	}
	return &Reader{r: r, count: binary.LittleEndian.Uint32(hdr[:])}, nil
}

// Count returns the header's record count.
func (rd *Reader) Count() uint32 { return rd.count }

// Next decodes the next record, returning io.EOF once Count records have
// been read.
func (rd *Reader) Next() (Record, error) {
	if rd.read >= rd.count {
		return Record{}, io.EOF
	}
	var fixed [recordFixedSize]byte
	if _, err := io.ReadFull(rd.r, fixed[:]); err != nil {
		return Record{}, fmt.Errorf("sigfile: read record %d header: %w", rd.read, err)
	}
	rec := Record{OID: binary.LittleEndian.Uint32(fixed[0:4])}
	copy(rec.Sig.Vec[:], fixed[4:4+signature.Len])
	regionLen := int(fixed[4+signature.Len])
	if regionLen > 0 {
		rec.Sig.Regions = make([]signature.Region, regionLen)
		regionBuf := make([]byte, 16*regionLen)
		if _, err := io.ReadFull(rd.r, regionBuf); err != nil {
			return Record{}, fmt.Errorf("sigfile: read record %d regions: %w", rd.read, err)
		}
		for i := range rec.Sig.Regions {
			copy(rec.Sig.Regions[i][:], regionBuf[16*i:16*i+16])
		}
	}
	rd.read++
	return rec, nil
}

// ReadAll decodes every record in the file.
func ReadAll(r io.Reader) ([]Record, error) {
	rd, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, rd.Count())
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
