package bucketpool

import (
	"fmt"
	"io"
)

// FindByOID looks up the header for oid. oid must be below OIDFirstSpecial.
// A magic or backlink mismatch is a fatal structural error.
func (p *Pool) FindByOID(oid OID) (Header, error) {
	if oid >= OIDFirstSpecial {
		return Header{}, ErrSpecialOID
	}
	offset := Offset(oid)
	h, err := p.readHeaderAt(offset)
	if err != nil {
		return Header{}, err
	}
	if err := p.verifyLive(h, offset); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Reader is a bounded streaming view over a bucket's payload, exposing
// exactly Header.Length bytes starting at offset+HeaderSize.
type Reader struct {
	pool      *Pool
	dataStart int64
	length    int64
	alignedEnd int64
	pos       int64
	bufSize   int
}

// Fetch returns a streaming reader over the payload of the bucket whose
// header was read at offset.
func (p *Pool) Fetch(h Header, offset int64) *Reader {
	bufSize := p.cfg.BufSize
	if bufSize <= 0 {
		bufSize = DefaultConfig().BufSize
	}
	return &Reader{
		pool:       p,
		dataStart:  offset + HeaderSize,
		length:     int64(h.Length),
		alignedEnd: offset + AlignedSize(h.Length),
		bufSize:    bufSize,
	}
}

// Read implements io.Reader, refilling from the pool file via positional
// reads. On the final refill that includes the last 4 bytes of the aligned
// extent, the trailer is verified and the stream fails if it is missing.
func (r *Reader) Read(p []byte) (int, error) {
	if r.pos >= r.length {
		return 0, io.EOF
	}
	remaining := r.length - r.pos
	want := len(p)
	if int64(want) > remaining {
		want = int(remaining)
	}
	if r.bufSize > 0 && want > r.bufSize {
		want = r.bufSize
	}
	n, err := r.pool.file.ReadAt(p[:want], r.dataStart+r.pos)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("bucketpool: %s: read payload at %d: %w", r.pool.path, r.dataStart+r.pos, err)
	}
	r.pos += int64(n)
	if r.pos >= r.length {
		if err := r.verifyTrailerIfReached(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (r *Reader) verifyTrailerIfReached() error {
	var trailer [TrailerSize]byte
	if _, err := r.pool.file.ReadAt(trailer[:], r.alignedEnd-TrailerSize); err != nil {
		return fmt.Errorf("bucketpool: %s: reading trailer at end of stream: %w", r.pool.path, err)
	}
	if leUint32(trailer[:]) != Trailer {
		return fmt.Errorf("bucketpool: %s: trailer missing at end of fetch stream: %w", r.pool.path, ErrTrailerMissing)
	}
	return nil
}

// Len returns the total payload length exposed by this reader.
func (r *Reader) Len() int64 { return r.length }

// ReadAll drains the reader into a single byte slice.
func (r *Reader) ReadAll() ([]byte, error) {
	buf := make([]byte, r.length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
