package bucketpool

import (
	"fmt"
	"io"
)

// findState tracks the sequential find_first/find_next cursor, per
// SPEC_FULL.md §9's "coroutine-style iterators" note: an explicit iterator
// object holding (active, offset), not a generator.
type findState struct {
	active bool
	offset int64
}

// FindFirst positions the iterator at the first bucket (optionally including
// tombstones) and returns its header and offset. Returns ErrIterationDone on
// an empty pool.
func (p *Pool) FindFirst(full bool) (Header, int64, error) {
	p.findIter = findState{active: true, offset: 0}
	return p.findNextFrom(full)
}

// FindNext advances the iterator and returns the next bucket.
func (p *Pool) FindNext(full bool) (Header, int64, error) {
	if !p.findIter.active {
		return Header{}, 0, fmt.Errorf("bucketpool: FindNext called before FindFirst")
	}
	return p.findNextFrom(full)
}

func (p *Pool) findNextFrom(full bool) (Header, int64, error) {
	size, err := p.fileSize()
	if err != nil {
		return Header{}, 0, err
	}
	for {
		if p.findIter.offset >= size {
			p.findIter.active = false
			return Header{}, 0, ErrIterationDone
		}
		offset := p.findIter.offset
		h, err := p.readHeaderAt(offset)
		if err != nil {
			return Header{}, 0, err
		}
		if err := p.verifyLive(h, offset); err != nil {
			return Header{}, 0, err
		}
		p.findIter.offset = offset + AlignedSize(h.Length)
		if h.OID == OIDDeleted && !full {
			continue
		}
		return h, offset, nil
	}
}

// SlurpIterator is a streaming full-pool scan that downgrades Read to Scan
// after snapshotting the file size, so a concurrent Append can keep
// progressing (spec.md §4.1/§5).
type SlurpIterator struct {
	pool     *Pool
	release  func() error
	snapSize int64
	offset   int64
	cur      *Reader
}

// SlurpPool begins a streaming scan of every live bucket in file order.
func (p *Pool) SlurpPool() (*SlurpIterator, error) {
	release, err := p.acquire(lockRead)
	if err != nil {
		return nil, err
	}
	size, err := p.fileSize()
	if err != nil {
		release()
		return nil, err
	}
	scanRelease, err := p.downgradeReadToScan(release)
	if err != nil {
		return nil, err
	}
	return &SlurpIterator{pool: p, release: scanRelease, snapSize: size}, nil
}

// Next returns the next (header, reader) pair, or io.EOF when the snapshot
// is exhausted. The previous reader must be fully consumed before calling
// Next again.
func (it *SlurpIterator) Next() (Header, *Reader, error) {
	if it.cur != nil && it.cur.pos < it.cur.length {
		return Header{}, nil, ErrReaderNotExhausted
	}
	for {
		if it.offset >= it.snapSize {
			return Header{}, nil, io.EOF
		}
		offset := it.offset
		h, err := it.pool.readHeaderAt(offset)
		if err != nil {
			return Header{}, nil, err
		}
		if err := it.pool.verifyLive(h, offset); err != nil {
			return Header{}, nil, err
		}
		it.offset = offset + AlignedSize(h.Length)
		if h.OID == OIDDeleted {
			continue
		}
		r := it.pool.Fetch(h, offset)
		it.cur = r
		return h, r, nil
	}
}

// Close releases the Scan lock held by the iterator.
func (it *SlurpIterator) Close() error {
	return it.release()
}

// Delete rewrites only the in-place header of oid, setting OID=OIDDeleted.
// The payload is left untouched until the next Shakedown.
func (p *Pool) Delete(oid OID) error {
	if !p.writeable {
		return ErrNotWriteable
	}
	return p.withLock(lockWrite, func() error {
		offset := Offset(oid)
		h, err := p.readHeaderAt(offset)
		if err != nil {
			return err
		}
		if err := p.verifyLive(h, offset); err != nil {
			return err
		}
		if h.OID == OIDDeleted {
			return nil
		}
		var oidBuf [4]byte
		putLeUint32(oidBuf[:], uint32(OIDDeleted))
		if _, err := p.file.WriteAt(oidBuf[:], offset+4); err != nil {
			return fmt.Errorf("bucketpool: %s: delete oid %d: %w", p.path, oid, err)
		}
		return nil
	})
}
