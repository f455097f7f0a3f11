package bucketpool

import (
	"bufio"
	"fmt"
	"io"
)

// writerState tracks the single in-flight Create across the Append lock's
// two-phase commit (write-incomplete, flush, rewrite-header), mirroring
// GsfaPrimary's writer/file-offset bookkeeping in gsfaprimary.go.
type writerState struct {
	pool      *Pool
	release   func() error
	startOff  int64
	typ       Type
	buf       *bufio.Writer
	written   uint32
	committed bool
}

// Create begins a new bucket of the given content type and returns a Writer
// to stream its payload through. The Append lock is held until CreateEnd (or
// Abort) is called.
func (p *Pool) Create(typ Type) (*Writer, error) {
	if !p.writeable {
		return nil, ErrNotWriteable
	}
	p.mu.Lock()
	if p.writer != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("bucketpool: %s: a bucket is already being created", p.path)
	}
	release, err := p.acquire(lockAppend)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	size, err := p.fileSize()
	if err != nil {
		release()
		p.mu.Unlock()
		return nil, err
	}
	if size%Align != 0 {
		release()
		p.mu.Unlock()
		return nil, fmt.Errorf("bucketpool: %s: append position %d is not aligned: %w", p.path, size, ErrCorrupt)
	}

	var incomplete [HeaderSize]byte
	putLeUint32(incomplete[0:4], MagicIncomplete)
	putLeUint32(incomplete[4:8], uint32(OIDDeleted))
	putLeUint32(incomplete[8:12], 0)
	putLeUint32(incomplete[12:16], uint32(typ))
	if _, err := p.file.WriteAt(incomplete[:], size); err != nil {
		release()
		p.mu.Unlock()
		return nil, fmt.Errorf("bucketpool: %s: write incomplete header at %d: %w", p.path, size, err)
	}
	if _, err := p.file.Seek(size+HeaderSize, io.SeekStart); err != nil {
		release()
		p.mu.Unlock()
		return nil, fmt.Errorf("bucketpool: %s: seek to payload at %d: %w", p.path, size+HeaderSize, err)
	}

	ws := &writerState{
		pool:     p,
		release:  release,
		startOff: size,
		typ:      typ,
		buf:      newBufferedWriter(p.file, p.cfg.BufSize),
	}
	p.writer = ws
	p.mu.Unlock()
	return &Writer{ws: ws}, nil
}

// Writer is a streaming append handle returned by Create.
type Writer struct {
	ws *writerState
}

// Write streams payload bytes into the pending bucket.
func (w *Writer) Write(b []byte) (int, error) {
	if w.ws.committed {
		return 0, fmt.Errorf("bucketpool: write after CreateEnd")
	}
	n, err := w.ws.buf.Write(b)
	w.ws.written += uint32(n)
	if err != nil {
		return n, fmt.Errorf("bucketpool: %s: streaming payload write: %w", w.ws.pool.path, err)
	}
	return n, nil
}

// CreateEnd commits the bucket: flush payload, pad to alignment, write the
// trailer, then pwrite the real LIVE header at the start offset. Returns the
// committed header, including the assigned OID.
func (w *Writer) CreateEnd() (Header, error) {
	ws := w.ws
	p := ws.pool
	defer func() {
		p.mu.Lock()
		p.writer = nil
		p.mu.Unlock()
		if err := ws.release(); err != nil {
			log.Errorf("bucketpool: %s: failed to release append lock: %v", p.path, err)
		}
	}()

	if err := ws.buf.Flush(); err != nil {
		return Header{}, fmt.Errorf("bucketpool: %s: flush payload: %w", p.path, err)
	}

	aligned := AlignedSize(ws.written)
	padLen := aligned - int64(HeaderSize) - int64(ws.written) - int64(TrailerSize)
	if padLen > 0 {
		pad := make([]byte, padLen)
		if _, err := p.file.WriteAt(pad, ws.startOff+int64(HeaderSize)+int64(ws.written)); err != nil {
			return Header{}, fmt.Errorf("bucketpool: %s: write padding: %w", p.path, err)
		}
	}
	var trailer [TrailerSize]byte
	putLeUint32(trailer[:], Trailer)
	trailerOff := ws.startOff + aligned - TrailerSize
	if _, err := p.file.WriteAt(trailer[:], trailerOff); err != nil {
		return Header{}, fmt.Errorf("bucketpool: %s: write trailer: %w", p.path, err)
	}

	oid := oidOf(ws.startOff)
	var hdr [HeaderSize]byte
	putLeUint32(hdr[0:4], MagicLive)
	putLeUint32(hdr[4:8], uint32(oid))
	putLeUint32(hdr[8:12], ws.written)
	putLeUint32(hdr[12:16], uint32(ws.typ))
	if _, err := p.file.WriteAt(hdr[:], ws.startOff); err != nil {
		return Header{}, fmt.Errorf("bucketpool: %s: commit live header: %w", p.path, err)
	}
	ws.committed = true

	return Header{Magic: MagicLive, OID: oid, Length: ws.written, Type: ws.typ}, nil
}

// Abort discards a pending Create, leaving an INCOMPLETE header behind for
// fsck to repair (spec.md §7's documented recoverable crash path).
func (w *Writer) Abort() error {
	ws := w.ws
	p := ws.pool
	p.mu.Lock()
	p.writer = nil
	p.mu.Unlock()
	return ws.release()
}
