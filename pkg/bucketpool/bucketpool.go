// Package bucketpool implements a single-file, content-addressed,
// append-only object store: the "bucket pool" of SPEC_FULL.md §4.1.
//
// Every record ("bucket") is a 16-byte header, a payload, zero padding, and a
// 4-byte trailer, aligned to 128 bytes. A bucket's object id (OID) encodes
// its file offset: file_offset = oid << 7. Multiple processes may share a
// pool file; cross-process exclusion is provided by advisory byte-range
// locks on the first two bytes of the file (see lock_unix.go).
package bucketpool

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("bucketpool")

// OID is a 32-bit object handle. A live OID encodes file_offset>>7.
type OID uint32

const (
	// Shift is the number of bits an OID is shifted left to produce a file
	// offset: buckets are aligned to 1<<Shift bytes.
	Shift = 7
	// Align is the bucket alignment in bytes (128).
	Align = 1 << Shift

	// OIDDeleted marks a tombstoned bucket.
	OIDDeleted OID = 0xFFFFFFFF
	// OIDFirstSpecial is the first reserved/sentinel OID; values at or above
	// this are never valid live bucket ids.
	OIDFirstSpecial OID = 0xFFFF0000

	// MagicLive marks a committed, readable bucket.
	MagicLive uint32 = 0xDEADF00D
	// MagicIncomplete marks a bucket whose append was interrupted before the
	// final header commit.
	MagicIncomplete uint32 = 0x0DEADFEE
	// Trailer is the 4-byte marker written as the last word of every
	// aligned bucket extent.
	Trailer uint32 = 0xFEEDCAFE

	// HeaderSize is the fixed size, in bytes, of a bucket header.
	HeaderSize = 16
	// TrailerSize is the size, in bytes, of the trailer marker.
	TrailerSize = 4
)

// Type is the content type tag stored in a bucket header. Values below
// 0x80000000 are reserved for compatibility with older pool formats.
type Type uint32

const (
	TypeCompat    Type = 0x7fffffff // and below: buckets written by older versions
	TypePlain     Type = 0x80000000
	TypeV30       Type = 0x80000001
	TypeV30C      Type = 0x80000002
	TypeV33       Type = 0x80000003
	TypeV33Lizard Type = 0x80000004
)

// Header is the fixed 16-byte record placed at the start of every bucket.
type Header struct {
	Magic  uint32
	OID    OID
	Length uint32
	Type   Type
}

// AlignedSize returns the total on-disk size of a bucket with the given
// payload length: header + payload + padding + trailer, rounded up to Align.
func AlignedSize(length uint32) int64 {
	return alignUp(int64(HeaderSize) + int64(length) + int64(TrailerSize))
}

func alignUp(n int64) int64 {
	return (n + Align - 1) &^ (Align - 1)
}

// Offset returns the file offset corresponding to oid.
func Offset(oid OID) int64 {
	return int64(oid) << Shift
}

// oidOf returns the OID corresponding to a 128-byte-aligned file offset.
func oidOf(offset int64) OID {
	return OID(offset >> Shift)
}

// Config carries the tunable buffer sizes from SPEC_FULL.md §6.
type Config struct {
	BufSize       int // reader/writer buffer, default 64 KiB
	ShakeBufSize  int // shakedown working buffer, default 1 MiB
	ShakeSecurity int // 0 none, 1 ordered writes, 2 fdatasync barriers
	SlurpBufSize  int // slurp window, default 64 KiB
	DefaultType   Type
}

// DefaultConfig returns the configuration defaults named in SPEC_FULL.md §6.
func DefaultConfig() Config {
	return Config{
		BufSize:       64 * 1024,
		ShakeBufSize:  1 << 20,
		ShakeSecurity: 0,
		SlurpBufSize:  64 * 1024,
		DefaultType:   TypeV33,
	}
}

// Pool is a handle over one open bucket pool file. It owns the file
// descriptor and carries no other process-global state, per SPEC_FULL.md's
// "pool handle struct" design note.
type Pool struct {
	path      string
	file      *os.File
	writeable bool
	cfg       Config

	mu       sync.Mutex // serializes in-process callers; fcntl locks serialize across processes
	writer   *writerState
	findIter findState
}

// Open opens (or creates, if writeable) the pool file at path.
func Open(path string, writeable bool, cfg Config) (*Pool, error) {
	flag := os.O_RDONLY
	if writeable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("bucketpool: open %s: %w", path, err)
	}
	p := &Pool{path: path, file: f, writeable: writeable, cfg: cfg}
	if err := p.sanityCheck(); err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

// Path returns the path the pool was opened from.
func (p *Pool) Path() string { return p.path }

// Close closes the underlying file. An uncommitted writer is neither flushed
// nor committed; Close only logs a warning about it.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		log.Warnf("bucketpool %s: closing with an uncommitted writer open", p.path)
	}
	return p.file.Close()
}

// sanityCheck verifies the EOF invariant of spec.md §8: either the file is
// empty, or its last 4 bytes equal Trailer.
func (p *Pool) sanityCheck() error {
	size, err := p.fileSize()
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	if size%Align != 0 {
		return fmt.Errorf("bucketpool: %s: file size %d is not %d-aligned: %w", p.path, size, Align, ErrCorrupt)
	}
	var trailer [TrailerSize]byte
	if _, err := p.file.ReadAt(trailer[:], size-TrailerSize); err != nil {
		return fmt.Errorf("bucketpool: %s: reading trailer: %w", p.path, err)
	}
	if leUint32(trailer[:]) != Trailer {
		return fmt.Errorf("bucketpool: %s: missing trailer marker at EOF: %w", p.path, ErrTrailerMissing)
	}
	return nil
}

func (p *Pool) fileSize() (int64, error) {
	fi, err := p.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("bucketpool: stat %s: %w", p.path, err)
	}
	return fi.Size(), nil
}

// readHeaderAt reads and validates the header at the given offset.
func (p *Pool) readHeaderAt(offset int64) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := p.file.ReadAt(buf[:], offset); err != nil {
		return Header{}, fmt.Errorf("bucketpool: %s: read header at %d: %w", p.path, offset, err)
	}
	h := Header{
		Magic:  leUint32(buf[0:4]),
		OID:    OID(leUint32(buf[4:8])),
		Length: leUint32(buf[8:12]),
		Type:   Type(leUint32(buf[12:16])),
	}
	return h, nil
}

// verifyLive validates a header read at offset against spec.md invariant 1.
func (p *Pool) verifyLive(h Header, offset int64) error {
	if h.Magic != MagicLive {
		return fmt.Errorf("bucketpool: %s: bad magic %#x at offset %d: %w", p.path, h.Magic, offset, ErrCorrupt)
	}
	want := oidOf(offset)
	if h.OID != want && h.OID != OIDDeleted {
		return fmt.Errorf("bucketpool: %s: backlink mismatch at offset %d: header says oid %d, want %d: %w", p.path, offset, h.OID, want, ErrCorrupt)
	}
	aligned := AlignedSize(h.Length)
	var trailer [TrailerSize]byte
	if _, err := p.file.ReadAt(trailer[:], offset+aligned-TrailerSize); err != nil {
		return fmt.Errorf("bucketpool: %s: reading trailer for bucket at %d: %w", p.path, offset, err)
	}
	if leUint32(trailer[:]) != Trailer {
		return fmt.Errorf("bucketpool: %s: missing trailer for bucket at %d: %w", p.path, offset, ErrTrailerMissing)
	}
	return nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// newBufferedWriter wraps f in a buffered writer sized per cfg.BufSize.
func newBufferedWriter(f *os.File, size int) *bufio.Writer {
	if size <= 0 {
		size = DefaultConfig().BufSize
	}
	return bufio.NewWriterSize(f, size)
}
