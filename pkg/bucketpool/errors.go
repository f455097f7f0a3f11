package bucketpool

import "fmt"

// errorType gives comparison-stable sentinel errors, mirroring
// store/types/errors.go's `type errorType string`.
type errorType string

func (e errorType) Error() string { return string(e) }

const (
	// ErrCorrupt indicates a structural invariant of the pool file was
	// violated (bad magic, bad backlink, misaligned offset).
	ErrCorrupt = errorType("bucketpool: pool file is corrupt")
	// ErrTrailerMissing indicates the 0xFEEDCAFE trailer marker was not
	// found where expected.
	ErrTrailerMissing = errorType("bucketpool: trailer marker missing")
	// ErrNotWriteable is returned by mutating operations on a read-only pool.
	ErrNotWriteable = errorType("bucketpool: pool was not opened writeable")
	// ErrReaderNotExhausted is returned when the iterator is advanced before
	// the previous bucket's reader has been fully consumed.
	ErrReaderNotExhausted = errorType("bucketpool: previous bucket reader was not exhausted")
	// ErrSpecialOID is returned when an operation is attempted on a reserved
	// or sentinel OID.
	ErrSpecialOID = errorType("bucketpool: oid is reserved or a tombstone")
	// ErrIterationDone is returned by FindNext/FindFirst at end of pool.
	ErrIterationDone = errorType("bucketpool: end of pool")
)

// ErrBadLength reports a record size mismatch during writing or overwrite.
type ErrBadLength struct {
	Want, Got int
}

func (e ErrBadLength) Error() string {
	return fmt.Sprintf("bucketpool: expected record length %d, got %d", e.Want, e.Got)
}

// ErrShortIO reports a short read/write at a given offset.
type ErrShortIO struct {
	Op     string
	Offset int64
	Want   int
	Got    int
}

func (e ErrShortIO) Error() string {
	return fmt.Sprintf("bucketpool: short %s at offset %d: wanted %d bytes, got %d", e.Op, e.Offset, e.Want, e.Got)
}
