//go:build unix

package bucketpool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// lockMode is one of the four logical lock modes of SPEC_FULL.md §4.1,
// encoded as shared/exclusive byte-range locks on the first two bytes of the
// pool file.
type lockMode int

const (
	lockRead lockMode = iota
	lockWrite
	lockAppend
	lockScan
)

// byteRange describes an fcntl lock over [start, start+len) of the file.
type byteRange struct {
	start int64
	len   int64
	typ   int16 // unix.F_RDLCK / F_WRLCK / F_UNLCK
}

// rangesFor returns the byte-range locks that together implement mode.
func rangesFor(mode lockMode) []byteRange {
	switch mode {
	case lockRead:
		return []byteRange{{0, 1, unix.F_RDLCK}, {1, 1, unix.F_RDLCK}}
	case lockWrite:
		return []byteRange{{0, 1, unix.F_WRLCK}, {1, 1, unix.F_WRLCK}}
	case lockAppend:
		return []byteRange{{0, 1, unix.F_WRLCK}}
	case lockScan:
		return []byteRange{{1, 1, unix.F_RDLCK}}
	default:
		panic("bucketpool: unknown lock mode")
	}
}

// acquire blocks until every byte range for mode is granted (F_SETLKW), and
// returns a release function.
func (p *Pool) acquire(mode lockMode) (release func() error, err error) {
	fd := int(p.file.Fd())
	ranges := rangesFor(mode)
	held := make([]byteRange, 0, len(ranges))
	for _, r := range ranges {
		lk := unix.Flock_t{Type: r.typ, Whence: 0, Start: r.start, Len: r.len}
		if err := unix.FcntlFlock(uintptr(fd), unix.F_SETLKW, &lk); err != nil {
			// best-effort rollback of ranges already acquired
			for _, h := range held {
				ulk := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: h.start, Len: h.len}
				unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &ulk)
			}
			return nil, fmt.Errorf("bucketpool: %s: acquire lock mode %d: %w", p.path, mode, err)
		}
		held = append(held, r)
	}
	return func() error {
		for _, r := range held {
			ulk := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: r.start, Len: r.len}
			if err := unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &ulk); err != nil {
				return fmt.Errorf("bucketpool: %s: release lock mode %d: %w", p.path, mode, err)
			}
		}
		return nil
	}, nil
}

// downgradeReadToScan releases every byte range held for the Read lock and
// then acquires Scan, so a long slurp can coexist with a concurrent Append (see
// SPEC_FULL.md §5 and spec.md §4.1 "A long streaming slurp holds Read during
// setup, then downgrades to Scan").
func (p *Pool) downgradeReadToScan(releaseRead func() error) (func() error, error) {
	if err := releaseRead(); err != nil {
		return nil, err
	}
	return p.acquire(lockScan)
}

// withLock runs fn while holding mode, releasing it (even on panic) before
// returning.
func (p *Pool) withLock(mode lockMode, fn func() error) error {
	release, err := p.acquire(mode)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil {
			log.Errorf("bucketpool: %s: failed to release lock: %v", p.path, rerr)
		}
	}()
	return fn()
}
