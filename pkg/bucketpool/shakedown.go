package bucketpool

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// KibitzAction is the fate a kibitz callback assigns to a bucket during
// Shakedown.
type KibitzAction int

const (
	// KibitzKeep copies the bucket forward unchanged.
	KibitzKeep KibitzAction = iota
	// KibitzKeepModified copies the bucket forward with a (possibly
	// shorter) rewritten payload.
	KibitzKeepModified
	// KibitzDrop discards the bucket; its space is reclaimed.
	KibitzDrop
)

// KibitzFunc decides the fate of each bucket visited during Shakedown. It is
// given the old header, the OID the bucket would be assigned at its new
// offset, and the bucket's current payload. For KibitzKeepModified it must
// return the replacement payload.
type KibitzFunc func(old Header, newOID OID, payload []byte) (KibitzAction, []byte, error)

// Shakedown reclaims deleted space and reassigns OIDs by rewriting the pool
// file in place, per spec.md §4.1. It is a single-writer operation: the
// Write lock is held for its entire duration.
func (p *Pool) Shakedown(kibitz KibitzFunc) error {
	if !p.writeable {
		return ErrNotWriteable
	}
	runID := uuid.NewString()
	return p.withLock(lockWrite, func() error {
		return p.shakedownLocked(kibitz, runID)
	})
}

func (p *Pool) shakedownLocked(kibitz KibitzFunc, runID string) error {
	size, err := p.fileSize()
	if err != nil {
		return err
	}

	bufSize := p.cfg.ShakeBufSize
	if bufSize <= 0 {
		bufSize = DefaultConfig().ShakeBufSize
	}
	buf := make([]byte, bufSize)

	var r, w int64

	log.Infof("bucketpool %s: shakedown %s starting, size=%d", p.path, runID, size)

	for r < size {
		h, err := p.readHeaderAt(r)
		if err != nil {
			return p.eraseAndAbort(w, r, fmt.Errorf("shakedown %s: read header at %d: %w", runID, r, err))
		}
		if err := p.verifyLive(h, r); err != nil {
			return p.eraseAndAbort(w, r, fmt.Errorf("shakedown %s: %w", runID, err))
		}
		oldAligned := AlignedSize(h.Length)
		if r+oldAligned > size {
			return p.eraseAndAbort(w, r, fmt.Errorf("shakedown %s: bucket at %d extends past EOF: %w", runID, r, io.ErrUnexpectedEOF))
		}

		if int64(cap(buf)) < int64(h.Length) {
			buf = make([]byte, h.Length)
		}
		payload := buf[:h.Length]
		if h.Length > 0 {
			if _, err := p.file.ReadAt(payload, r+HeaderSize); err != nil {
				return p.eraseAndAbort(w, r, fmt.Errorf("shakedown %s: read payload at %d: %w", runID, r, err))
			}
		}

		newOID := oidOf(w)
		action, newPayload, err := kibitz(h, newOID, payload)
		if err != nil {
			return p.eraseAndAbort(w, r, fmt.Errorf("shakedown %s: kibitz callback: %w", runID, err))
		}

		switch action {
		case KibitzDrop:
			r += oldAligned
			continue
		case KibitzKeep:
			newPayload = payload
		case KibitzKeepModified:
			// newPayload as returned, possibly shorter than payload.
		default:
			return p.eraseAndAbort(w, r, fmt.Errorf("shakedown %s: unknown kibitz action %d", runID, action))
		}

		if err := p.rewriteBucketAt(w, h.Type, newOID, newPayload, runID); err != nil {
			return p.eraseAndAbort(w, r, err)
		}
		w += AlignedSize(uint32(len(newPayload)))
		r += oldAligned
	}

	if err := p.file.Truncate(w); err != nil {
		return fmt.Errorf("bucketpool: %s: shakedown %s: truncate to %d: %w", p.path, runID, w, err)
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("bucketpool: %s: shakedown %s: sync: %w", p.path, runID, err)
	}
	log.Infof("bucketpool %s: shakedown %s done, new size=%d", p.path, runID, w)
	return nil
}

// rewriteBucketAt writes a kept (possibly modified) bucket at offset w,
// backing up the region first in security mode.
func (p *Pool) rewriteBucketAt(w int64, typ Type, oid OID, payload []byte, runID string) error {
	aligned := AlignedSize(uint32(len(payload)))
	block := make([]byte, aligned)
	putLeUint32(block[0:4], MagicLive)
	putLeUint32(block[4:8], uint32(oid))
	putLeUint32(block[8:12], uint32(len(payload)))
	putLeUint32(block[12:16], uint32(typ))
	copy(block[HeaderSize:], payload)
	putLeUint32(block[aligned-TrailerSize:], Trailer)

	if p.cfg.ShakeSecurity >= 1 {
		if err := p.backupRegion(block, runID); err != nil {
			return err
		}
	}
	if _, err := p.file.WriteAt(block, w); err != nil {
		return fmt.Errorf("bucketpool: %s: shakedown %s: rewrite bucket at %d: %w", p.path, runID, w, err)
	}
	return nil
}

// backupRegion appends a copy of a pending rewrite to the end of the file
// before the in-place overwrite happens, per spec.md's security mode.
func (p *Pool) backupRegion(block []byte, runID string) error {
	size, err := p.fileSize()
	if err != nil {
		return err
	}
	if _, err := p.file.WriteAt(block, size); err != nil {
		return fmt.Errorf("bucketpool: %s: shakedown %s: write security backup: %w", p.path, runID, err)
	}
	if p.cfg.ShakeSecurity >= 2 {
		if err := p.file.Sync(); err != nil {
			return fmt.Errorf("bucketpool: %s: shakedown %s: fdatasync security backup: %w", p.path, runID, err)
		}
	}
	return nil
}

// writeDeletedSpan writes a single synthetic OID_DELETED bucket covering
// exactly spanBytes (which must be Align-aligned) at offset w.
func (p *Pool) writeDeletedSpan(w, spanBytes int64) error {
	if spanBytes%Align != 0 {
		return fmt.Errorf("bucketpool: %s: deleted span %d at %d is not %d-aligned: %w", p.path, spanBytes, w, Align, ErrCorrupt)
	}
	length := uint32(spanBytes - HeaderSize - TrailerSize)
	block := make([]byte, spanBytes)
	putLeUint32(block[0:4], MagicLive)
	putLeUint32(block[4:8], uint32(OIDDeleted))
	putLeUint32(block[8:12], length)
	putLeUint32(block[12:16], uint32(TypePlain))
	putLeUint32(block[spanBytes-TrailerSize:], Trailer)
	if _, err := p.file.WriteAt(block, w); err != nil {
		return fmt.Errorf("bucketpool: %s: write deleted span at %d: %w", p.path, w, err)
	}
	return nil
}

// eraseAndAbort implements spec.md §7's structural-error recovery: erase
// [w, r) with a synthetic OID_DELETED bucket, optionally truncate in secure
// mode, and return the original error.
func (p *Pool) eraseAndAbort(w, r int64, cause error) error {
	log.Errorf("bucketpool: %s: %v; erasing [%d,%d) and aborting shakedown", p.path, cause, w, r)
	gap := r - w
	if gap > 0 && gap%Align == 0 {
		if err := p.writeDeletedSpan(w, gap); err != nil {
			log.Errorf("bucketpool: %s: failed to erase gap during abort: %v", p.path, err)
		}
		if p.cfg.ShakeSecurity >= 1 {
			if err := p.file.Truncate(w + gap); err != nil {
				log.Errorf("bucketpool: %s: failed to truncate during secure abort: %v", p.path, err)
			}
		}
	}
	return cause
}
