package bucketpool

import (
	"fmt"
	"os"
)

// FsckResult summarizes the repair Fsck performed.
type FsckResult struct {
	// SizeBefore and SizeAfter are the file size before and after repair.
	SizeBefore, SizeAfter int64
	// TruncatedIncompleteTail is true if a trailing INCOMPLETE bucket was
	// found and removed.
	TruncatedIncompleteTail bool
}

// Fsck repairs a pool file that may carry a trailing INCOMPLETE bucket left
// by a crash between Create's header write and CreateEnd's commit (spec.md
// §7). It is callable standalone, before Open would otherwise succeed on
// such a file: it opens the file itself, walks live buckets from the start,
// and truncates at the first structural problem.
//
// Fsck does not require an exclusive fcntl lock to be held by a live Pool;
// callers are responsible for ensuring no other process is appending to the
// file concurrently.
func Fsck(path string) (FsckResult, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return FsckResult{}, fmt.Errorf("bucketpool: fsck %s: open: %w", path, err)
	}
	defer f.Close()

	p := &Pool{path: path, file: f, writeable: true, cfg: DefaultConfig()}

	size, err := p.fileSize()
	if err != nil {
		return FsckResult{}, err
	}
	result := FsckResult{SizeBefore: size}

	var offset int64
	for offset < size {
		var hb [HeaderSize]byte
		if _, err := f.ReadAt(hb[:], offset); err != nil {
			log.Warnf("bucketpool: fsck %s: short header read at %d, truncating: %v", path, offset, err)
			break
		}
		magic := leUint32(hb[0:4])
		switch magic {
		case MagicLive:
			h := Header{
				Magic:  magic,
				OID:    OID(leUint32(hb[4:8])),
				Length: leUint32(hb[8:12]),
				Type:   Type(leUint32(hb[12:16])),
			}
			aligned := AlignedSize(h.Length)
			if offset+aligned > size {
				log.Warnf("bucketpool: fsck %s: live bucket at %d overruns EOF, truncating", path, offset)
				goto repair
			}
			if err := p.verifyLive(h, offset); err != nil {
				log.Warnf("bucketpool: fsck %s: %v, truncating at %d", path, err, offset)
				goto repair
			}
			offset += aligned
		case MagicIncomplete:
			log.Infof("bucketpool: fsck %s: found incomplete bucket at %d, truncating", path, offset)
			result.TruncatedIncompleteTail = true
			goto repair
		default:
			log.Warnf("bucketpool: fsck %s: unrecognized magic %#x at %d, truncating", path, magic, offset)
			goto repair
		}
	}
	result.SizeAfter = size
	return result, nil

repair:
	if offset%Align != 0 {
		// Not aligned to a bucket boundary at all: nothing salvageable past
		// the last known-good aligned offset below it.
		offset = (offset / Align) * Align
	}
	if err := f.Truncate(offset); err != nil {
		return result, fmt.Errorf("bucketpool: fsck %s: truncate to %d: %w", path, offset, err)
	}
	if err := f.Sync(); err != nil {
		return result, fmt.Errorf("bucketpool: fsck %s: sync: %w", path, err)
	}
	result.SizeAfter = offset
	return result, nil
}
