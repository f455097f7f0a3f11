package indexer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rpcpool/imgdup/pkg/bucketpool"
	"github.com/rpcpool/imgdup/pkg/dupcompare"
	"github.com/rpcpool/imgdup/pkg/hilbert"
	"github.com/rpcpool/imgdup/pkg/kdtree"
	"github.com/rpcpool/imgdup/pkg/raster"
	"github.com/rpcpool/imgdup/pkg/sigfile"
	"github.com/rpcpool/imgdup/pkg/signature"
	"github.com/rpcpool/imgdup/pkg/thumbcache"
)

// hilbertOrder is the curve resolution used to pre-sort Pass 1's signature
// vectors. 8 bits per dimension spans a signature vector's full byte range
// without loss, matching the production (dim, order) pair confirmed against
// original_source/images/image-idx.c (HILBERT_ORDER 8, HILBERT_DIM
// IMAGE_VEC_K).
const hilbertOrder = 8

// Pass1Report summarizes one Pass 1 run.
type Pass1Report struct {
	CardsIndexed int
	Skipped      int
	Duplicates   []DuplicatePair
}

// RunPass1 walks every live bucket, extracts its signature, writes the
// signature file at sigPath, builds a k-d tree over all signatures,
// pre-sorts along a Hilbert curve for cache locality, and runs a bounded
// NN query per signature, comparing each retrieved neighbor pairwise
// through the thumbnail cache (spec.md §2).
func (ix *Indexer) RunPass1(sigPath string) (Pass1Report, error) {
	var report Pass1Report

	f, err := os.Create(sigPath)
	if err != nil {
		return report, fmt.Errorf("indexer: create signature file: %w", err)
	}
	defer f.Close()

	sigWriter, err := sigfile.NewWriter(f)
	if err != nil {
		return report, fmt.Errorf("indexer: init signature file: %w", err)
	}

	it, err := ix.pool.SlurpPool()
	if err != nil {
		return report, fmt.Errorf("indexer: open slurp iterator: %w", err)
	}
	defer it.Close()

	var points []kdtree.Point
	var oids []uint32
	var hilbertPoints [][]uint32

	for {
		hdr, r, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("indexer: slurp pool: %w", err)
		}

		payload, err := r.ReadAll()
		if err != nil {
			return report, fmt.Errorf("indexer: read bucket oid=%d: %w", hdr.OID, err)
		}

		img, err := decodeThumbnail(payload)
		if err != nil {
			log.Debugw("skipping card: thumbnail decode failed", "oid", hdr.OID, "err", err)
			report.Skipped++
			continue
		}
		sig, err := signature.Compute(img)
		if err != nil {
			log.Debugw("skipping card: signature extraction failed", "oid", hdr.OID, "err", err)
			report.Skipped++
			continue
		}

		oid := uint32(hdr.OID)
		if err := sigWriter.Append(sigfile.Record{OID: oid, Sig: sig}); err != nil {
			return report, fmt.Errorf("indexer: write signature record: %w", err)
		}

		vec := kdtree.Vector(sig.Vec)
		points = append(points, kdtree.Point{OID: oid, Vec: vec})
		oids = append(oids, oid)
		coords := make([]uint32, kdtree.Dims)
		for i, b := range sig.Vec {
			coords[i] = uint32(b)
		}
		hilbertPoints = append(hilbertPoints, coords)
		report.CardsIndexed++
	}
	if err := sigWriter.Close(); err != nil {
		return report, fmt.Errorf("indexer: finalize signature file: %w", err)
	}
	if report.CardsIndexed == 0 {
		return report, nil
	}

	tree := kdtree.Build(points)

	ordered, err := hilbert.SortByCurve(kdtree.Dims, hilbertOrder, oids, hilbertPoints)
	if err != nil {
		return report, fmt.Errorf("indexer: hilbert pre-sort: %w", err)
	}

	vecByOID := make(map[uint32]kdtree.Vector, len(points))
	for _, p := range points {
		vecByOID[p.OID] = p.Vec
	}

	cache := thumbcache.New(ix.cfg.PresortBuffer, ix.thumbnailDecoder())
	seen := make(map[[2]uint32]bool)
	cfg := dupcompare.DefaultConfig()

	for _, k := range ordered {
		query := vecByOID[k.OID]
		si := tree.Search(query, ix.NNRadius)
		for {
			neighOID, _, err := si.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return report, fmt.Errorf("indexer: nn search oid=%d: %w", k.OID, err)
			}
			if neighOID == k.OID {
				continue
			}
			pairKey := orderedPair(k.OID, neighOID)
			if seen[pairKey] {
				continue
			}
			seen[pairKey] = true

			dup, err := ix.comparePair(cache, cfg, k.OID, neighOID)
			if err != nil {
				log.Debugw("pairwise comparison failed", "a", k.OID, "b", neighOID, "err", err)
				continue
			}
			if dup != nil {
				report.Duplicates = append(report.Duplicates, *dup)
			}
		}
	}
	return report, nil
}

func orderedPair(a, b uint32) [2]uint32 {
	if a < b {
		return [2]uint32{a, b}
	}
	return [2]uint32{b, a}
}

// comparePair pulls both thumbnails through the LRU cache and runs the
// multi-resolution duplicate comparator, returning nil (no error, no pair)
// when no transform matches.
func (ix *Indexer) comparePair(cache *thumbcache.Cache, cfg dupcompare.Config, a, b uint32) (*DuplicatePair, error) {
	ea, err := cache.Lookup(a)
	if err != nil {
		return nil, fmt.Errorf("lookup oid %d: %w", a, err)
	}
	defer cache.Unlock(a)
	eb, err := cache.Lookup(b)
	if err != nil {
		return nil, fmt.Errorf("lookup oid %d: %w", b, err)
	}
	defer cache.Unlock(b)

	cache.PairCompared()
	mask, err := dupcompare.Compare(ea.Dup, eb.Dup, dupcompare.TransAll|dupcompare.Scale, cfg)
	if err != nil {
		return nil, err
	}
	if mask == 0 {
		return nil, nil
	}
	cache.DuplicateFound()

	for t := 0; t < 8; t++ {
		bit := dupcompare.Flags(1 << uint(t))
		if mask&bit != 0 {
			return &DuplicatePair{A: a, B: b, Trans: t, Scaled: mask&dupcompare.Scale != 0}, nil
		}
	}
	return &DuplicatePair{A: a, B: b}, nil
}

// thumbnailDecoder adapts the pool's bucket lookup into a
// thumbcache.DecodeFunc.
func (ix *Indexer) thumbnailDecoder() thumbcache.DecodeFunc {
	return func(oid uint32) (string, *raster.Raster, error) {
		hdr, err := ix.pool.FindByOID(bucketpool.OID(oid))
		if err != nil {
			return "", nil, fmt.Errorf("find oid %d: %w", oid, err)
		}
		offset := bucketpool.Offset(bucketpool.OID(oid))
		payload, err := ix.pool.Fetch(hdr, offset).ReadAll()
		if err != nil {
			return "", nil, fmt.Errorf("fetch oid %d: %w", oid, err)
		}
		img, err := decodeThumbnail(payload)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("oid://%d", oid), img, nil
	}
}
