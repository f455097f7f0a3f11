package indexer

import (
	"math/rand"
	"time"

	"github.com/rpcpool/imgdup/pkg/dupcompare"
	"github.com/rpcpool/imgdup/pkg/kdtree"
	"github.com/rpcpool/imgdup/pkg/thumbcache"
)

// bytesPerClusterEntry estimates a signature vector's in-memory footprint
// for sizing Pass 2's leaf clusters against Index.PresortBuffer (spec.md §6
// names the budget; this module supplies the per-entry estimate it is
// divided by, since no original_source file defines Pass 2's cluster size).
const bytesPerClusterEntry = 32

// clusterFrame is one pending BSP partition, processed with an explicit
// stack rather than recursion, matching pkg/kdtree.Build's discipline.
type clusterFrame struct {
	points []kdtree.Point
}

// Pass2Report summarizes one Pass 2 run.
type Pass2Report struct {
	Clusters   int
	Duplicates []DuplicatePair
}

// RunPass2 partitions points into randomly-split BSP leaf clusters bounded
// by Index.PresortBuffer-derived size, then runs pairwise duplicate
// comparison within each leaf cluster (spec.md §2's "Pass 2 builds random
// BSP clusters over signature vectors and compares within clusters").
func (ix *Indexer) RunPass2(points []kdtree.Point) (Pass2Report, error) {
	var report Pass2Report
	if len(points) == 0 {
		return report, nil
	}

	maxClusterSize := ix.cfg.PresortBuffer / bytesPerClusterEntry
	if maxClusterSize < 2 {
		maxClusterSize = 2
	}

	cache := thumbcache.New(ix.cfg.PresortBuffer, ix.thumbnailDecoder())
	cfgCompare := dupcompare.DefaultConfig()
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	stack := []clusterFrame{{points: points}}
	for len(stack) > 0 {
		top := len(stack) - 1
		frame := stack[top]
		stack = stack[:top]

		if len(frame.points) <= maxClusterSize {
			report.Clusters++
			dups := ix.compareCluster(cache, cfgCompare, frame.points)
			report.Duplicates = append(report.Duplicates, dups...)
			continue
		}

		left, right := randomSplit(rnd, frame.points)
		stack = append(stack, clusterFrame{points: left}, clusterFrame{points: right})
	}
	return report, nil
}

// randomSplit partitions points by a random dimension and random pivot
// byte value. If the random cut is degenerate (every point lands on one
// side), it falls back to an index-midpoint split so the BSP always makes
// progress.
func randomSplit(rnd *rand.Rand, points []kdtree.Point) (left, right []kdtree.Point) {
	dim := rnd.Intn(kdtree.Dims)
	pivot := byte(rnd.Intn(256))
	for _, p := range points {
		if p.Vec[dim] < pivot {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		mid := len(points) / 2
		return points[:mid], points[mid:]
	}
	return left, right
}

// compareCluster runs pairwise duplicate comparison over every point pair
// within one leaf cluster. A pairwise lookup/decode failure is logged and
// skipped (spec.md §7 semantic-recoverable), not propagated.
func (ix *Indexer) compareCluster(cache *thumbcache.Cache, cfg dupcompare.Config, points []kdtree.Point) []DuplicatePair {
	var dups []DuplicatePair
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			dup, err := ix.comparePair(cache, cfg, points[i].OID, points[j].OID)
			if err != nil {
				log.Debugw("cluster pairwise comparison failed", "a", points[i].OID, "b", points[j].OID, "err", err)
				continue
			}
			if dup != nil {
				dups = append(dups, *dup)
			}
		}
	}
	return dups
}
