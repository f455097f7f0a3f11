// Package indexer orchestrates the two passes described in spec.md §2 over
// a bucket pool: Pass 1 (Hilbert pre-sort, bounded NN query, pairwise
// duplicate comparison) and Pass 2 (random BSP clustering, within-cluster
// comparison). Fatal errors are returned to the caller; no package in this
// module calls os.Exit.
package indexer

import (
	"fmt"
	"math/rand"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/imgdup/internal/config"
	"github.com/rpcpool/imgdup/pkg/bucketpool"
	"github.com/rpcpool/imgdup/pkg/signature"
)

var log = logging.Logger("indexer")

// DefaultNNRadius is Pass 1's bounded NN query radius in signature-vector
// space. spec.md §2 specifies a bounded query but leaves the bound itself
// to the implementation; 48 (a Euclidean radius: e.g. a difference of 19 in
// each of the 6 components is within it) was chosen to catch near-duplicates without
// degrading every query to an unbounded scan, and is exposed as a field so
// callers needing a different recall/cost tradeoff can override it.
const DefaultNNRadius = 48

// DuplicatePair is one confirmed or candidate duplicate relationship
// between two cards, as produced by Pass 1 or Pass 2.
type DuplicatePair struct {
	A, B   uint32
	Trans  int
	Scaled bool
}

// Indexer holds the resources shared by both passes: the bucket pool, the
// resolved configuration, and the kibitz key map used to re-resolve OIDs
// across shakedowns.
type Indexer struct {
	pool   *bucketpool.Pool
	cfg    *config.Config
	kibitz *KibitzMap

	NNRadius uint32
}

// New constructs an Indexer over an already-open pool, running the
// signature extractor's startup self-test once (spec.md §4.2.1).
func New(pool *bucketpool.Pool, cfg *config.Config) (*Indexer, error) {
	if err := signature.VerifyLuvGrid(rand.New(rand.NewSource(time.Now().UnixNano()))); err != nil {
		return nil, fmt.Errorf("indexer: signature extractor self-test failed: %w", err)
	}
	return &Indexer{
		pool:     pool,
		cfg:      cfg,
		kibitz:   NewKibitzMap(),
		NNRadius: DefaultNNRadius,
	}, nil
}
