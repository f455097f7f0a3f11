package hilbert

import (
	"fmt"
	"sort"
)

// Keyed is one item's Hilbert-curve position, produced once per item so
// SortByCurve never recomputes Encode during the sort itself.
type Keyed struct {
	OID  uint32
	Dist []uint32 // Encode's dim-word distance, used as the sort key
}

// byDist orders Keyed values by their Hilbert distance, most significant
// word first, per spec.md §4.4.5's Pass 1 pre-sort.
type byDist []Keyed

func (b byDist) Len() int      { return len(b) }
func (b byDist) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b byDist) Less(i, j int) bool {
	di, dj := b[i].Dist, b[j].Dist
	for w := range di {
		if di[w] != dj[w] {
			return di[w] < dj[w]
		}
	}
	return false
}

// SortByCurve encodes each point's coordinates to its Hilbert distance and
// returns the points reordered along the curve, oid-tagged so the indexer's
// Pass 1 can recover which signature each sorted position belongs to.
//
// points[i] must have exactly dim coordinates; oids[i] is carried through
// unchanged as the tag for points[i].
func SortByCurve(dim, order int, oids []uint32, points [][]uint32) ([]Keyed, error) {
	if len(oids) != len(points) {
		return nil, fmt.Errorf("hilbert: SortByCurve: %d oids but %d points", len(oids), len(points))
	}
	keyed := make([]Keyed, len(points))
	for i, p := range points {
		d, err := Encode(dim, order, p)
		if err != nil {
			return nil, fmt.Errorf("hilbert: SortByCurve: oid %d: %w", oids[i], err)
		}
		keyed[i] = Keyed{OID: oids[i], Dist: d}
	}
	sort.Stable(byDist(keyed))
	return keyed, nil
}
