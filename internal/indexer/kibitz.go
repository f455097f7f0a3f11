package indexer

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/rpcpool/imgdup/pkg/bucketpool"
)

// KibitzMap is the indexer's OID resolution layer: it maps a stable card
// key (the xxhash of some caller-supplied external identifier — a URL, a
// content hash, whatever the caller considers a card's identity) to the
// card's current OID, per SPEC_FULL.md §3's "kibitz key resolution". The
// bucket pool itself never sees or stores this key; it is purely an
// indexer-side lookup table updated by the Shakedown kibitz callback.
type KibitzMap struct {
	mu    sync.Mutex
	byKey map[uint64]bucketpool.OID
	keyOf map[bucketpool.OID]uint64
}

// NewKibitzMap returns an empty KibitzMap.
func NewKibitzMap() *KibitzMap {
	return &KibitzMap{
		byKey: make(map[uint64]bucketpool.OID),
		keyOf: make(map[bucketpool.OID]uint64),
	}
}

// KeyFor hashes an external card identifier into the stable key space.
func KeyFor(externalID string) uint64 {
	return xxhash.Sum64String(externalID)
}

// Bind records that externalID's card currently lives at oid.
func (m *KibitzMap) Bind(externalID string, oid bucketpool.OID) {
	key := KeyFor(externalID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[key] = oid
	m.keyOf[oid] = key
}

// Resolve returns the current OID for externalID, if known.
func (m *KibitzMap) Resolve(externalID string) (bucketpool.OID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oid, ok := m.byKey[KeyFor(externalID)]
	return oid, ok
}

// rebind moves oldOID's entry to newOID, preserving the same key. Called
// from the shakedown kibitz callback as each bucket is rewritten.
func (m *KibitzMap) rebind(oldOID, newOID bucketpool.OID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keyOf[oldOID]
	if !ok {
		return
	}
	delete(m.keyOf, oldOID)
	m.keyOf[newOID] = key
	m.byKey[key] = newOID
}

// forget drops oldOID's entry entirely, for buckets the kibitz callback
// decides to drop.
func (m *KibitzMap) forget(oldOID bucketpool.OID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keyOf[oldOID]
	if !ok {
		return
	}
	delete(m.keyOf, oldOID)
	delete(m.byKey, key)
}

// KibitzFunc returns a bucketpool.KibitzFunc that keeps this map in sync
// with shakedown's OID reassignments. keep is the caller's own decision
// logic over (old header, payload); this wrapper only maintains the key map
// around whatever keep decides.
func (m *KibitzMap) KibitzFunc(keep func(old bucketpool.Header, payload []byte) (bucketpool.KibitzAction, []byte, error)) bucketpool.KibitzFunc {
	return func(old bucketpool.Header, newOID bucketpool.OID, payload []byte) (bucketpool.KibitzAction, []byte, error) {
		action, newPayload, err := keep(old, payload)
		if err != nil {
			return action, newPayload, err
		}
		switch action {
		case bucketpool.KibitzDrop:
			m.forget(old.OID)
		default:
			m.rebind(old.OID, newOID)
		}
		return action, newPayload, nil
	}
}
