// Package tracker decides which freshly fetched records are new enough to emit.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"threatmap/internal/model"
)

const (
	PolicySet   = "set"
	PolicyTuple = "tuple"
	PolicyBatch = "batch"
	PolicyNone  = "none"
)

// Tracker filters one fetched batch against what the owning connector already emitted.
// Implementations are not safe for concurrent use; each connector owns its tracker.
type Tracker[T any] interface {
	Policy() string
	Filter(records []T) ([]T, model.BatchStatus)
	Len() int
}

// Persistent trackers expose their identities so connectors can hydrate and flush them.
type Persistent interface {
	Snapshot() []string
	Restore(ids []string)
	Dirty() bool
	MarkClean()
}

// TupleKey identifies a record by every field value. Records are encoded from their
// normalized struct, so upstream key order never affects the identity.
func TupleKey[T any](rec T) string {
	data, err := json.Marshal(rec)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", rec))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func ArticleLink(a model.Article) string {
	return a.Link
}

// New builds a tracker for policy. key is the identity used by set membership; tuple
// membership always uses TupleKey. maxIdentities > 0 bounds membership with an LRU.
func New[T any](policy string, key func(T) string, maxIdentities int) (Tracker[T], error) {
	switch policy {
	case PolicySet:
		if key == nil {
			key = TupleKey[T]
		}
		return membership(policy, key, maxIdentities)
	case PolicyTuple:
		return membership(policy, TupleKey[T], maxIdentities)
	case PolicyBatch:
		return &BatchDiff[T]{}, nil
	case PolicyNone, "":
		return passThrough[T]{}, nil
	}
	return nil, fmt.Errorf("unknown tracker policy %q", policy)
}

func membership[T any](policy string, key func(T) string, maxIdentities int) (Tracker[T], error) {
	m, err := newMembership(policy, key, maxIdentities)
	if err != nil {
		return nil, err
	}
	return m, nil
}

type seenSet interface {
	contains(id string) bool
	add(id string)
	len() int
	keys() []string
}

type mapSet map[string]struct{}

func (m mapSet) contains(id string) bool {
	_, ok := m[id]
	return ok
}

func (m mapSet) add(id string) { m[id] = struct{}{} }
func (m mapSet) len() int      { return len(m) }

func (m mapSet) keys() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

type lruSet struct {
	cache *lru.Cache[string, struct{}]
}

func (l lruSet) contains(id string) bool {
	// Get refreshes recency so frequently repeated records stay suppressed.
	_, ok := l.cache.Get(id)
	return ok
}

func (l lruSet) add(id string)  { l.cache.Add(id, struct{}{}) }
func (l lruSet) len() int       { return l.cache.Len() }
func (l lruSet) keys() []string { return l.cache.Keys() }

// Membership accepts a record iff its identity was never accepted before.
type Membership[T any] struct {
	policy string
	key    func(T) string
	seen   seenSet
	dirty  bool
}

func newMembership[T any](policy string, key func(T) string, maxIdentities int) (*Membership[T], error) {
	m := &Membership[T]{policy: policy, key: key}
	if maxIdentities > 0 {
		cache, err := lru.New[string, struct{}](maxIdentities)
		if err != nil {
			return nil, err
		}
		m.seen = lruSet{cache: cache}
	} else {
		m.seen = mapSet{}
	}
	return m, nil
}

func (m *Membership[T]) Policy() string { return m.policy }

func (m *Membership[T]) Filter(records []T) ([]T, model.BatchStatus) {
	var out []T
	for _, rec := range records {
		id := m.key(rec)
		if id == "" || m.seen.contains(id) {
			continue
		}
		m.seen.add(id)
		m.dirty = true
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, model.StatusUnchanged
	}
	return out, model.StatusOK
}

func (m *Membership[T]) Len() int { return m.seen.len() }

func (m *Membership[T]) Snapshot() []string {
	ids := m.seen.keys()
	sort.Strings(ids)
	return ids
}

func (m *Membership[T]) Restore(ids []string) {
	for _, id := range ids {
		if id != "" {
			m.seen.add(id)
		}
	}
}

func (m *Membership[T]) Dirty() bool { return m.dirty }
func (m *Membership[T]) MarkClean()  { m.dirty = false }

// BatchDiff compares each batch with the immediately preceding one as a whole.
// Order matters: a reordered batch counts as changed.
type BatchDiff[T any] struct {
	prev    string
	hasPrev bool
}

func (b *BatchDiff[T]) Policy() string { return PolicyBatch }

func (b *BatchDiff[T]) Filter(records []T) ([]T, model.BatchStatus) {
	sig := TupleKey(records)
	if b.hasPrev && sig == b.prev {
		return nil, model.StatusUnchanged
	}
	b.prev = sig
	b.hasPrev = true
	return records, model.StatusOK
}

func (b *BatchDiff[T]) Len() int {
	if b.hasPrev {
		return 1
	}
	return 0
}

type passThrough[T any] struct{}

func (passThrough[T]) Policy() string { return PolicyNone }
func (passThrough[T]) Len() int       { return 0 }

func (passThrough[T]) Filter(records []T) ([]T, model.BatchStatus) {
	return records, model.StatusOK
}
