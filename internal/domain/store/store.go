package store

import (
	"sync"
	"time"
)

// Record is an identity-keyed entity with an ordering version
type Record[T any] interface {
	Key() string
	Version() time.Time
	SameContent(other T) bool
}

// Outcome describes what an upsert did to the store
type Outcome int

const (
	Unchanged Outcome = iota
	Inserted
	Updated
	Stale
	Rejected
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Stale:
		return "stale"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Changed reports whether the outcome modified the store
func (o Outcome) Changed() bool {
	return o == Inserted || o == Updated
}

type entry[T any] struct {
	record  T
	touched uint64 // seq of the last effective write
}

// tombstone remembers a removal so neither an in-flight fetch nor a late
// push can bring the key back
type tombstone struct {
	seq     uint64
	version time.Time // Version() of the removed record, zero if it was absent
	at      time.Time
}

// Store holds the client-side view of all known records, keyed by Key()
// and kept in insertion order.
type Store[T Record[T]] struct {
	mu         sync.RWMutex
	entries    map[string]*entry[T] // Protected by mu
	order      []string             // Protected by mu
	tombstones map[string]tombstone // Protected by mu
	seq        uint64               // every write attempt, Protected by mu
	version    uint64               // effective changes only, Protected by mu

	watchMu  sync.Mutex
	watchers map[int]chan uint64
	nextID   int
}

// New creates an empty store
func New[T Record[T]]() *Store[T] {
	return &Store[T]{
		entries:    make(map[string]*entry[T]),
		tombstones: make(map[string]tombstone),
		watchers:   make(map[int]chan uint64),
	}
}

// Upsert inserts the record if its key is absent, otherwise applies it only
// when its version is not older than the current one. A removed key only
// comes back with a version newer than the one it was removed at.
func (s *Store[T]) Upsert(record T) Outcome {
	s.mu.Lock()
	s.seq++
	outcome := s.upsertLocked(record)
	if outcome.Changed() {
		s.version++
	}
	version := s.version
	s.mu.Unlock()

	if outcome.Changed() {
		s.notify(version)
	}
	return outcome
}

func (s *Store[T]) upsertLocked(record T) Outcome {
	key := record.Key()
	if key == "" {
		return Rejected
	}

	cur, ok := s.entries[key]
	if !ok {
		if ts, removed := s.tombstones[key]; removed && !ts.version.IsZero() && !record.Version().After(ts.version) {
			return Stale
		}
		s.entries[key] = &entry[T]{record: record, touched: s.seq}
		s.order = append(s.order, key)
		delete(s.tombstones, key)
		return Inserted
	}

	if record.Version().Before(cur.record.Version()) {
		return Stale
	}
	if cur.record.SameContent(record) {
		return Unchanged
	}
	cur.record = record
	cur.touched = s.seq
	return Updated
}

// Remove deletes the record if present. A tombstone is kept either way so
// an in-flight fetch cannot resurrect the key.
func (s *Store[T]) Remove(key string) bool {
	s.mu.Lock()
	s.seq++
	ts := tombstone{seq: s.seq, at: time.Now()}
	if e, ok := s.entries[key]; ok {
		ts.version = e.record.Version()
	}
	if prev, ok := s.tombstones[key]; ok && prev.version.After(ts.version) {
		ts.version = prev.version
	}
	s.tombstones[key] = ts
	removed := s.removeLocked(key)
	if removed {
		s.version++
	}
	version := s.version
	s.mu.Unlock()

	if removed {
		s.notify(version)
	}
	return removed
}

func (s *Store[T]) removeLocked(key string) bool {
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// ReplaceAll discards every record and tombstone and installs records as the
// new baseline. Duplicate keys in records collapse by last-writer-wins.
func (s *Store[T]) ReplaceAll(records []T) {
	s.mu.Lock()
	s.seq++
	s.entries = make(map[string]*entry[T], len(records))
	s.order = s.order[:0]
	s.tombstones = make(map[string]tombstone)
	for _, record := range records {
		s.upsertLocked(record)
	}
	s.version++
	version := s.version
	s.mu.Unlock()

	s.notify(version)
}

// Baseline is the result of one filtered fetch, merged by Reconcile
type Baseline[T any] struct {
	Records []T
	// Since is the Seq observed before the fetch was issued
	Since uint64
	// Match is the predicate of the fetching view
	Match func(T) bool
	// Complete is true when Records holds every server-side match
	Complete bool
	// Previous lists the keys the same view fetched last time
	Previous []string
}

// ReconcileResult counts what a reconcile changed
type ReconcileResult struct {
	Inserted int
	Updated  int
	Removed  int
	Stale    int
	Skipped  int
	// Absent lists previous members of a partial fetch that the page no
	// longer holds. They stay in the store: a shifted page is no proof of
	// deletion, so the caller confirms each one.
	Absent []string
}

// Changed reports whether any record changed
func (r ReconcileResult) Changed() bool {
	return r.Inserted+r.Updated+r.Removed > 0
}

// Reconcile merges a fetch result without discarding writes that happened
// while the fetch was in flight:
//   - records written after Since are never removed
//   - keys removed after Since are never resurrected
//   - everything else follows last-writer-wins
//
// Matching records absent from a Complete fetch are removed. For a partial
// fetch, absent keys listed in Previous are reported in Absent instead.
func (s *Store[T]) Reconcile(b Baseline[T]) ReconcileResult {
	var res ReconcileResult

	s.mu.Lock()
	s.seq++

	fetched := make(map[string]struct{}, len(b.Records))
	for _, record := range b.Records {
		fetched[record.Key()] = struct{}{}
	}

	previous := make(map[string]struct{}, len(b.Previous))
	for _, key := range b.Previous {
		previous[key] = struct{}{}
	}

	var drop []string
	for _, key := range s.order {
		if _, ok := fetched[key]; ok {
			continue
		}
		e := s.entries[key]
		if e.touched > b.Since {
			continue
		}
		if b.Match != nil && !b.Match(e.record) {
			continue
		}
		if b.Complete {
			drop = append(drop, key)
		} else if _, wasMember := previous[key]; wasMember {
			res.Absent = append(res.Absent, key)
		}
	}
	for _, key := range drop {
		if s.removeLocked(key) {
			res.Removed++
		}
	}

	for _, record := range b.Records {
		if ts, ok := s.tombstones[record.Key()]; ok {
			if ts.seq > b.Since {
				res.Skipped++
				continue
			}
			// the fetch was issued after the removal and still saw the record
			delete(s.tombstones, record.Key())
		}
		switch s.upsertLocked(record) {
		case Inserted:
			res.Inserted++
		case Updated:
			res.Updated++
		case Stale:
			res.Stale++
		}
	}

	if res.Changed() {
		s.version++
	}
	version := s.version
	s.mu.Unlock()

	if res.Changed() {
		s.notify(version)
	}
	return res
}

// PruneTombstones forgets removals at or before seq that happened before
// the given time
func (s *Store[T]) PruneTombstones(seq uint64, before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for key, ts := range s.tombstones {
		if ts.seq <= seq && ts.at.Before(before) {
			delete(s.tombstones, key)
			pruned++
		}
	}
	return pruned
}

// Get retrieves a record by key
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	return e.record, true
}

// List returns a snapshot of all records in insertion order
func (s *Store[T]) List() []T {
	records, _ := s.Snapshot()
	return records
}

// Snapshot returns all records together with the version they belong to
func (s *Store[T]) Snapshot() ([]T, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]T, 0, len(s.order))
	for _, key := range s.order {
		records = append(records, s.entries[key].record)
	}
	return records, s.version
}

// Len returns the number of records
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Version returns the change counter. It only moves on effective changes.
func (s *Store[T]) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Seq returns the write sequence; pass it as Baseline.Since before fetching
func (s *Store[T]) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Watch subscribes to version changes. Notifications coalesce: a slow
// consumer only sees the latest version. Call cancel to unsubscribe.
func (s *Store[T]) Watch() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)

	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store[T]) notify(version uint64) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, ch := range s.watchers {
		select {
		case ch <- version:
		default:
			// drop the pending value and replace it with the latest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- version:
			default:
			}
		}
	}
}
