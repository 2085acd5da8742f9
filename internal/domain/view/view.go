package view

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aamira/courier-tracker/internal/domain/store"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/shared/id"
	"github.com/aamira/courier-tracker/internal/shared/types"
)

// ErrClosed is returned for work on an unmounted view
var ErrClosed = errors.New("view closed")

// Options configures a view
type Options[T any] struct {
	ID       string
	Name     string
	Resource string
	Query    types.Query
	Match    func(T) bool
	// Flag marks rows needing attention, e.g. stuck packages
	Flag    func(T, time.Time) bool
	Now     func() time.Time
	Metrics *monitoring.Metrics
}

// Snapshot is a consistent picture of a view
type Snapshot[T any] struct {
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	Resource  string      `json:"resource"`
	Query     types.Query `json:"query"`
	Rows      []T         `json:"rows"`
	Version   uint64      `json:"version"`
	Total     int         `json:"total"`
	Flagged   []string    `json:"flagged"`
	Alert     bool        `json:"alert"`
	Loading   bool        `json:"loading"`
	Error     string      `json:"error,omitempty"`
	FetchedAt *time.Time  `json:"fetchedAt,omitempty"`
}

// View is a filtered projection of a store. It holds only its query and
// predicate; rows are recomputed from the store whenever the store version
// moves, so they always equal the predicate applied to the current snapshot.
type View[T store.Record[T]] struct {
	id       string
	name     string
	resource string
	query    types.Query
	match    func(T) bool
	flag     func(T, time.Time) bool
	now      func() time.Time
	store    *store.Store[T]
	metrics  *monitoring.Metrics

	mu         sync.Mutex
	rows       []T       // Protected by mu
	computed   uint64    // store version of rows, Protected by mu
	fresh      bool      // Protected by mu
	generation uint64    // Protected by mu
	cancel     func()    // cancels the in-flight fetch, Protected by mu
	members    []string  // keys of the last fetch, Protected by mu
	total      int       // Protected by mu
	loading    bool      // Protected by mu
	lastErr    error     // Protected by mu
	fetchedAt  time.Time // Protected by mu
	closed     bool      // Protected by mu
}

// New creates a view over s
func New[T store.Record[T]](s *store.Store[T], opts Options[T]) *View[T] {
	if opts.ID == "" {
		opts.ID = id.NewViewID().String()
	}
	if opts.Match == nil {
		opts.Match = func(T) bool { return true }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &View[T]{
		id:       opts.ID,
		name:     opts.Name,
		resource: opts.Resource,
		query:    opts.Query.Normalize(),
		match:    opts.Match,
		flag:     opts.Flag,
		now:      opts.Now,
		store:    s,
		metrics:  opts.Metrics,
	}
}

// ID returns the view id
func (v *View[T]) ID() string {
	return v.id
}

// Name returns the view name
func (v *View[T]) Name() string {
	return v.name
}

// Query returns the normalized query
func (v *View[T]) Query() types.Query {
	return v.query
}

// Match returns the view predicate
func (v *View[T]) Match() func(T) bool {
	return v.match
}

// Rows returns the current rows and the store version they reflect
func (v *View[T]) Rows() ([]T, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rowsLocked()
}

func (v *View[T]) rowsLocked() ([]T, uint64) {
	if v.fresh && v.computed == v.store.Version() {
		return v.rows, v.computed
	}

	records, version := v.store.Snapshot()
	rows := make([]T, 0, len(records))
	for _, r := range records {
		if v.match(r) {
			rows = append(rows, r)
		}
	}
	v.rows = rows
	v.computed = version
	v.fresh = true

	label := v.name
	if label == "" {
		label = v.resource
	}
	v.metrics.RecordViewRecompute(label, len(rows))
	return rows, version
}

// Snapshot returns rows together with fetch state and flags
func (v *View[T]) Snapshot() Snapshot[T] {
	v.mu.Lock()
	defer v.mu.Unlock()

	rows, version := v.rowsLocked()
	snap := Snapshot[T]{
		ID:       v.id,
		Name:     v.name,
		Resource: v.resource,
		Query:    v.query,
		Rows:     rows,
		Version:  version,
		Total:    v.total,
		Flagged:  []string{},
		Loading:  v.loading,
	}
	if v.lastErr != nil {
		snap.Error = v.lastErr.Error()
	}
	if !v.fetchedAt.IsZero() {
		at := v.fetchedAt
		snap.FetchedAt = &at
	}
	if v.flag != nil {
		now := v.now()
		for _, r := range rows {
			if v.flag(r, now) {
				snap.Flagged = append(snap.Flagged, r.Key())
			}
		}
		snap.Alert = len(snap.Flagged) > 0
	}
	return snap
}

// Members returns the keys returned by the last successful fetch
func (v *View[T]) Members() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.members...)
}

// Begin starts a fetch. It cancels any fetch still in flight and returns the
// context and generation token the new fetch must use.
func (v *View[T]) Begin(ctx context.Context) (context.Context, uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, 0, ErrClosed
	}
	if v.cancel != nil {
		v.cancel()
	}
	fctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.generation++
	v.loading = true
	return fctx, v.generation, nil
}

// Commit runs apply and records a successful fetch, but only while gen is
// still the current generation. It reports whether the result was applied.
func (v *View[T]) Commit(gen uint64, keys []string, total int, apply func()) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed || gen != v.generation {
		return false
	}
	apply()
	v.members = keys
	v.total = total
	v.loading = false
	v.lastErr = nil
	v.fetchedAt = v.now()
	v.release()
	return true
}

// Fail records a failed fetch of generation gen
func (v *View[T]) Fail(gen uint64, err error) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed || gen != v.generation {
		return false
	}
	v.loading = false
	v.lastErr = err
	v.release()
	return true
}

func (v *View[T]) release() {
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

// Close unmounts the view, cancelling its in-flight fetch. Late results of
// that fetch are discarded.
func (v *View[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.closed = true
	v.generation++
	v.loading = false
	v.release()
}

// Closed reports whether the view was unmounted
func (v *View[T]) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
