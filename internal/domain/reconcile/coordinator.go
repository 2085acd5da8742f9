package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aamira/courier-tracker/internal/directory"
	"github.com/aamira/courier-tracker/internal/domain/store"
	"github.com/aamira/courier-tracker/internal/domain/view"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/live"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrViewNotFound is returned for an unknown view id
var ErrViewNotFound = errors.New("view not found")

// tombstoneRetention is how long a removal keeps blocking late pushes
const tombstoneRetention = 10 * time.Minute

// Directory is the remote collection a coordinator synchronizes with.
// directory.Resource satisfies it.
type Directory[T, D, P any] interface {
	Name() string
	FetchPage(ctx context.Context, q types.Query) (types.Page[T], error)
	Get(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, draft D) (T, error)
	Update(ctx context.Context, id string, patch P) (T, error)
	Delete(ctx context.Context, id string) error
}

// Options configures a coordinator
type Options[T any] struct {
	// Match builds the client-side predicate of a query
	Match func(types.Query) func(T) bool
	// Flag marks rows needing attention in view snapshots
	Flag func(T, time.Time) bool
	// Normalize is applied to records merged from partial pushes
	Normalize func(T) T
	// Concurrency bounds RefreshAll, 0 is unbounded
	Concurrency int
	Now         func() time.Time
	Logger      *logging.Logger
	Metrics     *monitoring.Metrics
}

// LiveStatus backs the "live updates unavailable" indicator
type LiveStatus struct {
	Connected   bool       `json:"connected"`
	Degraded    bool       `json:"degraded"`
	Attempts    int        `json:"attempts"`
	Connects    int        `json:"connects"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	LastEventAt *time.Time `json:"lastEventAt,omitempty"`
}

// Coordinator keeps one store consistent with its directory collection and
// the live channel. Every change, local or remote, goes through apply.
type Coordinator[T store.Record[T], D any, P any] struct {
	store    *store.Store[T]
	dir      Directory[T, D, P]
	resource string
	opts     Options[T]
	log      *logging.Logger
	metrics  *monitoring.Metrics

	mu    sync.RWMutex
	views map[string]*view.View[T] // Protected by mu
	order []string                 // Protected by mu

	fetchMu  sync.Mutex
	inflight map[uint64]uint64 // fetch id -> since, Protected by fetchMu
	fetchID  uint64            // Protected by fetchMu

	liveMu   sync.RWMutex
	status   LiveStatus // Protected by liveMu
	watchers map[int]chan LiveStatus
	nextID   int

	refreshes sync.WaitGroup
}

// New creates a coordinator for s and dir
func New[T store.Record[T], D any, P any](s *store.Store[T], dir Directory[T, D, P], opts Options[T]) *Coordinator[T, D, P] {
	if opts.Match == nil {
		opts.Match = func(types.Query) func(T) bool {
			return func(T) bool { return true }
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator[T, D, P]{
		store:    s,
		dir:      dir,
		resource: dir.Name(),
		opts:     opts,
		log:      opts.Logger.Component("reconcile").With(zap.String("resource", dir.Name())),
		metrics:  opts.Metrics,
		views:    make(map[string]*view.View[T]),
		inflight: make(map[uint64]uint64),
		watchers: make(map[int]chan LiveStatus),
	}
}

// Store returns the entity store
func (c *Coordinator[T, D, P]) Store() *store.Store[T] {
	return c.store
}

// Resource returns the collection name
func (c *Coordinator[T, D, P]) Resource() string {
	return c.resource
}

// Open mounts a view for q and fetches it. The view stays mounted when the
// fetch fails; its snapshot carries the error.
func (c *Coordinator[T, D, P]) Open(ctx context.Context, name string, q types.Query) (*view.View[T], error) {
	q = q.Normalize()
	v := view.New(c.store, view.Options[T]{
		Name:     name,
		Resource: c.resource,
		Query:    q,
		Match:    c.opts.Match(q),
		Flag:     c.opts.Flag,
		Now:      c.opts.Now,
		Metrics:  c.metrics,
	})

	c.mu.Lock()
	c.views[v.ID()] = v
	c.order = append(c.order, v.ID())
	c.mu.Unlock()

	c.log.Info("view opened",
		zap.String("view_id", v.ID()),
		zap.String("name", name),
		zap.Any("query", q))

	return v, c.fetch(ctx, v)
}

// View returns a mounted view
func (c *Coordinator[T, D, P]) View(id string) (*view.View[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[id]
	return v, ok
}

// Views returns every mounted view in mount order
func (c *Coordinator[T, D, P]) Views() []*view.View[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*view.View[T], 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.views[id])
	}
	return out
}

// Close unmounts a view and cancels its in-flight fetch
func (c *Coordinator[T, D, P]) Close(id string) bool {
	c.mu.Lock()
	v, ok := c.views[id]
	if ok {
		delete(c.views, id)
		for i, key := range c.order {
			if key == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	v.Close()
	c.log.Info("view closed", zap.String("view_id", id))
	return true
}

// CloseAll unmounts every view
func (c *Coordinator[T, D, P]) CloseAll() {
	for _, v := range c.Views() {
		c.Close(v.ID())
	}
}

// Refresh refetches one view
func (c *Coordinator[T, D, P]) Refresh(ctx context.Context, id string) error {
	v, ok := c.View(id)
	if !ok {
		return ErrViewNotFound
	}
	return c.fetch(ctx, v)
}

// RefreshAll refetches every mounted view concurrently and returns the first
// error. Views that fail keep their previous rows.
func (c *Coordinator[T, D, P]) RefreshAll(ctx context.Context) error {
	views := c.Views()
	if len(views) == 0 {
		return nil
	}

	// no shared context: a failed view must not cancel its siblings
	var g errgroup.Group
	if c.opts.Concurrency > 0 {
		g.SetLimit(c.opts.Concurrency)
	}
	for _, v := range views {
		g.Go(func() error {
			return c.fetch(ctx, v)
		})
	}
	err := g.Wait()
	if err != nil {
		c.log.Warn("refresh all incomplete", zap.Int("views", len(views)), zap.Error(err))
	} else {
		c.log.Debug("refresh all", zap.Int("views", len(views)))
	}
	return err
}

// fetch loads one page for v and merges it with Reconcile
func (c *Coordinator[T, D, P]) fetch(ctx context.Context, v *view.View[T]) error {
	fctx, gen, err := v.Begin(ctx)
	if err != nil {
		return err
	}

	since, done := c.track()
	defer done()

	q := v.Query()
	page, err := c.dir.FetchPage(fctx, q)
	if err != nil {
		if v.Fail(gen, err) {
			c.log.Warn("view fetch failed", zap.String("view_id", v.ID()), zap.Error(err))
			return err
		}
		// superseded or closed in the meantime
		return nil
	}

	keys := make([]string, 0, len(page.Records))
	for _, r := range page.Records {
		keys = append(keys, r.Key())
	}

	previous := v.Members()
	var res store.ReconcileResult
	applied := v.Commit(gen, keys, page.Total, func() {
		res = c.store.Reconcile(store.Baseline[T]{
			Records:  page.Records,
			Since:    since,
			Match:    v.Match(),
			Complete: q.Page == 1 && len(page.Records) >= page.Total,
			Previous: previous,
		})
	})
	if !applied {
		c.log.Debug("late fetch result discarded", zap.String("view_id", v.ID()))
		return nil
	}

	c.metrics.RecordReconcile(c.resource, res.Inserted, res.Updated, res.Removed, res.Skipped)
	c.metrics.SetStoreRecords(c.resource, c.store.Len())
	c.log.Debug("view fetched",
		zap.String("view_id", v.ID()),
		zap.Int("records", len(page.Records)),
		zap.Int("total", page.Total),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("removed", res.Removed),
		zap.Int("absent", len(res.Absent)),
		zap.Int("skipped", res.Skipped))

	c.confirm(ctx, res.Absent)
	return nil
}

// confirm looks up records that dropped off a partial page. Get removes the
// ones the directory no longer knows and refreshes the rest.
func (c *Coordinator[T, D, P]) confirm(ctx context.Context, ids []string) {
	for _, id := range ids {
		if _, err := c.Get(ctx, id); err != nil && !directory.IsNotFound(err) {
			c.log.Debug("absent record not confirmed", zap.String("id", id), zap.Error(err))
		}
	}
}

// track registers an in-flight fetch so tombstones it may need are kept
func (c *Coordinator[T, D, P]) track() (uint64, func()) {
	c.fetchMu.Lock()
	since := c.store.Seq()
	c.fetchID++
	fid := c.fetchID
	c.inflight[fid] = since
	c.fetchMu.Unlock()

	return since, func() {
		c.fetchMu.Lock()
		delete(c.inflight, fid)
		c.fetchMu.Unlock()
		c.pruneTombstones()
	}
}

// pruneTombstones drops removals no in-flight fetch can still resurrect
func (c *Coordinator[T, D, P]) pruneTombstones() {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	bound := c.store.Seq()
	for _, since := range c.inflight {
		if since < bound {
			bound = since
		}
	}
	c.store.PruneTombstones(bound, time.Now().Add(-tombstoneRetention))
}

// Get fetches one record from the directory and merges it
func (c *Coordinator[T, D, P]) Get(ctx context.Context, id string) (T, error) {
	record, err := c.dir.Get(ctx, id)
	if err != nil {
		if directory.IsNotFound(err) {
			c.remove(id)
		}
		return record, err
	}
	c.upsert(record, "get")
	return record, nil
}

// Create creates a record and merges the response
func (c *Coordinator[T, D, P]) Create(ctx context.Context, draft D) (T, error) {
	record, err := c.dir.Create(ctx, draft)
	if err != nil {
		return record, err
	}
	return c.merged(record, "create"), nil
}

// Update sends a partial update and merges the response
func (c *Coordinator[T, D, P]) Update(ctx context.Context, id string, patch P) (T, error) {
	record, err := c.dir.Update(ctx, id, patch)
	if err != nil {
		if directory.IsNotFound(err) {
			c.remove(id)
		}
		return record, err
	}
	return c.merged(record, "update"), nil
}

// merged upserts a directory response and returns what the store holds,
// which is newer than the response when a push overtook it
func (c *Coordinator[T, D, P]) merged(record T, origin string) T {
	if c.upsert(record, origin) != store.Stale {
		return record
	}
	if current, ok := c.store.Get(record.Key()); ok {
		return current
	}
	return record
}

// Delete removes a record. A record the directory no longer knows counts
// as deleted.
func (c *Coordinator[T, D, P]) Delete(ctx context.Context, id string) error {
	if err := c.dir.Delete(ctx, id); err != nil && !directory.IsNotFound(err) {
		return err
	}
	c.remove(id)
	return nil
}

// Apply merges one live event
func (c *Coordinator[T, D, P]) Apply(ev live.Event[T]) {
	switch ev.Kind {
	case live.KindUpserted:
		record, err := c.overlay(ev)
		if err != nil {
			c.metrics.RecordLiveDropped("overlay")
			c.log.Warn("live upsert dropped", zap.String("id", ev.ID), zap.Error(err))
			return
		}
		c.upsert(record, "live")
		c.touchLive(ev.At)
	case live.KindRemoved:
		c.remove(ev.ID)
		c.touchLive(ev.At)
	case live.KindConnected:
		c.updateLive(func(s *LiveStatus) {
			at := ev.At
			s.Connected = true
			s.Degraded = false
			s.Attempts = 0
			s.Connects++
			s.ConnectedAt = &at
		})
	case live.KindDegraded:
		c.updateLive(func(s *LiveStatus) {
			s.Connected = false
			s.Degraded = true
			s.Attempts = ev.Attempts
		})
	}
}

// Disconnected marks the live channel as down until the next connected event
func (c *Coordinator[T, D, P]) Disconnected() {
	c.updateLive(func(s *LiveStatus) {
		s.Connected = false
	})
}

// Run merges live events until the stream ends or ctx is done. Every
// connected event triggers RefreshAll in the background while merging
// continues.
func (c *Coordinator[T, D, P]) Run(ctx context.Context, events <-chan live.Event[T]) error {
	defer c.refreshes.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				c.Disconnected()
				return nil
			}
			c.Apply(ev)
			if ev.Kind == live.KindConnected {
				c.refreshes.Add(1)
				go func() {
					defer c.refreshes.Done()
					if err := c.RefreshAll(ctx); err != nil && ctx.Err() == nil {
						c.log.Warn("refresh after connect failed", zap.Error(err))
					}
				}()
			}
		}
	}
}

// overlay applies a possibly partial push onto the record already stored,
// leaving absent fields unchanged
func (c *Coordinator[T, D, P]) overlay(ev live.Event[T]) (T, error) {
	current, ok := c.store.Get(ev.ID)
	if !ok || len(ev.Raw) == 0 {
		return c.normalize(ev.Record), nil
	}

	base, err := sonic.Marshal(current)
	if err != nil {
		return ev.Record, fmt.Errorf("encode current: %w", err)
	}
	// decode into a fresh value so pointer fields are not shared with the store
	var merged T
	if err := sonic.Unmarshal(base, &merged); err != nil {
		return ev.Record, fmt.Errorf("decode current: %w", err)
	}
	if err := sonic.Unmarshal(ev.Raw, &merged); err != nil {
		return ev.Record, fmt.Errorf("overlay push: %w", err)
	}
	return c.normalize(merged), nil
}

func (c *Coordinator[T, D, P]) normalize(record T) T {
	if c.opts.Normalize == nil {
		return record
	}
	return c.opts.Normalize(record)
}

func (c *Coordinator[T, D, P]) upsert(record T, origin string) store.Outcome {
	outcome := c.store.Upsert(record)
	c.metrics.RecordStoreWrite(c.resource, outcome.String())
	if outcome.Changed() {
		c.metrics.SetStoreRecords(c.resource, c.store.Len())
	}
	c.log.Debug("apply upsert",
		zap.String("id", record.Key()),
		zap.String("origin", origin),
		zap.String("outcome", outcome.String()))
	return outcome
}

func (c *Coordinator[T, D, P]) remove(id string) bool {
	removed := c.store.Remove(id)
	outcome := "absent"
	if removed {
		outcome = "removed"
		c.metrics.SetStoreRecords(c.resource, c.store.Len())
	}
	c.metrics.RecordStoreWrite(c.resource, outcome)
	c.log.Debug("apply remove", zap.String("id", id), zap.Bool("removed", removed))
	return removed
}
