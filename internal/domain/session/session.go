package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aamira/courier-tracker/internal/directory"
	"github.com/aamira/courier-tracker/internal/domain/reconcile"
	"github.com/aamira/courier-tracker/internal/domain/store"
	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/live"
	"github.com/aamira/courier-tracker/internal/shared/id"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"go.uber.org/zap"
)

// Live transports
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportOff       = "off"
)

var (
	// ErrClosed is returned by a session after Close
	ErrClosed = errors.New("session closed")
	// ErrStarted is returned when Start is called twice
	ErrStarted = errors.New("session already started")
)

// PackageCoordinator reconciles the package cache
type PackageCoordinator = reconcile.Coordinator[types.Package, types.PackageDraft, types.PackagePatch]

// CourierCoordinator reconciles the courier cache
type CourierCoordinator = reconcile.Coordinator[types.Courier, types.CourierDraft, types.CourierPatch]

// Options configures a session
type Options struct {
	Config *config.Config
	// Token overrides the configured directory token
	Token string
	// Views are mounted on Start
	Views []config.ViewSpec
	// Source replaces the transport chosen by configuration
	Source  live.Source[types.Package]
	Now     func() time.Time
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// LiveStatus is the live channel health reported to the dashboard
type LiveStatus struct {
	reconcile.LiveStatus
	Transport string `json:"transport"`
	State     string `json:"state"`
}

// Session is the cache of one signed-in user
type Session struct {
	id        string
	createdAt time.Time
	cfg       *config.Config
	views     []config.ViewSpec

	client   *directory.Client
	packages *PackageCoordinator
	couriers *CourierCoordinator
	source   live.Source[types.Package]
	owned    bool

	log     *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a session. Nothing is fetched until Start.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	sid := id.NewSessionID().String()
	log := opts.Logger.Component("session").With(zap.String("session_id", sid))

	dirOpts := directory.OptionsFromConfig(cfg.Directory)
	if opts.Token != "" {
		dirOpts.Token = opts.Token
	}
	dirOpts.Logger = log
	dirOpts.Metrics = opts.Metrics
	client, err := directory.New(dirOpts)
	if err != nil {
		return nil, fmt.Errorf("directory client: %w", err)
	}

	stuckAfter := cfg.Sync.StuckAfter
	s := &Session{
		id:        sid,
		createdAt: now().UTC(),
		cfg:       cfg,
		views:     opts.Views,
		client:    client,
		log:       log,
		metrics:   opts.Metrics,
	}

	s.packages = reconcile.New(store.New[types.Package](), reconcile.Directory[types.Package, types.PackageDraft, types.PackagePatch](client.Packages()), reconcile.Options[types.Package]{
		Match: types.MatchPackage,
		Flag: func(p types.Package, at time.Time) bool {
			return p.Stuck(at, stuckAfter)
		},
		Normalize: client.Normalizer().Package,
		Now:       now,
		Logger:    log,
		Metrics:   opts.Metrics,
	})
	s.couriers = reconcile.New(store.New[types.Courier](), reconcile.Directory[types.Courier, types.CourierDraft, types.CourierPatch](client.Couriers()), reconcile.Options[types.Courier]{
		Match:     types.MatchCourier,
		Normalize: client.Normalizer().Courier,
		Now:       now,
		Logger:    log,
		Metrics:   opts.Metrics,
	})

	s.source = opts.Source
	if s.source == nil {
		source, err := s.newSource()
		if err != nil {
			client.Close()
			return nil, err
		}
		s.source = source
		s.owned = source != nil
	}
	return s, nil
}

// newSource picks the live transport named by configuration
func (s *Session) newSource() (live.Source[types.Package], error) {
	switch s.cfg.Live.Transport {
	case TransportWebSocket, "":
		opts := live.OptionsFromConfig[types.Package](s.cfg.Live)
		opts.Header = s.client.AuthHeader
		opts.Logger = s.log
		opts.Metrics = s.metrics
		sub, err := live.NewSubscriber(opts)
		if err != nil {
			return nil, fmt.Errorf("live subscriber: %w", err)
		}
		return sub, nil
	case TransportRedis:
		opts := live.RedisOptionsFromConfig[types.Package](s.cfg.Live)
		opts.Logger = s.log
		opts.Metrics = s.metrics
		src, err := live.NewRedisSource(opts)
		if err != nil {
			return nil, fmt.Errorf("live redis source: %w", err)
		}
		return src, nil
	case TransportOff:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown live transport %q", s.cfg.Live.Transport)
	}
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session was built
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Client returns the directory client
func (s *Session) Client() *directory.Client {
	return s.client
}

// Packages returns the package coordinator
func (s *Session) Packages() *PackageCoordinator {
	return s.packages
}

// Couriers returns the courier coordinator
func (s *Session) Couriers() *CourierCoordinator {
	return s.couriers
}

// PageSize returns the default page size for new views
func (s *Session) PageSize() int {
	return s.cfg.Sync.PageSize
}

// Start mounts the saved views and begins merging live events. A saved view
// whose first fetch fails stays mounted with its error. The live loop runs
// until ctx is done or Close is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	for _, spec := range s.views {
		s.mount(runCtx, spec)
	}

	if s.source == nil {
		close(s.done)
		s.log.Info("session started without live updates", zap.Int("views", len(s.views)))
		return nil
	}

	events := s.source.Events(runCtx)
	go func() {
		defer close(s.done)
		if err := s.packages.Run(runCtx, events); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("live loop stopped", zap.Error(err))
		}
	}()
	s.log.Info("session started",
		zap.String("transport", s.transport()),
		zap.Int("views", len(s.views)))
	return nil
}

func (s *Session) mount(ctx context.Context, spec config.ViewSpec) {
	var err error
	switch spec.Resource {
	case config.ResourceCouriers:
		_, err = s.couriers.Open(ctx, spec.Name, spec.Query)
	default:
		_, err = s.packages.Open(ctx, spec.Name, spec.Query)
	}
	if err != nil {
		s.log.Warn("saved view fetch failed",
			zap.String("view", spec.Name),
			zap.String("resource", spec.Resource),
			zap.Error(err))
	}
}

// ViewResource reports which resource the view belongs to
func (s *Session) ViewResource(viewID string) (string, bool) {
	if _, ok := s.packages.View(viewID); ok {
		return config.ResourcePackages, true
	}
	if _, ok := s.couriers.View(viewID); ok {
		return config.ResourceCouriers, true
	}
	return "", false
}

// RefreshView refetches one view of either resource
func (s *Session) RefreshView(ctx context.Context, viewID string) error {
	switch resource, _ := s.ViewResource(viewID); resource {
	case config.ResourceCouriers:
		return s.couriers.Refresh(ctx, viewID)
	default:
		return s.packages.Refresh(ctx, viewID)
	}
}

// CloseView stops one view of either resource
func (s *Session) CloseView(viewID string) bool {
	return s.packages.Close(viewID) || s.couriers.Close(viewID)
}

// RefreshAll refetches every open view of both resources
func (s *Session) RefreshAll(ctx context.Context) error {
	return errors.Join(s.packages.RefreshAll(ctx), s.couriers.RefreshAll(ctx))
}

// SendStatusUpdate validates a courier status update and sends it on the
// live channel
func (s *Session) SendStatusUpdate(ctx context.Context, update types.StatusUpdate) error {
	if err := directory.Validate(update); err != nil {
		return err
	}
	if s.source == nil {
		return live.ErrNotConnected
	}
	return s.source.SendStatusUpdate(ctx, update)
}

// LiveStatus returns the live channel health
func (s *Session) LiveStatus() LiveStatus {
	status := LiveStatus{
		LiveStatus: s.packages.LiveStatus(),
		Transport:  s.transport(),
		State:      live.StateDisconnected.String(),
	}
	if s.source != nil {
		state := s.source.State()
		status.State = state.String()
		// the coordinator only hears about connects; a dropped link shows here first
		if state != live.StateConnected {
			status.Connected = false
		}
	}
	return status
}

func (s *Session) transport() string {
	switch s.source.(type) {
	case nil:
		return TransportOff
	case *live.RedisSource[types.Package]:
		return TransportRedis
	default:
		return TransportWebSocket
	}
}

// Close stops the live loop, closes every view and discards the cached
// records. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.packages.CloseAll()
	s.couriers.CloseAll()
	s.packages.Store().ReplaceAll(nil)
	s.couriers.Store().ReplaceAll(nil)

	if closer, ok := s.source.(interface{ Close() error }); ok && s.owned {
		if err := closer.Close(); err != nil {
			s.log.Debug("live source close", zap.Error(err))
		}
	}
	s.client.Tokens().Clear()
	s.client.Close()
	s.log.Info("session closed")
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
