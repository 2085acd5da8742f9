package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/infrastructure/resilience"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when sending while no connection is open
var ErrNotConnected = errors.New("live channel not connected")

// State is the connection state of a source
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var stateNames = []string{
	StateDisconnected.String(),
	StateConnecting.String(),
	StateConnected.String(),
}

// Source is a live update transport
type Source[T any] interface {
	// Events starts the stream; it is closed once ctx ends
	Events(ctx context.Context) <-chan Event[T]
	State() State
	SendStatusUpdate(ctx context.Context, update types.StatusUpdate) error
}

// link is one established connection
type link interface {
	// read delivers raw frames to handle until the connection fails or
	// handle returns false
	read(ctx context.Context, handle func(raw []byte) bool) error
	close()
}

// loop is the reconnect state machine shared by every transport
type loop[T Keyed] struct {
	source      string
	dial        func(ctx context.Context) (link, error)
	backoff     *resilience.Backoff
	maxAttempts int
	normalize   func(T) T
	log         *logging.Logger
	metrics     *monitoring.Metrics

	mu      sync.RWMutex
	state   State // Protected by mu
	running atomic.Bool
}

func (l *loop[T]) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *loop[T]) setState(state State) {
	l.mu.Lock()
	changed := l.state != state
	l.state = state
	l.mu.Unlock()

	if changed {
		l.log.Debug("live state", zap.String("state", state.String()))
		l.metrics.SetLiveState(state.String(), stateNames)
	}
}

func (l *loop[T]) events(ctx context.Context) <-chan Event[T] {
	out := make(chan Event[T])
	if !l.running.CompareAndSwap(false, true) {
		l.log.Error("live stream already running")
		close(out)
		return out
	}

	go func() {
		defer close(out)
		defer l.running.Store(false)
		l.run(ctx, out)
	}()
	return out
}

func (l *loop[T]) run(ctx context.Context, out chan<- Event[T]) {
	defer l.setState(StateDisconnected)

	schedule := l.backoff.Schedule()
	stable := l.backoff.StableAfter()
	failures := 0

	// fail counts one failed attempt and reports degraded once per streak
	fail := func(attempt int) bool {
		failures++
		if failures != l.maxAttempts {
			return true
		}
		l.log.Error("live channel degraded", zap.Int("attempts", failures), zap.Int("attempt", attempt))
		return l.emit(ctx, out, Event[T]{Kind: KindDegraded, Attempts: failures, At: time.Now()})
	}

	for attempt := 1; ctx.Err() == nil; attempt++ {
		l.setState(StateConnecting)
		if attempt > 1 {
			l.metrics.IncLiveReconnects()
		}

		conn, err := l.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warn("live channel connect failed",
				zap.Int("attempt", attempt),
				zap.Int("failures", failures+1),
				zap.Error(err))
			if !fail(attempt) {
				return
			}
		} else {
			l.setState(StateConnected)
			l.log.Info("live channel connected", zap.Int("attempt", attempt))
			connectedAt := time.Now()

			if !l.emit(ctx, out, Event[T]{Kind: KindConnected, Attempt: attempt, At: connectedAt}) {
				conn.close()
				return
			}
			err = conn.read(ctx, func(raw []byte) bool {
				return l.handle(ctx, out, raw)
			})
			conn.close()
			l.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}

			uptime := time.Since(connectedAt)
			l.log.Warn("live channel disconnected", zap.Duration("uptime", uptime), zap.Error(err))
			if uptime >= stable {
				failures = 0
				schedule.Reset()
			} else if !fail(attempt) {
				// a link that drops right after the handshake is a failed attempt
				return
			}
		}

		if !sleep(ctx, schedule.NextBackOff()) {
			return
		}
	}
}

func (l *loop[T]) handle(ctx context.Context, out chan<- Event[T], raw []byte) bool {
	ev, err := Decode[T](raw)
	if err != nil {
		l.metrics.RecordLiveDropped(dropReason(err))
		l.log.Debug("live frame dropped", zap.Error(err))
		return true
	}
	if ev.Kind == KindUpserted && l.normalize != nil {
		ev.Record = l.normalize(ev.Record)
	}
	l.metrics.RecordLiveEvent(l.source, ev.Kind.String())
	return l.emit(ctx, out, ev)
}

func (l *loop[T]) emit(ctx context.Context, out chan<- Event[T], ev Event[T]) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func defaultBackoff(b *resilience.Backoff) *resilience.Backoff {
	if b == nil {
		return resilience.DefaultBackoff()
	}
	return b
}

func defaultAttempts(n int) int {
	if n < 1 {
		return 8
	}
	return n
}
