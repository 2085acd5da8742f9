package live

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/infrastructure/resilience"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Options configures a WebSocket subscriber
type Options[T any] struct {
	URL string
	// Header is evaluated on every dial, so a refreshed token is picked up
	Header       func() http.Header
	Backoff      *resilience.Backoff
	MaxAttempts  int
	PingInterval time.Duration
	Normalize    func(T) T
	Logger       *logging.Logger
	Metrics      *monitoring.Metrics
}

// OptionsFromConfig maps the LIVE_* settings onto subscriber options
func OptionsFromConfig[T any](cfg config.LiveConfig) Options[T] {
	return Options[T]{
		URL: cfg.URL,
		Backoff: &resilience.Backoff{
			Initial: cfg.BackoffInitial,
			Max:     cfg.BackoffMax,
			Jitter:  0.2,
		},
		MaxAttempts:  cfg.MaxAttempts,
		PingInterval: cfg.PingInterval,
	}
}

// Subscriber reads the Live Update Channel over a WebSocket
type Subscriber[T Keyed] struct {
	*loop[T]

	url          string
	header       func() http.Header
	dialer       *websocket.Dialer
	pingInterval time.Duration

	connMu  sync.Mutex
	conn    *websocket.Conn // Protected by connMu
	writeMu sync.Mutex
}

// NewSubscriber creates a subscriber. It does not connect until Events is
// called.
func NewSubscriber[T Keyed](opts Options[T]) (*Subscriber[T], error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("live channel URL required")
	}

	s := &Subscriber[T]{
		url:          opts.URL,
		header:       opts.Header,
		pingInterval: opts.PingInterval,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
	s.loop = &loop[T]{
		source:      "websocket",
		backoff:     defaultBackoff(opts.Backoff),
		maxAttempts: defaultAttempts(opts.MaxAttempts),
		normalize:   opts.Normalize,
		log:         opts.Logger.Component("live").With(zap.String("url", opts.URL)),
		metrics:     opts.Metrics,
	}
	s.loop.dial = s.dial
	return s, nil
}

// Events starts the subscriber and returns its event stream
func (s *Subscriber[T]) Events(ctx context.Context) <-chan Event[T] {
	return s.loop.events(ctx)
}

// SendStatusUpdate emits a status-update frame on the open connection
func (s *Subscriber[T]) SendStatusUpdate(ctx context.Context, update types.StatusUpdate) error {
	return s.Send(ctx, EventStatusUpdate, update)
}

// Send writes one frame on the open connection
func (s *Subscriber[T]) Send(ctx context.Context, event string, payload any) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

func (s *Subscriber[T]) dial(ctx context.Context) (link, error) {
	var header http.Header
	if s.header != nil {
		header = s.header()
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return &wsLink[T]{sub: s, conn: conn}, nil
}

type wsLink[T Keyed] struct {
	sub  *Subscriber[T]
	conn *websocket.Conn
	once sync.Once
}

func (w *wsLink[T]) read(ctx context.Context, handle func(raw []byte) bool) error {
	stop := make(chan struct{})
	defer close(stop)

	// unblock ReadMessage when the owner goes away
	go func() {
		select {
		case <-ctx.Done():
			w.close()
		case <-stop:
		}
	}()

	if interval := w.sub.pingInterval; interval > 0 {
		pongWait := 2 * interval
		_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
		w.conn.SetPongHandler(func(string) error {
			return w.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go w.ping(interval, stop)
	}

	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if interval := w.sub.pingInterval; interval > 0 {
			_ = w.conn.SetReadDeadline(time.Now().Add(2 * interval))
		}
		if !handle(raw) {
			return ctx.Err()
		}
	}
}

func (w *wsLink[T]) ping(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (w *wsLink[T]) close() {
	w.once.Do(func() {
		w.sub.connMu.Lock()
		if w.sub.conn == w.conn {
			w.sub.conn = nil
		}
		w.sub.connMu.Unlock()

		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = w.conn.Close()
	})
}
