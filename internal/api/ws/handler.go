package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	apihttp "github.com/aamira/courier-tracker/internal/api/http"
	"github.com/aamira/courier-tracker/internal/domain/session"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/shared/id"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types
const (
	TypeRows    = "rows"
	TypeLive    = "live"
	TypeClosed  = "closed"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeRefresh = "refresh"
	TypeError   = "error"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Message is one frame sent to the client
type Message struct {
	Type      string              `json:"type"`
	View      any                 `json:"view,omitempty"`
	Live      *session.LiveStatus `json:"live,omitempty"`
	Message   string              `json:"message,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// Inbound is one frame received from the client
type Inbound struct {
	Type string `json:"type"`
}

// Handler manages view stream connections
type Handler struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	metrics      *monitoring.Metrics
	log          *logging.Logger
}

// NewHandler creates a stream handler accepting the given origins; none or
// "*" accepts any origin
func NewHandler(origins []string, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(origins),
		},
		pingInterval: pingInterval,
		metrics:      metrics,
		log:          log.Component("ws"),
	}
}

func checkOrigin(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(allowed) == 0 || allowed[origin]
	}
}

// viewStream adapts a package or courier view to the stream loop
type viewStream struct {
	snapshot func() (any, uint64)
	watch    func() (<-chan uint64, func())
	closed   func() bool
}

func streamFor(s *session.Session, viewID string) (viewStream, bool) {
	if !id.HasPrefix(viewID, id.ViewPrefix) {
		return viewStream{}, false
	}
	if v, ok := s.Packages().View(viewID); ok {
		return viewStream{
			snapshot: func() (any, uint64) {
				snap := v.Snapshot()
				return snap, snap.Version
			},
			watch:  s.Packages().Store().Watch,
			closed: v.Closed,
		}, true
	}
	if v, ok := s.Couriers().View(viewID); ok {
		return viewStream{
			snapshot: func() (any, uint64) {
				snap := v.Snapshot()
				return snap, snap.Version
			},
			watch:  s.Couriers().Store().Watch,
			closed: v.Closed,
		}, true
	}
	return viewStream{}, false
}

// conn serializes writes to one client
type conn struct {
	ws      *websocket.Conn
	mu      sync.Mutex
	metrics *monitoring.Metrics
}

func (c *conn) send(msg Message) error {
	msg.Timestamp = time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		return err
	}
	c.metrics.RecordWSMessage("out", msg.Type)
	return nil
}

// Stream handles WebSocket upgrade and streams one view
func (h *Handler) Stream(c *gin.Context) {
	s := apihttp.SessionFrom(c)
	viewID := c.Param("id")
	stream, ok := streamFor(s, viewID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "view not found"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	log := h.log.With(
		zap.String("stream_id", id.NewStreamID().String()),
		zap.String("session_id", s.ID()),
		zap.String("view_id", viewID))
	log.Debug("stream opened")
	defer log.Debug("stream closed")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	out := &conn{ws: ws, metrics: h.metrics}
	refresh := make(chan struct{}, 1)
	go h.read(ctx, cancel, ws, out, refresh)

	rows, stopRows := stream.watch()
	defer stopRows()
	live, stopLive := s.Packages().WatchLive()
	defer stopLive()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	status := s.LiveStatus()
	if err := out.send(Message{Type: TypeLive, Live: &status}); err != nil {
		return
	}
	var sent uint64
	sendRows := func(force bool) error {
		if stream.closed() {
			_ = out.send(Message{Type: TypeClosed})
			return context.Canceled
		}
		snap, version := stream.snapshot()
		if !force && version == sent {
			return nil
		}
		sent = version
		return out.send(Message{Type: TypeRows, View: snap})
	}
	if err := sendRows(true); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-rows:
			if err := sendRows(false); err != nil {
				return
			}
		case <-live:
			status := s.LiveStatus()
			if err := out.send(Message{Type: TypeLive, Live: &status}); err != nil {
				return
			}
		case <-refresh:
			if err := s.RefreshView(ctx, viewID); err != nil && ctx.Err() == nil {
				_ = out.send(Message{Type: TypeError, Message: err.Error()})
			}
			if err := sendRows(true); err != nil {
				return
			}
		case <-ticker.C:
			if stream.closed() {
				_ = out.send(Message{Type: TypeClosed})
				return
			}
			out.mu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			out.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// read handles client frames until the socket fails
func (h *Handler) read(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, out *conn, refresh chan<- struct{}) {
	defer cancel()
	for {
		var msg Inbound
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case TypePing:
			if err := out.send(Message{Type: TypePong}); err != nil {
				return
			}
		case TypeRefresh:
			select {
			case refresh <- struct{}{}:
			default:
			}
		default:
			if err := out.send(Message{Type: TypeError, Message: "unknown message type"}); err != nil {
				return
			}
		}
	}
}
