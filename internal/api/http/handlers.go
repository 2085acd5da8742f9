package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/aamira/courier-tracker/internal/api/middleware"
	"github.com/aamira/courier-tracker/internal/domain/session"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	version    = "1.0.0"
	sessionKey = "session"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions  *session.Manager
	metrics   *monitoring.Metrics
	log       *logging.Logger
	startedAt time.Time

	mu        sync.RWMutex
	defaultID string
}

// NewHandlers creates a new handler set
func NewHandlers(sessions *session.Manager, metrics *monitoring.Metrics, log *logging.Logger) *Handlers {
	return &Handlers{
		sessions:  sessions,
		metrics:   metrics,
		log:       log.Component("api"),
		startedAt: time.Now(),
	}
}

// SetDefaultSession names the session used when a request selects none
func (h *Handlers) SetDefaultSession(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaultID = id
}

func (h *Handlers) defaultSession() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaultID
}

// Root handles the liveness probe
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "courier-tracker",
		"version": version,
	})
}

// Health reports sessions and live channel health
func (h *Handlers) Health(c *gin.Context) {
	sessions := h.sessions.List()
	live := make([]gin.H, 0, len(sessions))
	healthy := true
	for _, s := range sessions {
		status := s.LiveStatus()
		if status.Degraded {
			healthy = false
		}
		live = append(live, gin.H{
			"session_id": s.ID(),
			"live":       status,
			"breaker":    s.Client().BreakerState().String(),
		})
	}

	state := "healthy"
	if !healthy {
		state = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   state,
		"uptime":   time.Since(h.startedAt).Round(time.Second).String(),
		"sessions": live,
	})
}

// Metrics serves Prometheus metrics
func (h *Handlers) Metrics(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// MetricsJSON serves the metrics snapshot as JSON
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// RequireSession resolves the request's session and aborts with 401 when
// there is none
func (h *Handlers) RequireSession(c *gin.Context) {
	sid := c.GetHeader(middleware.SessionHeader)
	if sid == "" {
		sid = c.Query("session")
	}
	if sid == "" {
		sid = h.defaultSession()
	}
	if sid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no session"})
		return
	}

	s, ok := h.sessions.Get(sid)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown session"})
		return
	}
	c.Set(sessionKey, s)
	c.Header(middleware.SessionHeader, s.ID())
	c.Next()
}

// SessionFrom returns the session resolved by RequireSession
func SessionFrom(c *gin.Context) *session.Session {
	s, _ := c.MustGet(sessionKey).(*session.Session)
	return s
}

// OpenSession signs in with a directory token
func (h *Handlers) OpenSession(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	s, err := h.sessions.Open(req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	h.log.Info("signed in", zap.String("session_id", s.ID()))
	c.Header(middleware.SessionHeader, s.ID())
	c.JSON(http.StatusCreated, gin.H{
		"session_id": s.ID(),
		"created_at": s.CreatedAt(),
		"live":       s.LiveStatus(),
	})
}

// CloseSession signs out and discards the session cache
func (h *Handlers) CloseSession(c *gin.Context) {
	sid := c.Param("sid")
	if err := h.sessions.Close(sid); err != nil {
		writeError(c, err)
		return
	}
	if sid == h.defaultSession() {
		h.SetDefaultSession("")
	}
	c.Status(http.StatusNoContent)
}

// Live reports live channel health of the session
func (h *Handlers) Live(c *gin.Context) {
	c.JSON(http.StatusOK, SessionFrom(c).LiveStatus())
}
