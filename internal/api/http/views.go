package http

import (
	"net/http"

	"github.com/aamira/courier-tracker/internal/domain/reconcile"
	"github.com/aamira/courier-tracker/internal/domain/session"
	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/gin-gonic/gin"
)

// ViewSummary describes a mounted view without its rows
type ViewSummary struct {
	ID       string      `json:"id"`
	Name     string      `json:"name,omitempty"`
	Resource string      `json:"resource"`
	Query    types.Query `json:"query"`
	Rows     int         `json:"rows"`
	Version  uint64      `json:"version"`
	Total    int         `json:"total"`
	Alert    bool        `json:"alert"`
	Loading  bool        `json:"loading"`
	Error    string      `json:"error,omitempty"`
}

// OpenViewRequest mounts a view
type OpenViewRequest struct {
	Name     string      `json:"name"`
	Resource string      `json:"resource"`
	Query    types.Query `json:"query"`
}

// ListViews lists the session's views of both resources
func (h *Handlers) ListViews(c *gin.Context) {
	s := SessionFrom(c)

	out := make([]ViewSummary, 0)
	for _, v := range s.Packages().Views() {
		snap := v.Snapshot()
		out = append(out, ViewSummary{
			ID: snap.ID, Name: snap.Name, Resource: snap.Resource, Query: snap.Query,
			Rows: len(snap.Rows), Version: snap.Version, Total: snap.Total,
			Alert: snap.Alert, Loading: snap.Loading, Error: snap.Error,
		})
	}
	for _, v := range s.Couriers().Views() {
		snap := v.Snapshot()
		out = append(out, ViewSummary{
			ID: snap.ID, Name: snap.Name, Resource: snap.Resource, Query: snap.Query,
			Rows: len(snap.Rows), Version: snap.Version, Total: snap.Total,
			Alert: snap.Alert, Loading: snap.Loading, Error: snap.Error,
		})
	}

	c.JSON(http.StatusOK, gin.H{"views": out})
}

// OpenView mounts a filtered view and answers with its first snapshot. A
// failed first fetch still mounts the view; the snapshot carries the error.
func (h *Handlers) OpenView(c *gin.Context) {
	var req OpenViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	s := SessionFrom(c)
	if req.Query.Limit == 0 {
		req.Query.Limit = s.PageSize()
	}

	ctx := c.Request.Context()
	switch req.Resource {
	case config.ResourcePackages, "":
		v, _ := s.Packages().Open(ctx, req.Name, req.Query)
		c.JSON(http.StatusCreated, v.Snapshot())
	case config.ResourceCouriers:
		v, _ := s.Couriers().Open(ctx, req.Name, req.Query)
		c.JSON(http.StatusCreated, v.Snapshot())
	default:
		badRequest(c, "unknown resource "+req.Resource)
	}
}

// GetView answers with a view snapshot
func (h *Handlers) GetView(c *gin.Context) {
	if !writeSnapshot(c, SessionFrom(c), c.Param("id"), http.StatusOK) {
		writeError(c, reconcile.ErrViewNotFound)
	}
}

// RefreshView refetches a view
func (h *Handlers) RefreshView(c *gin.Context) {
	s := SessionFrom(c)
	viewID := c.Param("id")
	if err := s.RefreshView(c.Request.Context(), viewID); err != nil {
		writeError(c, err)
		return
	}
	writeSnapshot(c, s, viewID, http.StatusOK)
}

// CloseView unmounts a view
func (h *Handlers) CloseView(c *gin.Context) {
	if !SessionFrom(c).CloseView(c.Param("id")) {
		writeError(c, reconcile.ErrViewNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

// RefreshAll refetches every view of the session
func (h *Handlers) RefreshAll(c *gin.Context) {
	if err := SessionFrom(c).RefreshAll(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeSnapshot(c *gin.Context, s *session.Session, viewID string, status int) bool {
	if v, ok := s.Packages().View(viewID); ok {
		c.JSON(status, v.Snapshot())
		return true
	}
	if v, ok := s.Couriers().View(viewID); ok {
		c.JSON(status, v.Snapshot())
		return true
	}
	return false
}
