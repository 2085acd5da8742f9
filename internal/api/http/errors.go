package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aamira/courier-tracker/internal/directory"
	"github.com/aamira/courier-tracker/internal/domain/reconcile"
	"github.com/aamira/courier-tracker/internal/domain/session"
	"github.com/aamira/courier-tracker/internal/live"
	"github.com/gin-gonic/gin"
)

// statusOf maps a domain error onto an HTTP status
func statusOf(err error) int {
	if _, ok := directory.AsValidation(err); ok {
		return http.StatusUnprocessableEntity
	}
	switch {
	case directory.IsNotFound(err),
		errors.Is(err, reconcile.ErrViewNotFound),
		errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, directory.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, live.ErrNotConnected):
		return http.StatusServiceUnavailable
	case directory.IsNetwork(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if se, ok := directory.AsService(err); ok {
		if se.Code >= 400 && se.Code < 600 {
			return se.Code
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError answers with the mapped status and a JSON error body
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	status := statusOf(err)
	body := gin.H{"error": err.Error()}
	if ve, ok := directory.AsValidation(err); ok {
		body["error"] = "validation failed"
		body["fields"] = ve.Fields()
	}
	if se, ok := directory.AsService(err); ok && se.Message != "" {
		body["error"] = se.Message
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
