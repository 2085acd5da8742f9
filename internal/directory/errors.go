package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthorized is wrapped by the ServiceError returned when the session
// token is rejected and cannot be refreshed.
var ErrUnauthorized = errors.New("unauthorized")

// NetworkError is a transport-level failure: the directory was not reached
// or the circuit breaker refused the call.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("directory %s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServiceError is a non-2xx answer from the directory
type ServiceError struct {
	Code    int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("directory: %d %s", e.Code, msg)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// ValidationError is one rejected field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors is returned for client-side draft validation failures and
// for 400/422 answers that carry field errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the errors keyed by field name
func (e ValidationErrors) Fields() map[string]string {
	fields := make(map[string]string, len(e))
	for _, fe := range e {
		fields[fe.Field] = fe.Message
	}
	return fields
}

// NotFoundError is a 404 for a single record
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsNetwork reports whether err is a NetworkError
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// AsValidation extracts field errors from err
func AsValidation(err error) (ValidationErrors, bool) {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsService extracts a ServiceError from err
func AsService(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// tripsBreaker classifies failures that count against the circuit breaker:
// transport errors and 5xx answers. Client errors never trip it.
func tripsBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if IsNetwork(err) {
		return true
	}
	if se, ok := AsService(err); ok {
		return se.Code >= http.StatusInternalServerError
	}
	return false
}
