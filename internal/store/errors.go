package store

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Every error returned by Client matches exactly one of them
// through errors.Is.
var (
	ErrConflict  = errors.New("store: version conflict")
	ErrServer    = errors.New("store: server error")
	ErrClient    = errors.New("store: request rejected")
	ErrTransport = errors.New("store: transport failure")
)

// StatusError is a non-2xx response from the contents API.
type StatusError struct {
	Op     string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Op, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.Path, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusConflict:
		return ErrConflict
	case e.Status >= 500:
		return ErrServer
	default:
		return ErrClient
	}
}

// NotFound reports whether err is a 404 from the store.
func NotFound(err error) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Status == http.StatusNotFound
}

func transportError(op, path string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, path, ErrTransport, err)
}

// retryable reports whether a failed attempt may be repeated as is.
func retryable(err error) bool {
	return errors.Is(err, ErrServer) || errors.Is(err, ErrTransport)
}
