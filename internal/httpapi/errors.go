package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rulekeeper/rulekeeper/internal/editor"
	"github.com/rulekeeper/rulekeeper/internal/normalize"
	"github.com/rulekeeper/rulekeeper/internal/store"
)

// APIError is an error with a fixed HTTP status and a machine readable code.
type APIError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause == nil {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Message + ": " + e.Cause.Error()
}

func (e *APIError) Unwrap() error { return e.Cause }

func badRequest(message string, cause error) error {
	return &APIError{Status: http.StatusBadRequest, Code: "bad_request", Message: message, Cause: cause}
}

var (
	errForbidden   = &APIError{Status: http.StatusForbidden, Code: "forbidden", Message: "you are not allowed to use this service"}
	errNoUser      = &APIError{Status: http.StatusUnauthorized, Code: "missing_user", Message: "the " + UserHeader + " header is required"}
	errRateLimited = &APIError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many edits, slow down"}
)

type errorBody struct {
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Existing *ruleJSON `json:"existing,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// classify maps an error onto the status and envelope the client sees.
func classify(err error) (int, errorBody) {
	var (
		api  *APIError
		verr *normalize.ValidationError
		dup  *editor.DuplicateError
	)
	switch {
	case errors.As(err, &api):
		return api.Status, errorBody{Code: api.Code, Message: api.Message}
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorBody{Code: "invalid_value", Message: verr.Message}
	case errors.As(err, &dup):
		existing := toRuleJSON(dup.Existing, dup.Index)
		return http.StatusConflict, errorBody{Code: "duplicate", Message: dup.Error(), Existing: &existing}
	case errors.Is(err, editor.ErrUnchanged):
		return http.StatusConflict, errorBody{Code: "unchanged", Message: editor.ErrUnchanged.Error()}
	case errors.Is(err, editor.ErrUnknownFile):
		return http.StatusNotFound, errorBody{Code: "unknown_file", Message: err.Error()}
	case errors.Is(err, editor.ErrRuleNotFound):
		return http.StatusNotFound, errorBody{Code: "rule_not_found", Message: err.Error()}
	case store.NotFound(err):
		return http.StatusNotFound, errorBody{Code: "file_not_found", Message: "the rule file does not exist in the repository"}
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, errorBody{Code: "conflict", Message: "the file kept changing while saving, try again"}
	case errors.Is(err, store.ErrServer), errors.Is(err, store.ErrTransport):
		return http.StatusBadGateway, errorBody{Code: "store_unavailable", Message: "the repository is unavailable, try again later"}
	case errors.Is(err, store.ErrClient):
		return http.StatusBadGateway, errorBody{Code: "store_rejected", Message: "the repository rejected the request"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorBody{Code: "canceled", Message: "the request was canceled"}
	default:
		return http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"}
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", r.Pattern, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
