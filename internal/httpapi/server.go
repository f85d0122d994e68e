// Package httpapi exposes the rule editor over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rulekeeper/rulekeeper/internal/config"
	"github.com/rulekeeper/rulekeeper/internal/editor"
	"github.com/rulekeeper/rulekeeper/internal/logging"
	"github.com/rulekeeper/rulekeeper/internal/observability"
	"github.com/rulekeeper/rulekeeper/internal/ratelimit"
	"github.com/rulekeeper/rulekeeper/internal/rules"
	"github.com/rulekeeper/rulekeeper/internal/store"
)

// UserHeader carries the identity of the person making an edit.
const UserHeader = "X-Rulekeeper-User"

const maxBodyBytes = 64 << 10

// Editor is the subset of *editor.Editor the API drives.
type Editor interface {
	Files() []string
	Prepare(ctx context.Context, file string, kind rules.Kind, raw string) (editor.Preview, error)
	Add(ctx context.Context, req editor.AddRequest) (editor.Result, error)
	Replace(ctx context.Context, req editor.AddRequest) (editor.Result, error)
	Delete(ctx context.Context, req editor.DeleteRequest) (editor.Result, error)
	NormalizeFile(ctx context.Context, file, user string) (editor.NormalizeResult, error)
	View(ctx context.Context, file string, opts editor.ViewOptions) (editor.Listing, error)
	Search(ctx context.Context, file, query string) ([]rules.Indexed, error)
	Stats(ctx context.Context, files ...string) ([]editor.FileStats, error)
	Raw(ctx context.Context, file string) (store.File, error)
	Recent(ctx context.Context, file string, limit int) ([]store.CommitInfo, error)
}

var _ Editor = (*editor.Editor)(nil)

type Options struct {
	Editor  Editor
	Access  config.AccessConfig
	Limiter *ratelimit.Limiter
	Metrics *observability.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

type Server struct {
	editor  Editor
	access  config.AccessConfig
	limiter *ratelimit.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(opts Options) *Server {
	s := &Server{
		editor:  opts.Editor,
		access:  opts.Access,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the routed API wrapped in access logging and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.Handle("GET /v1/stats", s.read(s.handleStats))
	mux.Handle("GET /v1/files/{file}/rules", s.read(s.handleList))
	mux.Handle("GET /v1/files/{file}/check", s.read(s.handleCheck))
	mux.Handle("GET /v1/files/{file}/search", s.read(s.handleSearch))
	mux.Handle("GET /v1/files/{file}/raw", s.read(s.handleRaw))
	mux.Handle("GET /v1/files/{file}/recent", s.read(s.handleRecent))

	mux.Handle("POST /v1/files/{file}/rules", s.write(s.handleAdd))
	mux.Handle("POST /v1/files/{file}/rules/delete", s.write(s.handleDelete))
	mux.Handle("POST /v1/files/{file}/normalize", s.write(s.handleNormalize))

	return s.observe(mux)
}

type userHandler func(w http.ResponseWriter, r *http.Request, user string) error

// read admits allow-listed users.
func (s *Server) read(h userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if !s.access.Allowed(user) {
			s.fail(w, r, errForbidden)
			return
		}
		if err := h(w, r, user); err != nil {
			s.fail(w, r, err)
		}
	})
}

// write additionally requires a named user and applies the per-user rate limit.
func (s *Server) write(h userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if ratelimit.Key(user) == "" {
			s.fail(w, r, errNoUser)
			return
		}
		if !s.access.Allowed(user) {
			s.fail(w, r, errForbidden)
			return
		}
		now := s.now()
		if !s.limiter.Allow(user, now) {
			s.metrics.RateLimited(r.Pattern)
			if wait := s.limiter.RetryAfter(user, now); wait > 0 {
				w.Header().Set("Retry-After", retryAfterSeconds(wait))
			}
			s.fail(w, r, errRateLimited)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := h(w, r, user); err != nil {
			s.fail(w, r, err)
		}
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "files": s.editor.Files()})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		dur := time.Since(start)
		s.metrics.ObserveRequest(route, status, dur)

		if r.URL.Path != "/healthz" {
			s.logger.Info("http request",
				"method", r.Method,
				"route", route,
				"status", status,
				"user", r.Header.Get(UserHeader),
				"duration_ms", dur.Milliseconds(),
			)
		}
	})
}
