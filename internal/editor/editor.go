// Package editor runs the rule-file edit flows: every operation fetches the
// current file, decides on the parsed document and commits the rendered
// result against the version it read.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rulekeeper/rulekeeper/internal/config"
	"github.com/rulekeeper/rulekeeper/internal/logging"
	"github.com/rulekeeper/rulekeeper/internal/normalize"
	"github.com/rulekeeper/rulekeeper/internal/observability"
	"github.com/rulekeeper/rulekeeper/internal/rules"
	"github.com/rulekeeper/rulekeeper/internal/store"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrUnchanged    = errors.New("rule already present without a policy")
	ErrUnknownFile  = errors.New("unknown rule file")
)

// DuplicateError is returned by Add when the rule is already in the file.
type DuplicateError struct {
	File     string
	Existing rules.Rule
	Index    int
}

func (e *DuplicateError) Error() string {
	if e.Existing.HasPolicy() {
		return fmt.Sprintf("%s already contains %s with policy %s", e.File, e.Existing.Line(), e.Existing.Policy)
	}
	return fmt.Sprintf("%s already contains %s", e.File, e.Existing.Line())
}

// Store is the remote file store the editor works against.
type Store interface {
	Fetch(ctx context.Context, path string) (store.File, error)
	Commit(ctx context.Context, req store.CommitRequest) (store.CommitResult, error)
	RecentCommits(ctx context.Context, path string, limit int) ([]store.CommitInfo, error)
}

type Options struct {
	Store      Store
	Files      config.FilesConfig
	Normalizer normalize.Normalizer
	Metrics    *observability.Metrics
	Audit      *logging.AuditLogger
	Logger     *slog.Logger
	Now        func() time.Time
}

type Editor struct {
	store      Store
	files      config.FilesConfig
	normalizer normalize.Normalizer
	metrics    *observability.Metrics
	audit      *logging.AuditLogger
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts Options) *Editor {
	e := &Editor{
		store:      opts.Store,
		files:      opts.Files,
		normalizer: opts.Normalizer,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Files lists the configured rule file names.
func (e *Editor) Files() []string {
	return e.files.Names()
}

func (e *Editor) path(file string) (string, error) {
	p, err := e.files.Path(file)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownFile, err)
	}
	return p, nil
}

func (e *Editor) normalize(kind rules.Kind, raw string) (rules.Rule, error) {
	rule, err := e.normalizer.Rule(kind, raw)
	e.metrics.Input(kind.Token(), err == nil)
	return rule, err
}

func (e *Editor) load(ctx context.Context, path string) (store.File, rules.Document, error) {
	f, err := e.store.Fetch(ctx, path)
	if err != nil {
		return store.File{}, nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	return f, rules.Parse(f.Text), nil
}

func author(user string) *store.Identity {
	name := strings.TrimPrefix(strings.TrimSpace(user), "@")
	if name == "" {
		return nil
	}
	return &store.Identity{Name: name, Email: name + "@users.noreply.github.com"}
}

func outcome(err error) string {
	var dup *DuplicateError
	var verr *normalize.ValidationError
	switch {
	case err == nil:
		return logging.OutcomeCommitted
	case errors.As(err, &dup):
		return logging.OutcomeDuplicate
	case errors.Is(err, ErrUnchanged):
		return logging.OutcomeUnchanged
	case errors.Is(err, ErrRuleNotFound):
		return logging.OutcomeNotFound
	case errors.As(err, &verr):
		return logging.OutcomeInvalid
	default:
		return logging.OutcomeFailed
	}
}

// record writes one audit entry for an edit attempt.
func (e *Editor) record(entry logging.Entry, start time.Time, res store.CommitResult, err error) {
	entry.Timestamp = e.now().UTC()
	entry.DurationMS = time.Since(start).Milliseconds()
	entry.CommitSHA = res.SHA
	entry.CommitURL = res.URL
	if entry.Outcome == "" {
		entry.Outcome = outcome(err)
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if werr := e.audit.Write(entry); werr != nil {
		e.logger.Error("audit write failed", "err", werr)
	}
	if err != nil && entry.Outcome == logging.OutcomeFailed {
		e.logger.Error("edit failed", "action", entry.Action, "file", entry.File, "value", entry.Value, "err", err)
	}
}
