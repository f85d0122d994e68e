package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rulekeeper/rulekeeper/internal/logging"
	"github.com/rulekeeper/rulekeeper/internal/rules"
	"github.com/rulekeeper/rulekeeper/internal/store"
)

type Status int

const (
	StatusNew Status = iota
	StatusExists
	StatusExistsWithPolicy
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusExists:
		return "exists"
	case StatusExistsWithPolicy:
		return "exists_with_policy"
	default:
		return "unknown"
	}
}

// Preview is what an add would do against the current file.
type Preview struct {
	File     string
	Rule     rules.Rule
	Status   Status
	Existing *rules.Rule
}

type AddRequest struct {
	File  string
	Kind  rules.Kind
	Value string
	User  string
}

type DeleteRequest struct {
	File  string
	Kind  rules.Kind
	Value string
	User  string
}

// Result describes a committed edit.
type Result struct {
	File   string
	Rule   rules.Rule
	Commit store.CommitResult
}

// Prepare normalizes the input and reports whether the rule already exists.
func (e *Editor) Prepare(ctx context.Context, file string, kind rules.Kind, raw string) (Preview, error) {
	path, err := e.path(file)
	if err != nil {
		return Preview{}, err
	}
	rule, err := e.normalize(kind, raw)
	if err != nil {
		return Preview{}, err
	}
	_, doc, err := e.load(ctx, path)
	if err != nil {
		return Preview{}, err
	}

	p := Preview{File: file, Rule: rule, Status: StatusNew}
	if i, ok := rules.Find(doc, rule.Kind, rule.Value); ok {
		existing := *doc[i].Rule
		p.Existing = &existing
		p.Status = StatusExists
		if existing.HasPolicy() {
			p.Status = StatusExistsWithPolicy
		}
	}
	return p, nil
}

// Add appends a new rule with an attribution marker. An existing rule with
// the same kind and value yields a *DuplicateError.
func (e *Editor) Add(ctx context.Context, req AddRequest) (res Result, err error) {
	start := time.Now()
	entry := logging.Entry{Action: logging.ActionAdd, User: req.User, File: req.File, Kind: req.Kind.Token(), Value: strings.TrimSpace(req.Value)}
	defer func() {
		entry.Value = valueOr(res.Rule, entry.Value)
		e.record(entry, start, res.Commit, err)
	}()

	path, err := e.path(req.File)
	if err != nil {
		return Result{}, err
	}
	rule, err := e.normalize(req.Kind, req.Value)
	if err != nil {
		return Result{}, err
	}
	res.Rule = rule

	f, doc, err := e.load(ctx, path)
	if err != nil {
		return res, err
	}
	if dup := duplicate(req.File, doc, rule); dup != nil {
		return res, dup
	}

	text := rules.Render(rules.Insert(doc, rule, rules.AddedMarker(req.User, e.now())))
	commit, err := e.store.Commit(ctx, store.CommitRequest{
		Path:    path,
		Text:    text,
		Message: rules.AddMessage(rule, req.User),
		BaseSHA: f.SHA,
		Author:  author(req.User),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if dup := e.recheck(ctx, req.File, path, rule); dup != nil {
				return res, dup
			}
		}
		return res, fmt.Errorf("add %s: %w", rule.Line(), err)
	}

	e.metrics.RuleAdded()
	return Result{File: req.File, Rule: rule, Commit: commit}, nil
}

// Replace rewrites an existing rule without its legacy policy. A rule that
// has no policy is left alone (ErrUnchanged); a missing rule is appended.
func (e *Editor) Replace(ctx context.Context, req AddRequest) (res Result, err error) {
	start := time.Now()
	entry := logging.Entry{Action: logging.ActionReplace, User: req.User, File: req.File, Kind: req.Kind.Token(), Value: strings.TrimSpace(req.Value)}
	defer func() {
		entry.Value = valueOr(res.Rule, entry.Value)
		e.record(entry, start, res.Commit, err)
	}()

	path, err := e.path(req.File)
	if err != nil {
		return Result{}, err
	}
	rule, err := e.normalize(req.Kind, req.Value)
	if err != nil {
		return Result{}, err
	}
	res.Rule = rule

	f, doc, err := e.load(ctx, path)
	if err != nil {
		return res, err
	}

	var next rules.Document
	if i, ok := rules.Find(doc, rule.Kind, rule.Value); ok {
		if !doc[i].Rule.HasPolicy() {
			return res, ErrUnchanged
		}
		next = rules.StripPolicy(doc, i)
	} else {
		next = rules.Insert(doc, rule, rules.AddedMarker(req.User, e.now()))
	}

	commit, err := e.store.Commit(ctx, store.CommitRequest{
		Path:    path,
		Text:    rules.Render(next),
		Message: rules.AddMessage(rule, req.User),
		BaseSHA: f.SHA,
		Author:  author(req.User),
	})
	if err != nil {
		return res, fmt.Errorf("replace %s: %w", rule.Line(), err)
	}

	e.metrics.RuleReplaced()
	return Result{File: req.File, Rule: rule, Commit: commit}, nil
}

// Delete comments out the rule matching kind and value exactly. The rule is
// looked up again on the freshly fetched file, never by a stale line index.
func (e *Editor) Delete(ctx context.Context, req DeleteRequest) (res Result, err error) {
	start := time.Now()
	value := strings.TrimSpace(req.Value)
	entry := logging.Entry{Action: logging.ActionDelete, User: req.User, File: req.File, Kind: req.Kind.Token(), Value: value}
	defer func() { e.record(entry, start, res.Commit, err) }()

	path, err := e.path(req.File)
	if err != nil {
		return Result{}, err
	}
	f, doc, err := e.load(ctx, path)
	if err != nil {
		return Result{}, err
	}

	i, ok := rules.Find(doc, req.Kind, value)
	if !ok {
		return Result{}, fmt.Errorf("%s,%s in %s: %w", req.Kind.Token(), value, req.File, ErrRuleNotFound)
	}
	rule := *doc[i].Rule

	next := rules.SoftDelete(doc, i, rules.RemovedMarker(req.User, e.now()))
	commit, err := e.store.Commit(ctx, store.CommitRequest{
		Path:    path,
		Text:    rules.Render(next),
		Message: rules.DeleteMessage(rule, req.User),
		BaseSHA: f.SHA,
		Author:  author(req.User),
	})
	if err != nil {
		return Result{Rule: rule}, fmt.Errorf("delete %s: %w", rule.Line(), err)
	}

	e.metrics.RuleDeleted()
	return Result{File: req.File, Rule: rule, Commit: commit}, nil
}

type NormalizeResult struct {
	File    string
	Changed bool
	Commit  store.CommitResult
}

// NormalizeFile re-renders the file, dropping every policy column, and
// commits only when the text changes.
func (e *Editor) NormalizeFile(ctx context.Context, file, user string) (res NormalizeResult, err error) {
	start := time.Now()
	entry := logging.Entry{Action: logging.ActionNormalize, User: user, File: file}
	defer func() {
		if err == nil && !res.Changed {
			entry.Outcome = logging.OutcomeUnchanged
		}
		e.record(entry, start, res.Commit, err)
	}()

	path, err := e.path(file)
	if err != nil {
		return NormalizeResult{}, err
	}
	f, doc, err := e.load(ctx, path)
	if err != nil {
		return NormalizeResult{}, err
	}

	text := rules.Render(doc)
	res = NormalizeResult{File: file}
	if text == f.Text {
		return res, nil
	}

	commit, err := e.store.Commit(ctx, store.CommitRequest{
		Path:    path,
		Text:    text,
		Message: rules.NormalizeMessage,
		BaseSHA: f.SHA,
		Author:  author(user),
	})
	if err != nil {
		return res, fmt.Errorf("normalize %s: %w", file, err)
	}
	res.Changed = true
	res.Commit = commit
	return res, nil
}

func duplicate(file string, doc rules.Document, rule rules.Rule) *DuplicateError {
	i, ok := rules.Find(doc, rule.Kind, rule.Value)
	if !ok {
		return nil
	}
	return &DuplicateError{File: file, Existing: *doc[i].Rule, Index: i}
}

// recheck looks for the rule on the latest file after a commit lost the
// race, so the caller can go back to the duplicate flow.
func (e *Editor) recheck(ctx context.Context, file, path string, rule rules.Rule) *DuplicateError {
	_, doc, err := e.load(ctx, path)
	if err != nil {
		e.logger.Warn("recheck after conflict failed", "file", file, "err", err)
		return nil
	}
	return duplicate(file, doc, rule)
}

func valueOr(rule rules.Rule, fallback string) string {
	if rule.Value != "" {
		return rule.Value
	}
	return fallback
}
