package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const maxErrorText = 256

const (
	ActionAdd       = "add"
	ActionReplace   = "replace"
	ActionDelete    = "delete"
	ActionNormalize = "normalize"
)

const (
	OutcomeCommitted = "committed"
	OutcomeDuplicate = "duplicate"
	OutcomeUnchanged = "unchanged"
	OutcomeNotFound  = "not_found"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

// Entry is written as a single JSON object per edit attempt.
type Entry struct {
	Timestamp  time.Time `json:"ts"`
	Action     string    `json:"action"`
	User       string    `json:"user"`
	File       string    `json:"file"`
	Kind       string    `json:"kind,omitempty"`
	Value      string    `json:"value,omitempty"`
	Outcome    string    `json:"outcome"`
	CommitSHA  string    `json:"commit_sha,omitempty"`
	CommitURL  string    `json:"commit_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

type AuditLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{w: w}
}

func OpenAuditLog(path string) (*AuditLogger, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewAuditLogger(file), file.Close, nil
}

// Write appends entry. A nil logger discards it.
func (l *AuditLogger) Write(entry Entry) error {
	if l == nil {
		return nil
	}
	if len(entry.Error) > maxErrorText {
		entry.Error = entry.Error[:maxErrorText]
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}
