package report

import (
	"strings"
	"testing"
	"time"

	"github.com/rulekeeper/rulekeeper/internal/logging"
)

func sampleEntries() []logging.Entry {
	return []logging.Entry{
		{Timestamp: time.Unix(10, 0), Action: logging.ActionAdd, User: "alice", File: "proxy", Kind: "DOMAIN", Value: "example.com", Outcome: logging.OutcomeCommitted, DurationMS: 120},
		{Timestamp: time.Unix(5, 0), Action: logging.ActionAdd, User: "alice", File: "proxy", Kind: "DOMAIN", Value: "example.com", Outcome: logging.OutcomeDuplicate, DurationMS: 40},
		{Timestamp: time.Unix(20, 0), Action: logging.ActionDelete, User: "bob", File: "direct", Kind: "IP-CIDR", Value: "10.0.0.0/8", Outcome: logging.OutcomeFailed, Error: "store: server error", DurationMS: 900},
		{Timestamp: time.Unix(30, 0), Action: logging.ActionNormalize, User: "bob", File: "proxy", Outcome: logging.OutcomeUnchanged, DurationMS: 60},
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize(sampleEntries())
	if summary.Total != 4 {
		t.Fatalf("expected total 4, got %d", summary.Total)
	}
	if summary.Committed != 1 || summary.Duplicate != 1 || summary.Failed != 1 || summary.Unchanged != 1 {
		t.Fatalf("unexpected outcome counts: %+v", summary)
	}
	if !summary.Start.Equal(time.Unix(5, 0)) || !summary.End.Equal(time.Unix(30, 0)) {
		t.Fatalf("unexpected window %v .. %v", summary.Start, summary.End)
	}
	if len(summary.Actions) != 3 || summary.Actions[0].Key != logging.ActionAdd {
		t.Fatalf("unexpected actions: %+v", summary.Actions)
	}
	if len(summary.TopFiles) != 2 || summary.TopFiles[0].Key != "proxy" || summary.TopFiles[0].Count != 3 {
		t.Fatalf("unexpected top files: %+v", summary.TopFiles)
	}
	if len(summary.TopValues) != 1 || summary.TopValues[0].Key != "DOMAIN,example.com" {
		t.Fatalf("expected only the committed rule in top values: %+v", summary.TopValues)
	}
	if len(summary.TopErrors) != 1 || summary.TopErrors[0].Key != "store: server error" {
		t.Fatalf("unexpected top errors: %+v", summary.TopErrors)
	}
	if summary.Latency.P50 != 60 || summary.Latency.P99 != 120 {
		t.Fatalf("unexpected latency: %+v", summary.Latency)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize(nil)
	if summary.Total != 0 || summary.TopUsers != nil {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
	if !strings.Contains(RenderText(summary), "Top users: none") {
		t.Fatalf("expected empty sections in text report")
	}
}

func TestReaderFilters(t *testing.T) {
	in := `{"ts":"2024-01-01T00:00:00Z","action":"add","user":"alice","file":"proxy","outcome":"committed","duration_ms":1}

{"ts":"2024-02-01T00:00:00Z","action":"add","user":"@Alice","file":"proxy","outcome":"committed","duration_ms":1}
{"ts":"2024-02-02T00:00:00Z","action":"delete","user":"bob","file":"proxy","outcome":"not_found","duration_ms":1}
`
	r := &Reader{Since: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), User: "alice"}
	entries, err := r.Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].User != "@Alice" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	if _, err := (&Reader{}).Decode(strings.NewReader("{broken\n")); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line number in error, got %v", err)
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown(Summarize(sampleEntries()))
	if !strings.HasPrefix(out, "# Rulekeeper Report") {
		t.Fatalf("missing title: %q", out)
	}
	if !strings.Contains(out, "- `DOMAIN,example.com`: 1") {
		t.Fatalf("missing committed rule: %q", out)
	}
}

func TestRenderJSON(t *testing.T) {
	data, err := RenderJSON(Summary{Total: 1})
	if err != nil {
		t.Fatalf("expected json render ok: %v", err)
	}
	if !strings.Contains(string(data), `"total": 1`) {
		t.Fatalf("unexpected json: %s", data)
	}
}
