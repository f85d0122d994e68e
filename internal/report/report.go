package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rulekeeper/rulekeeper/internal/logging"
)

const topN = 5

type Summary struct {
	Total     int            `json:"total"`
	Committed int            `json:"committed"`
	Duplicate int            `json:"duplicate"`
	Unchanged int            `json:"unchanged"`
	NotFound  int            `json:"not_found"`
	Invalid   int            `json:"invalid"`
	Failed    int            `json:"failed"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Actions   []CountItem    `json:"actions"`
	TopUsers  []CountItem    `json:"top_users"`
	TopFiles  []CountItem    `json:"top_files"`
	TopValues []CountItem    `json:"top_values"`
	TopErrors []CountItem    `json:"top_errors"`
	Latency   LatencySummary `json:"latency"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type LatencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Reader loads audit entries, skipping those older than Since and, when
// set, those not written by User.
type Reader struct {
	Since time.Time
	User  string
}

func (r *Reader) Read(path string) ([]logging.Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return r.Decode(file)
}

func (r *Reader) Decode(in io.Reader) ([]logging.Entry, error) {
	var entries []logging.Entry
	scanner := bufio.NewScanner(in)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e logging.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !r.Since.IsZero() && e.Timestamp.Before(r.Since) {
			continue
		}
		if r.User != "" && !sameUser(r.User, e.User) {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func sameUser(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "@"), strings.TrimPrefix(b, "@"))
}

func Summarize(entries []logging.Entry) Summary {
	var summary Summary
	if len(entries) == 0 {
		return summary
	}

	summary.Start = entries[0].Timestamp
	summary.End = entries[0].Timestamp

	actions := map[string]int{}
	users := map[string]int{}
	files := map[string]int{}
	values := map[string]int{}
	errs := map[string]int{}
	latencies := make([]int64, 0, len(entries))

	for _, e := range entries {
		summary.Total++
		if e.Timestamp.Before(summary.Start) {
			summary.Start = e.Timestamp
		}
		if e.Timestamp.After(summary.End) {
			summary.End = e.Timestamp
		}

		switch e.Outcome {
		case logging.OutcomeCommitted:
			summary.Committed++
		case logging.OutcomeDuplicate:
			summary.Duplicate++
		case logging.OutcomeUnchanged:
			summary.Unchanged++
		case logging.OutcomeNotFound:
			summary.NotFound++
		case logging.OutcomeInvalid:
			summary.Invalid++
		case logging.OutcomeFailed:
			summary.Failed++
		}

		actions[e.Action]++
		if e.User != "" {
			users[e.User]++
		}
		if e.File != "" {
			files[e.File]++
		}
		if e.Value != "" && e.Outcome == logging.OutcomeCommitted {
			values[valueKey(e)]++
		}
		if e.Outcome == logging.OutcomeFailed && e.Error != "" {
			errs[e.Error]++
		}
		latencies = append(latencies, e.DurationMS)
	}

	summary.Actions = topCounts(actions, len(actions))
	summary.TopUsers = topCounts(users, topN)
	summary.TopFiles = topCounts(files, topN)
	summary.TopValues = topCounts(values, topN)
	summary.TopErrors = topCounts(errs, topN)
	summary.Latency = latencySummary(latencies)

	return summary
}

func valueKey(e logging.Entry) string {
	if e.Kind == "" {
		return e.Value
	}
	return e.Kind + "," + e.Value
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func latencySummary(values []int64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencySummary{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return float64(values[idx])
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Edits: %d\n", summary.Total)
	if !summary.Start.IsZero() {
		fmt.Fprintf(&b, "Window: %s .. %s\n", summary.Start.Format(time.RFC3339), summary.End.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Committed: %d\n", summary.Committed)
	fmt.Fprintf(&b, "Duplicate: %d\n", summary.Duplicate)
	fmt.Fprintf(&b, "Unchanged: %d\n", summary.Unchanged)
	fmt.Fprintf(&b, "Not found: %d\n", summary.NotFound)
	fmt.Fprintf(&b, "Invalid: %d\n", summary.Invalid)
	fmt.Fprintf(&b, "Failed: %d\n", summary.Failed)
	fmt.Fprintf(&b, "Latency p50/p95/p99 (ms): %.0f/%.0f/%.0f\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCounts(&b, "Actions", summary.Actions)
	writeCounts(&b, "Top users", summary.TopUsers)
	writeCounts(&b, "Top files", summary.TopFiles)
	writeCounts(&b, "Top committed rules", summary.TopValues)
	writeCounts(&b, "Top errors", summary.TopErrors)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# Rulekeeper Report\n\n")
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Edits: %d\n", summary.Total)
	fmt.Fprintf(&b, "- Committed: %d\n", summary.Committed)
	fmt.Fprintf(&b, "- Duplicate: %d\n", summary.Duplicate)
	fmt.Fprintf(&b, "- Unchanged: %d\n", summary.Unchanged)
	fmt.Fprintf(&b, "- Not found: %d\n", summary.NotFound)
	fmt.Fprintf(&b, "- Invalid: %d\n", summary.Invalid)
	fmt.Fprintf(&b, "- Failed: %d\n", summary.Failed)
	fmt.Fprintf(&b, "- Latency p50/p95/p99 (ms): %.0f/%.0f/%.0f\n\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCountsMarkdown(&b, "Actions", summary.Actions)
	writeCountsMarkdown(&b, "Top users", summary.TopUsers)
	writeCountsMarkdown(&b, "Top files", summary.TopFiles)
	writeCountsMarkdown(&b, "Top committed rules", summary.TopValues)
	writeCountsMarkdown(&b, "Top errors", summary.TopErrors)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- `%s`: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

// WriteOutput writes content to path, or to stdout when path is empty.
func WriteOutput(path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(os.Stdout, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
