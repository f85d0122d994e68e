package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rulekeeper/rulekeeper/internal/config"
	"github.com/rulekeeper/rulekeeper/internal/report"
)

var renderers = map[string]func(report.Summary) ([]byte, error){
	"text": func(s report.Summary) ([]byte, error) { return []byte(report.RenderText(s)), nil },
	"md":   func(s report.Summary) ([]byte, error) { return []byte(report.RenderMarkdown(s)), nil },
	"json": report.RenderJSON,
}

type reportFlags struct {
	in     string
	since  string
	user   string
	format string
	out    string
}

func newReportCmd(configPath *string) *cobra.Command {
	var f reportFlags

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize who changed which rules from the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			render, ok := renderers[f.format]
			if !ok {
				return fmt.Errorf("unknown format %q (want text, md or json)", f.format)
			}
			path, err := auditLogPath(f.in, *configPath)
			if err != nil {
				return err
			}

			reader := report.Reader{User: f.user}
			if reader.Since, err = parseSince(f.since, time.Now()); err != nil {
				return err
			}
			entries, err := reader.Read(path)
			if err != nil {
				return err
			}

			out, err := render(report.Summarize(entries))
			if err != nil {
				return err
			}
			if f.out == "" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			return report.WriteOutput(f.out, out)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.in, "in", "", "Audit log to read (default: logging.auditLog from the config)")
	fl.StringVar(&f.since, "since", "", "Skip edits before this point: a duration such as 72h, a date or an RFC 3339 time")
	fl.StringVar(&f.user, "user", "", "Only count edits by this user")
	fl.StringVar(&f.format, "format", "text", "One of text, md or json")
	fl.StringVarP(&f.out, "out", "o", "", "Write the report to this file instead of stdout")

	return cmd
}

func auditLogPath(in, configPath string) (string, error) {
	if in != "" {
		return in, nil
	}
	cfg, err := config.FromEnv(configPath)
	if err != nil {
		return "", err
	}
	if cfg.Logging.AuditLog == "" {
		return "", errors.New("no audit log configured; pass --in")
	}
	return cfg.ResolvePath(cfg.Logging.AuditLog), nil
}

// parseSince accepts a look-back duration, a YYYY-MM-DD date or an RFC 3339
// timestamp. An empty value means no lower bound.
func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --since %q", raw)
}
