package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rulekeeper/rulekeeper/internal/editor"
	"github.com/rulekeeper/rulekeeper/internal/rules"
)

func newListCmd(configPath *string) *cobra.Command {
	var t target
	var kinds []string
	var page, size int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the rules of a file, sorted and paged",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := editor.ViewOptions{Page: page, PageSize: size}
			for _, raw := range kinds {
				kind, err := parseKindFlag(raw)
				if err != nil {
					return err
				}
				opts.Kinds = append(opts.Kinds, kind)
			}

			a, err := setup(*configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			listing, err := a.editor.View(cmd.Context(), t.name(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rules, page %d/%d\n", listing.File, listing.Total, listing.Page, listing.Pages)
			printCounts(out, listing.Counts)
			return printRules(out, listing.Items)
		},
	}

	t.register(cmd)
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "Only show these kinds")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&size, "size", editor.DefaultPageSize, "Rules per page")

	return cmd
}

func newSearchCmd(configPath *string) *cobra.Command {
	var t target

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Find rules by text, URL, host or IPv4 address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.editor.Search(cmd.Context(), t.name(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				_, err = fmt.Fprintln(out, "no matching rules")
				return err
			}
			return printRules(out, items)
		},
	}

	t.register(cmd)
	return cmd
}

func newStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [FILE...]",
		Short: "Count rules per kind in every rule file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.editor.Stats(cmd.Context(), args...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, st := range stats {
				fmt.Fprintf(out, "%s: %d rules\n", st.File, st.Total)
				for _, k := range rules.Kinds {
					fmt.Fprintf(out, "  %-15s %5d  %3d%%\n", k.Token(), st.Counts[k], st.Percent(k))
				}
			}
			return nil
		},
	}
}

func newRecentCmd(configPath *string) *cobra.Command {
	var t target
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the latest commits touching a rule file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			commits, err := a.editor.Recent(cmd.Context(), t.name(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, c := range commits {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", commitRef(c.SHA, ""), c.Date.Format("2006-01-02 15:04"), c.Author, c.Message)
			}
			return tw.Flush()
		},
	}

	t.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of commits")

	return cmd
}

func newDownloadCmd(configPath *string) *cobra.Command {
	var t target
	var outPath string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Write a rule file exactly as stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := a.editor.Raw(cmd.Context(), t.name())
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), f.Text)
				return err
			}
			return os.WriteFile(outPath, []byte(f.Text), 0o644)
		},
	}

	t.register(cmd)
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file path (default stdout)")

	return cmd
}

func printCounts(w io.Writer, counts map[rules.Kind]int) {
	parts := make([]string, 0, len(rules.Kinds))
	for _, k := range rules.Kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k.Token(), counts[k]))
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

func printRules(w io.Writer, items []rules.Indexed) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, it := range items {
		policy := it.Rule.Policy.String()
		if policy == "" {
			policy = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", it.Index+1, it.Rule.Kind.Token(), it.Rule.Value, policy)
	}
	return tw.Flush()
}
