package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rulekeeper/rulekeeper/internal/config"
	"github.com/rulekeeper/rulekeeper/internal/editor"
	"github.com/rulekeeper/rulekeeper/internal/rules"
)

// target is the rule file a command works on, chosen by name or by the
// legacy policy that used to select it.
type target struct {
	file   string
	policy string
}

func (t *target) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&t.file, "file", "f", "", "Rule file: proxy|direct")
	cmd.Flags().StringVarP(&t.policy, "policy", "p", "PROXY", "Pick the file by policy: PROXY|DIRECT|REJECT")
}

func (t *target) name() string {
	if t.file != "" {
		return t.file
	}
	return config.FileForPolicy(strings.ToUpper(strings.TrimSpace(t.policy)))
}

func defaultUser() string {
	if u := os.Getenv("RULEKEEPER_USER"); u != "" {
		return u
	}
	return os.Getenv("USER")
}

func parseKindFlag(raw string) (rules.Kind, error) {
	kind, ok := rules.ParseKindFold(raw)
	if !ok {
		return 0, fmt.Errorf("unknown rule kind %q (want DOMAIN, DOMAIN-SUFFIX, DOMAIN-KEYWORD or IP-CIDR)", raw)
	}
	return kind, nil
}

func checkUser(a *app, user string) error {
	if strings.TrimSpace(user) == "" {
		return errors.New("user is required (--user or RULEKEEPER_USER)")
	}
	if !a.cfg.Access.Allowed(user) {
		return fmt.Errorf("user %q is not allowed to edit rules", user)
	}
	return nil
}

func newAddCmd(configPath *string, replace bool) *cobra.Command {
	var t target
	var kindFlag, user string
	var dryRun bool

	use, short := "add", "Append a rule to a rule file"
	if replace {
		use, short = "replace", "Rewrite an existing rule without its policy, or append it"
	}

	cmd := &cobra.Command{
		Use:   use + " VALUE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKindFlag(kindFlag)
			if err != nil {
				return err
			}
			a, err := setup(*configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := checkUser(a, user); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				p, err := a.editor.Prepare(cmd.Context(), t.name(), kind, args[0])
				if err != nil {
					return err
				}
				printPreview(out, p)
				return nil
			}

			req := editor.AddRequest{File: t.name(), Kind: kind, Value: args[0], User: user}
			var res editor.Result
			if replace {
				res, err = a.editor.Replace(cmd.Context(), req)
			} else {
				res, err = a.editor.Add(cmd.Context(), req)
			}
			var dup *editor.DuplicateError
			if errors.As(err, &dup) {
				return fmt.Errorf("%w (use replace to drop its policy)", err)
			}
			if err != nil {
				return err
			}
			verb := "added"
			if replace {
				verb = "replaced"
			}
			printResult(out, verb, res)
			return nil
		},
	}

	t.register(cmd)
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "DOMAIN-SUFFIX", "Rule kind")
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser(), "User the change is attributed to")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only show what would happen")

	return cmd
}

func newDeleteCmd(configPath *string) *cobra.Command {
	var t target
	var kindFlag, user string

	cmd := &cobra.Command{
		Use:   "delete VALUE",
		Short: "Comment out a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKindFlag(kindFlag)
			if err != nil {
				return err
			}
			a, err := setup(*configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := checkUser(a, user); err != nil {
				return err
			}

			res, err := a.editor.Delete(cmd.Context(), editor.DeleteRequest{File: t.name(), Kind: kind, Value: args[0], User: user})
			if errors.Is(err, editor.ErrRuleNotFound) {
				return fmt.Errorf("%w (run search to find the exact value)", err)
			}
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), "deleted", res)
			return nil
		},
	}

	t.register(cmd)
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "DOMAIN-SUFFIX", "Rule kind")
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser(), "User the change is attributed to")

	return cmd
}

func newNormalizeCmd(configPath *string) *cobra.Command {
	var t target
	var user string

	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Rewrite a rule file in canonical form, dropping every policy column",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := checkUser(a, user); err != nil {
				return err
			}

			res, err := a.editor.NormalizeFile(cmd.Context(), t.name(), user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Changed {
				_, err = fmt.Fprintf(out, "%s is already normalized\n", res.File)
				return err
			}
			_, err = fmt.Fprintf(out, "normalized %s in %s\n", res.File, commitRef(res.Commit.SHA, res.Commit.URL))
			return err
		},
	}

	t.register(cmd)
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser(), "User the change is attributed to")

	return cmd
}

func printPreview(w io.Writer, p editor.Preview) {
	fmt.Fprintf(w, "%s: %s (%s)\n", p.File, p.Rule.Line(), p.Status)
	if p.Existing != nil && p.Existing.HasPolicy() {
		fmt.Fprintf(w, "existing rule carries policy %s\n", p.Existing.Policy)
	}
}

func printResult(w io.Writer, verb string, res editor.Result) {
	fmt.Fprintf(w, "%s %s in %s (%s)\n", verb, res.Rule.Line(), res.File, commitRef(res.Commit.SHA, res.Commit.URL))
}

func commitRef(sha, url string) string {
	if url != "" {
		return url
	}
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
