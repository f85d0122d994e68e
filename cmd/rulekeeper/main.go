package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rulekeeper/rulekeeper/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "rulekeeper",
		Short:        "Edit proxy routing rule files kept in a GitHub repository",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("RULEKEEPER_CONFIG"), "Path to config file (environment variables override it)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newAddCmd(&configPath, false))
	root.AddCommand(newAddCmd(&configPath, true))
	root.AddCommand(newDeleteCmd(&configPath))
	root.AddCommand(newNormalizeCmd(&configPath))
	root.AddCommand(newListCmd(&configPath))
	root.AddCommand(newSearchCmd(&configPath))
	root.AddCommand(newStatsCmd(&configPath))
	root.AddCommand(newRecentCmd(&configPath))
	root.AddCommand(newDownloadCmd(&configPath))
	root.AddCommand(newReportCmd(&configPath))
	root.AddCommand(newValidateCmd(&configPath))
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			for _, msg := range verr.Problems {
				fmt.Fprintln(os.Stderr, msg)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newValidateCmd(configPath *string) *cobra.Command {
	var serving bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(serving); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return err
		},
	}

	cmd.Flags().BoolVar(&serving, "serve", true, "Also check the server and metrics settings")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version=%s commit=%s buildDate=%s\n", version, commit, buildDate)
		},
	}
}
