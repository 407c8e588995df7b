// Command burr runs the polite, resumable multi-worker web crawler.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/FranksOps/burr/internal/config"
	"github.com/FranksOps/burr/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	cfgFile         string
	seedFiles       []string
	sitemapSeedURLs []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "burr",
	Short: "A polite, resumable, multi-worker web crawler core.",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the crawl root directory and its persisted layout.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		o, err := orchestrator.New(context.Background(), cfg, slog.Default())
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		return o.Close()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Materialize seeds and crawl until the frontier drains.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(seedFiles) == 0 {
			return errInvalidArgs{fmt.Errorf("at least one --seed file is required")}
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		logger := slog.Default()
		o, err := orchestrator.New(context.Background(), cfg, logger)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		defer o.Close()

		state, err := o.RunWithSitemaps(context.Background(), seedFiles, sitemapSeedURLs)
		return reportExit(logger, state, err)
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Resume a crawl from the last persisted checkpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		logger := slog.Default()
		o, err := orchestrator.New(context.Background(), cfg, logger)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		defer o.Close()

		state, err := o.Recover(context.Background())
		return reportExit(logger, state, err)
	},
}

// errInvalidArgs marks a usage error, mapped to exit code 2.
type errInvalidArgs struct{ cause error }

func (e errInvalidArgs) Error() string { return e.cause.Error() }
func (e errInvalidArgs) Unwrap() error { return e.cause }

// errInterrupted marks a graceful shutdown, mapped to exit code 130.
type errInterrupted struct{}

func (errInterrupted) Error() string { return "interrupted" }

func reportExit(logger *slog.Logger, state orchestrator.ExitState, err error) error {
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	logger.Info("crawl finished", "exit_state", state.String())
	if state == orchestrator.Shutdown {
		return errInterrupted{}
	}
	return nil
}

func exitCodeFor(err error) int {
	var invalid errInvalidArgs
	var interrupted errInterrupted
	switch {
	case errors.As(err, &invalid):
		return 2
	case errors.As(err, &interrupted):
		return 130
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	runCmd.Flags().StringArrayVar(&seedFiles, "seed", nil, "path to a seed file (repeatable)")
	runCmd.Flags().StringArrayVar(&sitemapSeedURLs, "discover-sitemap", nil, "origin URL to expand via its robots.txt sitemaps (repeatable)")

	rootCmd.AddCommand(initCmd, runCmd, recoverCmd)
}
