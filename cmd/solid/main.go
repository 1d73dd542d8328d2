// Command solid runs an in-process demonstration network of consensus
// engines, useful for observing leader rotation, skips, and commits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solid",
		Short: "Leader-rotating proposal-based consensus",

		SilenceUsage: true,
	}

	cmd.AddCommand(demoCmd())

	return cmd
}

func demoCmd() *cobra.Command {
	var (
		nValidators int
		skipTimeout time.Duration
		httpAddr    string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an in-process network of validators",

		RunE: func(cmd *cobra.Command, args []string) error {
			if nValidators < 1 {
				return fmt.Errorf("need at least 1 validator, got %d", nValidators)
			}

			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			}))

			return runDemo(cmd.Context(), log, demoConfig{
				Validators:  nValidators,
				SkipTimeout: skipTimeout,
				HTTPAddr:    httpAddr,
			})
		},
	}

	cmd.Flags().IntVarP(&nValidators, "validators", "n", 4, "number of in-process validators")
	cmd.Flags().DurationVar(&skipTimeout, "skip-timeout", 5*time.Second, "how long to wait for a leader before skipping")
	cmd.Flags().StringVar(&httpAddr, "http", "", "listen address for the debug HTTP server on the first validator (disabled when empty)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}
