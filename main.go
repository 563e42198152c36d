// Package main implements a service that watches French field hockey
// competitions, emails subscribers when a match finishes, and serves live
// match scores updated by administrators.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"hockey-notifier/config"
	"hockey-notifier/feed"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "hockey-notifier",
		Short:         "Finished-match email notifications and live scores for FFH competitions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var envFile string
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded when present")

	root.AddCommand(serveCmd(&envFile))
	root.AddCommand(pollOnceCmd(&envFile))
	root.AddCommand(sourcesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the default logger.
func setup(envFile string) (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and poll sources in the background",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*envFile)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			go a.poller.Run(ctx, cfg.PollInterval)

			if err := a.server.ListenAndServe(ctx, cfg.Port); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		},
	}
}

func pollOnceCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "poll-once",
		Short: "Run one polling cycle over every source and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*envFile)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.poller.CheckAll(ctx)
			if err != nil {
				return fmt.Errorf("poll cycle: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

func sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the configured upstream sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printSources(cmd.OutOrStdout())
		},
	}
}

func printSources(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tMANIF\tPOULE\tFILTER")
	for _, s := range feed.DefaultSources() {
		filter := s.PouleLabel
		if s.TeamFilter != "" {
			filter = s.TeamFilter
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Label, s.ManifID, s.PouleID, filter)
	}
	return tw.Flush()
}
