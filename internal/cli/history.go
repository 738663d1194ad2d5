package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/netgen/internal/runlog"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// NewHistoryCommand creates the history command, which lists recent
// generation runs from the run log.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent generation runs",
		Long: `List recent generation runs recorded under the configured root.

Each effective run records when it started, how many sources it
resolved, how much backend output it produced, and the fingerprint of
the merged model, so consecutive entries with the same fingerprint
mean the effective configuration did not change.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of runs to list")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	path := filepath.Join(opts.RootDir, runlog.DefaultPath)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return outputHistory(formatter, nil)
	}

	store, err := runlog.Open(path)
	if err != nil {
		_ = formatter.Error(ErrCodeHistory, err.Error(), nil)
		return WrapExitError(ExitFailure, "opening run log", err)
	}
	defer store.Close()

	runs, err := store.Recent(opts.Limit)
	if err != nil {
		_ = formatter.Error(ErrCodeHistory, err.Error(), nil)
		return WrapExitError(ExitFailure, "reading run log", err)
	}

	return outputHistory(formatter, runs)
}

// historyEntry is the JSON shape of one listed run.
type historyEntry struct {
	ID          string `json:"id"`
	StartedAt   string `json:"started_at"`
	Sources     int    `json:"sources"`
	Definitions int    `json:"definitions"`
	Routes      int    `json:"routes"`
	Rules       int    `json:"rules"`
	Managed     bool   `json:"managed_backend_output"`
	Fingerprint string `json:"fingerprint"`
}

func outputHistory(formatter *OutputFormatter, runs []runlog.Run) error {
	if formatter.Format == "json" {
		entries := make([]historyEntry, len(runs))
		for i, run := range runs {
			entries[i] = historyEntry{
				ID:          run.ID,
				StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
				Sources:     run.SourceCount,
				Definitions: run.Definitions,
				Routes:      run.Routes,
				Rules:       run.Rules,
				Managed:     run.Managed,
				Fingerprint: run.Fingerprint,
			}
		}
		return formatter.Success(entries)
	}

	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No generation runs recorded")
		return nil
	}
	for _, run := range runs {
		managed := " "
		if run.Managed {
			managed = "*"
		}
		fmt.Fprintf(formatter.Writer, "%s %s  sources=%d defs=%d routes=%d rules=%d  %.12s\n",
			managed,
			run.StartedAt.UTC().Format(time.RFC3339),
			run.SourceCount,
			run.Definitions,
			run.Routes,
			run.Rules,
			run.Fingerprint)
	}
	return nil
}
