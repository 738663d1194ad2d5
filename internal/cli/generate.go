package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/netgen/internal/backend"
	"github.com/roach88/netgen/internal/fingerprint"
	"github.com/roach88/netgen/internal/generator"
	"github.com/roach88/netgen/internal/model"
	"github.com/roach88/netgen/internal/parse"
	"github.com/roach88/netgen/internal/runlog"
	"github.com/roach88/netgen/internal/source"
)

// GenerateOptions holds flags for the generate (root) command.
type GenerateOptions struct {
	*RootOptions
	Generator bool

	// Overridable collaborators (for testing). Nil means the real
	// implementation.
	EnableService   func(unitDir string) error
	InvalidateCache func()
	RecordRun       func(root string, run runlog.Run) error
}

// GenerateSummary is the success payload of one generation run.
type GenerateSummary struct {
	Sources     int    `json:"sources"`
	Definitions int    `json:"definitions"`
	Routes      int    `json:"routes"`
	Rules       int    `json:"rules"`
	Managed     bool   `json:"managed_backend_output"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// runGenerate is the orchestrator: enumerate, ingest, finalize,
// cleanup, dispatch, finish, post-actions, stamp. Everything upstream
// of dispatch is fail-fast; cache invalidation and run-log recording
// are fail-soft.
func runGenerate(opts *GenerateOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	enableService := opts.EnableService
	if enableService == nil {
		enableService = generator.EnableService
	}
	invalidateCache := opts.InvalidateCache
	if invalidateCache == nil {
		invalidateCache = generator.InvalidateDeviceCache
	}
	recordRun := opts.RecordRun
	if recordRun == nil {
		recordRun = recordToRunLog
	}

	var stampPath string
	if opts.Generator {
		if len(args) != 3 {
			_ = formatter.Error(ErrCodeUsage, "generator mode requires exactly three directory arguments", nil)
			return NewExitError(ExitFailure, "generator mode requires exactly three directory arguments")
		}
		stampPath = generator.StampPath(args[0])
		if generator.StampExists(stampPath) {
			fmt.Fprintf(cmd.ErrOrStderr(), "generation already ran, remove %s to force a re-run\n", stampPath)
			return nil
		}
	}

	started := time.Now()

	// Resolve sources. Explicit paths (direct mode) are ingested in the
	// order given; otherwise the three tier directories are merged.
	var paths []string
	if len(args) > 0 && !opts.Generator {
		paths = args
	} else {
		sources, err := source.Enumerate(opts.RootDir)
		if err != nil {
			_ = formatter.Error(ErrCodeEnumeration, err.Error(), nil)
			return WrapExitError(ExitFailure, "enumerating sources", err)
		}
		for _, src := range sources {
			formatter.VerboseLog("Source %s (%s)", src.Path, src.Tier)
			paths = append(paths, src.Path)
		}
	}

	// Ingest in application order, failing on the first bad source.
	st := model.NewState()
	for _, path := range paths {
		formatter.VerboseLog("Processing input file %s..", path)
		if err := parse.Ingest(st, path); err != nil {
			_ = formatter.Error(ErrCodeParse, err.Error(), nil)
			return WrapExitError(ExitFailure, "invalid source", err)
		}
	}

	// Finalize validates cross-references over the fully merged model.
	// Every source parsed cleanly, so a failure here is an internal
	// invariant violation, not a user error.
	if err := st.Finalize(); err != nil {
		_ = formatter.Error(ErrCodeInternal, err.Error(), nil)
		return WrapExitError(ExitFailure, "finalizing model", err)
	}

	writers := backend.Writers()

	// Remove previous output first so entities dropped from the source
	// configuration do not leave stale backend files.
	if err := backend.CleanupAll(writers, opts.RootDir); err != nil {
		_ = formatter.Error(ErrCodeWrite, err.Error(), nil)
		return WrapExitError(ExitFailure, "cleaning up previous output", err)
	}

	formatter.VerboseLog("Generating output files..")
	res, err := backend.Dispatch(st, opts.RootDir, writers)
	if err != nil {
		_ = formatter.Error(ErrCodeWrite, err.Error(), nil)
		return WrapExitError(ExitFailure, "writing backend output", err)
	}

	if err := backend.FinishAll(writers, opts.RootDir); err != nil {
		_ = formatter.Error(ErrCodeWrite, err.Error(), nil)
		return WrapExitError(ExitFailure, "finishing backend output", err)
	}

	// When NetworkManager is the global renderer, lift its default
	// policy of only managing wifi and wwan devices.
	if st.Renderer() == model.RendererNetworkManager {
		if err := backend.WritePolicyOverride(opts.RootDir); err != nil {
			_ = formatter.Error(ErrCodeWrite, err.Error(), nil)
			return WrapExitError(ExitFailure, "writing policy override", err)
		}
	}

	// Newly written device rule files only take effect after the device
	// daemon drops its cache. Best-effort.
	if res.AnyManaged {
		formatter.VerboseLog("Invalidating device cache..")
		invalidateCache()
	}

	fp, err := fingerprint.Model(st)
	if err != nil {
		_ = formatter.Error(ErrCodeInternal, err.Error(), nil)
		return WrapExitError(ExitFailure, "fingerprinting model", err)
	}
	formatter.VerboseLog("Model fingerprint %s", fp)

	run := runlog.Run{
		ID:          runlog.NewRunID(),
		StartedAt:   started,
		SourceCount: len(paths),
		Definitions: res.DefinitionWrites,
		Routes:      res.RouteWrites,
		Rules:       res.RuleWrites,
		Managed:     res.AnyManaged,
		Fingerprint: fp,
	}
	if err := recordRun(opts.RootDir, run); err != nil {
		formatter.VerboseLog("Run log unavailable: %v", err)
	}

	if opts.Generator {
		if res.AnyManaged {
			if err := enableService(args[0]); err != nil {
				_ = formatter.Error(ErrCodeInternal, err.Error(), nil)
				return WrapExitError(ExitFailure, "enabling managed service", err)
			}
		}
		// The stamp is the last action of a successful run. Failing to
		// record completion must fail the run, or the next invocation
		// would repeat the work.
		if err := generator.WriteStamp(stampPath); err != nil {
			_ = formatter.Error(ErrCodeStamp, err.Error(), nil)
			return WrapExitError(ExitFailure, "writing stamp", err)
		}
	}

	summary := GenerateSummary{
		Sources:     len(paths),
		Definitions: res.DefinitionWrites,
		Routes:      res.RouteWrites,
		Rules:       res.RuleWrites,
		Managed:     res.AnyManaged,
		Fingerprint: fp,
	}
	return outputGenerateSuccess(formatter, summary)
}

// outputGenerateSuccess renders the run summary.
func outputGenerateSuccess(formatter *OutputFormatter, summary GenerateSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(summary)
	}
	if summary.Sources == 0 {
		fmt.Fprintln(formatter.Writer, "✓ No configuration sources found, nothing to do")
		return nil
	}
	fmt.Fprintf(formatter.Writer, "✓ Generated output for %d definition(s), %d route(s), %d rule(s) from %d source(s)\n",
		summary.Definitions, summary.Routes, summary.Rules, summary.Sources)
	return nil
}

// recordToRunLog appends the run to the SQLite run log under root.
func recordToRunLog(root string, run runlog.Run) error {
	store, err := runlog.Open(filepath.Join(root, runlog.DefaultPath))
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(run)
}

// asParseError is a helper for tests asserting on ingestion failures.
func asParseError(err error) (*parse.ParseError, bool) {
	var parseErr *parse.ParseError
	if errors.As(err, &parseErr) {
		return parseErr, true
	}
	return nil, false
}
