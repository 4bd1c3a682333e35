package main

import (
	"context"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ongoingai/smithkit/internal/runquery"
)

var runTypes = []string{"llm", "chain", "tool", "retriever", "prompt", "parser"}

// filterFlags binds the filter flags shared by the traces and runs commands.
type filterFlags struct {
	opts       runquery.FilterOptions
	withError  bool
	noError    bool
	minLatency float64
	maxLatency float64
	minTokens  int
}

func addFilterFlags(cmd *cobra.Command, f *filterFlags, includeRunType bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.opts.TraceIDs, "trace-ids", "", "Comma-separated trace IDs to filter")
	flags.IntVarP(&f.opts.Limit, "limit", "n", 0, "Max results to return")
	flags.StringVar(&f.opts.Project, "project", "", "Project name (overrides LANGSMITH_PROJECT)")
	flags.IntVar(&f.opts.LastNMinutes, "last-n-minutes", 0, "Only from last N minutes")
	flags.StringVar(&f.opts.Since, "since", "", "Only since ISO timestamp")
	if includeRunType {
		flags.StringVar(&f.opts.RunType, "run-type", "", "Filter by run type: llm, chain, tool, retriever, prompt or parser")
	}
	flags.BoolVar(&f.withError, "error", false, "Only runs that errored")
	flags.BoolVar(&f.noError, "no-error", false, "Only runs without errors")
	flags.StringVar(&f.opts.Name, "name", "", "Filter by name pattern (case-insensitive search)")
	flags.Float64Var(&f.minLatency, "min-latency", 0, "Min latency in seconds")
	flags.Float64Var(&f.maxLatency, "max-latency", 0, "Max latency in seconds")
	flags.IntVar(&f.minTokens, "min-tokens", 0, "Min total tokens")
	flags.StringVar(&f.opts.Tags, "tags", "", "Filter by tags (comma-separated, matches any)")
	flags.StringVar(&f.opts.RawFilter, "filter", "", "Raw LangSmith filter query")
}

// options resolves the tri-state and optional numeric flags, which only
// apply when given on the command line.
func (f *filterFlags) options(cmd *cobra.Command) (runquery.FilterOptions, error) {
	opts := f.opts
	flags := cmd.Flags()

	if f.withError && f.noError {
		return opts, usageErrorf("--error and --no-error are mutually exclusive")
	}
	if flags.Changed("error") || flags.Changed("no-error") {
		errored := f.withError && !f.noError
		opts.Error = &errored
	}
	if flags.Changed("min-latency") {
		v := f.minLatency
		opts.MinLatency = &v
	}
	if flags.Changed("max-latency") {
		v := f.maxLatency
		opts.MaxLatency = &v
	}
	if flags.Changed("min-tokens") {
		v := f.minTokens
		opts.MinTokens = &v
	}
	if opts.RunType != "" && !slices.Contains(runTypes, opts.RunType) {
		return opts, usageErrorf("invalid --run-type %q: expected %s", opts.RunType, joinChoices(runTypes))
	}
	if opts.Limit < 0 {
		return opts, usageErrorf("--limit must be positive")
	}
	return opts, nil
}

// detailFlags selects the optional run fields included in output.
type detailFlags struct {
	metadata bool
	io       bool
	full     bool
}

func addDetailFlags(cmd *cobra.Command, d *detailFlags) {
	cmd.Flags().BoolVar(&d.metadata, "include-metadata", false, "Include timing/tokens/costs")
	cmd.Flags().BoolVar(&d.io, "include-io", false, "Include inputs/outputs")
	cmd.Flags().BoolVar(&d.full, "full", false, "Include everything (metadata + inputs/outputs)")
}

func (d detailFlags) detail() runquery.Detail {
	if d.full {
		return runquery.Full
	}
	return runquery.Detail{Metadata: d.metadata, IO: d.io}
}

// withQueryService opens a session with the archive and runs fn against a
// query service backed by the LangSmith client.
func (c *cli) withQueryService(ctx context.Context, command string, fn func(*runquery.Service) error) error {
	s, err := c.openSession(ctx, sessionOptions{archive: true})
	if err != nil {
		return err
	}
	defer s.close()

	client, err := s.client()
	if err != nil {
		return clientError(err)
	}
	svc := &runquery.Service{
		Source:         client,
		DefaultProject: s.cfg.LangSmith.Project,
		Out:            c.out,
		ErrOut:         c.errOut,
		Now:            c.now,
		OnFetchFailure: func(ctx context.Context, traceID string, err error) {
			s.otel.RecordFetchFailure(ctx, command)
			s.logger.Debug("trace fetch failed", "command", command, "trace_id", traceID, "error", err)
		},
	}
	if archiver := s.runArchiver(); archiver != nil {
		svc.Archive = archiver
	}
	return fn(svc)
}

func (c *cli) tracesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Operations on trace trees (root run and all children)",
		Long: "Filters apply to the ROOT RUN of each trace. When a trace matches,\n" +
			"the entire hierarchy is included.",
		Args: noArgs,
		RunE: runGroup,
	}
	cmd.AddCommand(c.tracesListCommand(), c.tracesGetCommand(), c.tracesExportCommand())
	return cmd
}

func (c *cli) tracesListCommand() *cobra.Command {
	var filters filterFlags
	var format string
	var includeMetadata, showHierarchy bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List traces matching filters (default limit 20)",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := filters.options(cmd)
			if err != nil {
				return err
			}
			format, err := normalizeChoice("format", format, "pretty", "json", "pretty")
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return c.withQueryService(cmd.Context(), "traces list", func(svc *runquery.Service) error {
				return svc.ListTraces(cmd.Context(), opts, runquery.TraceListView{
					Format:          format,
					IncludeMetadata: includeMetadata,
					ShowHierarchy:   showHierarchy,
				})
			})
		},
	}
	addFilterFlags(cmd, &filters, false)
	cmd.Flags().StringVar(&format, "format", "pretty", "Output format: json or pretty")
	cmd.Flags().BoolVar(&includeMetadata, "include-metadata", false, "Include timing/tokens/costs")
	cmd.Flags().BoolVar(&showHierarchy, "show-hierarchy", false, "Expand each trace to show run tree")
	return cmd
}

func (c *cli) tracesGetCommand() *cobra.Command {
	var project, format, outputPath string
	var details detailFlags
	cmd := &cobra.Command{
		Use:   "get TRACE_ID",
		Short: "Get a single trace with its full hierarchy",
		Args:  exactArgs(1, "TRACE_ID"),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := normalizeChoice("format", format, "pretty", "json", "jsonl", "pretty")
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return c.withQueryService(cmd.Context(), "traces get", func(svc *runquery.Service) error {
				return svc.GetTrace(cmd.Context(), args[0], project, runquery.GetView{
					Format:     format,
					OutputPath: outputPath,
					Detail:     details.detail(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&format, "format", "pretty", "Output format: json, jsonl (dataset-compatible) or pretty")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file")
	addDetailFlags(cmd, &details)
	return cmd
}

func (c *cli) tracesExportCommand() *cobra.Command {
	var filters filterFlags
	var details detailFlags
	var pattern string
	cmd := &cobra.Command{
		Use:   "export OUTPUT_DIR",
		Short: "Export traces to one JSONL file each (default limit 10)",
		Args:  exactArgs(1, "OUTPUT_DIR"),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := filters.options(cmd)
			if err != nil {
				return err
			}
			return c.withQueryService(cmd.Context(), "traces export", func(svc *runquery.Service) error {
				return svc.ExportTraces(cmd.Context(), opts, runquery.ExportOptions{
					OutputDir:       args[0],
					FilenamePattern: pattern,
					Detail:          details.detail(),
				})
			})
		},
	}
	addFilterFlags(cmd, &filters, false)
	addDetailFlags(cmd, &details)
	cmd.Flags().StringVar(&pattern, "filename-pattern", runquery.DefaultFilenamePattern, "Filename pattern ({trace_id}, {index})")
	return cmd
}

func (c *cli) runsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Operations on individual runs (flat)",
		Long:  "Filters apply to ANY run. Results are a flat list.",
		Args:  noArgs,
		RunE:  runGroup,
	}
	cmd.AddCommand(c.runsListCommand(), c.runsGetCommand(), c.runsExportCommand())
	return cmd
}

func (c *cli) runsListCommand() *cobra.Command {
	var filters filterFlags
	var format string
	var includeMetadata bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs matching filters (default limit 50)",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := filters.options(cmd)
			if err != nil {
				return err
			}
			format, err := normalizeChoice("format", format, "pretty", "json", "pretty")
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return c.withQueryService(cmd.Context(), "runs list", func(svc *runquery.Service) error {
				return svc.ListRuns(cmd.Context(), opts, runquery.RunListView{Format: format, IncludeMetadata: includeMetadata})
			})
		},
	}
	addFilterFlags(cmd, &filters, true)
	cmd.Flags().StringVar(&format, "format", "pretty", "Output format: json or pretty")
	cmd.Flags().BoolVar(&includeMetadata, "include-metadata", false, "Include timing/tokens/costs")
	return cmd
}

func (c *cli) runsGetCommand() *cobra.Command {
	var format, outputPath string
	var details detailFlags
	cmd := &cobra.Command{
		Use:   "get RUN_ID",
		Short: "Get a single run by ID",
		Args:  exactArgs(1, "RUN_ID"),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := normalizeChoice("format", format, "pretty", "json", "pretty")
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return c.withQueryService(cmd.Context(), "runs get", func(svc *runquery.Service) error {
				return svc.GetRun(cmd.Context(), args[0], runquery.GetView{
					Format:     format,
					OutputPath: outputPath,
					Detail:     details.detail(),
				})
			})
		},
	}
	// Runs are read by id; the project flag is accepted for symmetry with traces get.
	cmd.Flags().String("project", "", "Project name")
	cmd.Flags().StringVar(&format, "format", "pretty", "Output format: json or pretty")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file")
	addDetailFlags(cmd, &details)
	return cmd
}

func (c *cli) runsExportCommand() *cobra.Command {
	var filters filterFlags
	var details detailFlags
	cmd := &cobra.Command{
		Use:   "export OUTPUT_FILE",
		Short: "Export matching runs to a JSONL file (default limit 100)",
		Args:  exactArgs(1, "OUTPUT_FILE"),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := filters.options(cmd)
			if err != nil {
				return err
			}
			return c.withQueryService(cmd.Context(), "runs export", func(svc *runquery.Service) error {
				return svc.ExportRuns(cmd.Context(), args[0], opts, details.detail())
			})
		},
	}
	addFilterFlags(cmd, &filters, true)
	addDetailFlags(cmd, &details)
	return cmd
}
