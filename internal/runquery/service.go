package runquery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ongoingai/smithkit/internal/langsmith"
)

const (
	DefaultTraceListLimit   = 20
	DefaultTraceExportLimit = 10
	DefaultRunListLimit     = 50
	DefaultRunExportLimit   = 100
	DefaultFetchConcurrency = 5
)

// RunSource is the subset of the LangSmith client the query layer needs.
type RunSource interface {
	ListRuns(ctx context.Context, q langsmith.RunQuery) ([]langsmith.Run, error)
	ReadRun(ctx context.Context, runID string) (langsmith.Run, error)
}

// Archiver receives every batch of runs written to disk.
type Archiver interface {
	ArchiveRuns(source string, runs []langsmith.Run)
}

type Service struct {
	Source         RunSource
	DefaultProject string
	Out            io.Writer
	ErrOut         io.Writer
	Archive        Archiver
	// OnFetchFailure is called for each trace that could not be fetched
	// during an export.
	OnFetchFailure func(ctx context.Context, traceID string, err error)
	Concurrency    int
	Now            func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) errOut() io.Writer {
	if s.ErrOut != nil {
		return s.ErrOut
	}
	return s.Out
}

func (s *Service) archive(source string, runs []langsmith.Run) {
	if s.Archive != nil && len(runs) > 0 {
		s.Archive.ArchiveRuns(source, runs)
	}
}

// traceRuns fetches every run in one trace.
func (s *Service) traceRuns(ctx context.Context, traceID, project string) ([]langsmith.Run, error) {
	return s.Source.ListRuns(ctx, langsmith.RunQuery{
		Trace:       traceID,
		ProjectName: ResolveProject(project, s.DefaultProject),
	})
}

type TraceListView struct {
	Format          string
	IncludeMetadata bool
	ShowHierarchy   bool
}

// ListTraces lists root runs matching opts.
func (s *Service) ListTraces(ctx context.Context, opts FilterOptions, view TraceListView) error {
	if opts.Limit <= 0 {
		opts.Limit = DefaultTraceListLimit
	}
	opts.IsRoot = true
	opts.RunType = ""

	q, err := BuildQuery(opts, s.DefaultProject, s.now())
	if err != nil {
		return err
	}
	roots, err := s.Source.ListRuns(ctx, q)
	if err != nil {
		return fmt.Errorf("fetch traces: %w", err)
	}
	if len(roots) == 0 {
		fmt.Fprintln(s.Out, "No traces found")
		return nil
	}
	SortNewestFirst(roots)

	switch {
	case view.ShowHierarchy:
		fmt.Fprintf(s.Out, "✓ Found %d trace(s). Fetching hierarchy...\n\n", len(roots))
		for _, root := range roots {
			traceID := root.TraceKey()
			runs, err := s.traceRuns(ctx, traceID, opts.Project)
			if err != nil {
				fmt.Fprintf(s.errOut(), "Warning: Failed %s: %v\n", traceID, err)
				continue
			}
			fmt.Fprintf(s.Out, "TRACE: %s\n", traceID)
			fmt.Fprintf(s.Out, "  Root: %s (%d runs)\n", root.Name, len(runs))
			if view.IncludeMetadata {
				fmt.Fprintf(s.Out, "  Duration: %s\n", FormatDuration(DurationMS(root)))
			}
			PrintTree(s.Out, runs, root.ID, 1)
			fmt.Fprintln(s.Out)
		}
		return nil
	case view.Format == "json":
		return writeJSON(s.Out, ExtractAll(roots, Detail{Metadata: view.IncludeMetadata}), "")
	default:
		fmt.Fprintf(s.Out, "✓ Found %d trace(s)\n\n", len(roots))
		if err := PrintRunsTable(s.Out, roots, view.IncludeMetadata, true); err != nil {
			return err
		}
		fmt.Fprintln(s.Out, "\nTip: Use --show-hierarchy to expand each trace")
		return nil
	}
}

type GetView struct {
	Format     string
	OutputPath string
	Detail     Detail
}

// GetTrace prints or saves every run of one trace.
func (s *Service) GetTrace(ctx context.Context, traceID, project string, view GetView) error {
	runs, err := s.traceRuns(ctx, traceID, project)
	if err != nil {
		return fmt.Errorf("fetch trace %s: %w", traceID, err)
	}
	if len(runs) == 0 {
		fmt.Fprintf(s.errOut(), "No runs found for trace %s\n", traceID)
		return nil
	}

	switch view.Format {
	case "jsonl":
		content, err := jsonLines(ExtractAll(runs, view.Detail))
		if err != nil {
			return err
		}
		if view.OutputPath == "" {
			fmt.Fprintln(s.Out, content)
			return nil
		}
		if err := os.WriteFile(view.OutputPath, []byte(content+"\n"), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", view.OutputPath, err)
		}
		s.archive(view.OutputPath, runs)
		fmt.Fprintf(s.Out, "✓ Saved %d runs to %s\n", len(runs), view.OutputPath)
		return nil
	case "json":
		data := struct {
			TraceID  string   `json:"trace_id"`
			RunCount int      `json:"run_count"`
			Runs     []Record `json:"runs"`
		}{TraceID: traceID, RunCount: len(runs), Runs: ExtractAll(runs, view.Detail)}
		if err := writeJSON(s.Out, data, view.OutputPath); err != nil {
			return err
		}
		if view.OutputPath != "" {
			s.archive(view.OutputPath, runs)
		}
		return nil
	default:
		fmt.Fprintf(s.Out, "✓ Found %d run(s) in trace\n\n", len(runs))
		for _, root := range runs {
			if !root.IsRoot() {
				continue
			}
			fmt.Fprintf(s.Out, "ROOT: %s (run_id: %s)\n", root.Name, root.ID)
			PrintTree(s.Out, runs, root.ID, 1)
			fmt.Fprintln(s.Out)
		}
		return nil
	}
}

type RunListView struct {
	Format          string
	IncludeMetadata bool
}

// ListRuns lists individual runs matching opts as a flat list.
func (s *Service) ListRuns(ctx context.Context, opts FilterOptions, view RunListView) error {
	if opts.Limit <= 0 {
		opts.Limit = DefaultRunListLimit
	}
	opts.IsRoot = false

	q, err := BuildQuery(opts, s.DefaultProject, s.now())
	if err != nil {
		return err
	}
	runs, err := s.Source.ListRuns(ctx, q)
	if err != nil {
		return fmt.Errorf("fetch runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(s.Out, "No runs found")
		return nil
	}
	SortNewestFirst(runs)

	if view.Format == "json" {
		return writeJSON(s.Out, ExtractAll(runs, Detail{Metadata: view.IncludeMetadata}), "")
	}
	fmt.Fprintf(s.Out, "✓ Found %d run(s)\n\n", len(runs))
	return PrintRunsTable(s.Out, runs, view.IncludeMetadata, true)
}

// GetRun prints or saves a single run.
func (s *Service) GetRun(ctx context.Context, runID string, view GetView) error {
	run, err := s.Source.ReadRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("fetch run %s: %w", runID, err)
	}

	if view.Format == "json" {
		return writeJSON(s.Out, Extract(run, view.Detail), view.OutputPath)
	}

	fmt.Fprintf(s.Out, "✓ Found run\n\n")
	fmt.Fprintf(s.Out, "Run: %s\n", run.Name)
	fmt.Fprintf(s.Out, "  ID: %s\n", run.ID)
	fmt.Fprintf(s.Out, "  Trace ID: %s\n", run.TraceKey())
	fmt.Fprintf(s.Out, "  Type: %s\n", run.RunType)
	parent := run.ParentID()
	if parent == "" {
		parent = "None (root)"
	}
	fmt.Fprintf(s.Out, "  Parent: %s\n", parent)
	if view.Detail.Metadata {
		fmt.Fprintf(s.Out, "  Duration: %s\n", FormatDuration(DurationMS(run)))
		fmt.Fprintf(s.Out, "  Status: %s\n", orNA(run.Status))
	}
	if view.Detail.IO {
		fmt.Fprintln(s.Out, "\nInputs:")
		if len(run.Inputs) > 0 {
			if err := writeJSON(s.Out, run.Inputs, ""); err != nil {
				return err
			}
		}
		fmt.Fprintln(s.Out, "\nOutputs:")
		if len(run.Outputs) > 0 {
			if err := writeJSON(s.Out, run.Outputs, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExportRuns writes matching runs, newest first, to a single JSONL file.
func (s *Service) ExportRuns(ctx context.Context, outputFile string, opts FilterOptions, detail Detail) error {
	if opts.Limit <= 0 {
		opts.Limit = DefaultRunExportLimit
	}
	opts.IsRoot = false

	path, err := filepath.Abs(outputFile)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", outputFile, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	q, err := BuildQuery(opts, s.DefaultProject, s.now())
	if err != nil {
		return err
	}
	runs, err := s.Source.ListRuns(ctx, q)
	if err != nil {
		return fmt.Errorf("fetch runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(s.Out, "No runs found")
		return nil
	}
	SortNewestFirst(runs)

	path = ForceJSONLExtension(path)
	if err := WriteJSONL(path, runs, detail); err != nil {
		return err
	}
	s.archive(path, runs)
	fmt.Fprintf(s.Out, "✓ Exported %d run(s) to %s\n", len(runs), path)
	return nil
}

// ForceJSONLExtension replaces the final extension of path with .jsonl.
func ForceJSONLExtension(path string) string {
	if strings.HasSuffix(path, ".jsonl") {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".jsonl"
}
