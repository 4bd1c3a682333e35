package runquery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/internal/output"
)

const DefaultFilenamePattern = "{trace_id}.jsonl"

type ExportOptions struct {
	OutputDir       string
	FilenamePattern string
	Detail          Detail
}

type traceResult struct {
	traceID string
	runs    []langsmith.Run
	err     error
}

// ExportTraces writes each trace to its own JSONL file under OutputDir. When
// TraceIDs is set those traces are exported as given; otherwise the newest
// root runs matching opts select them. Traces that fail to fetch are
// reported and skipped.
func (s *Service) ExportTraces(ctx context.Context, opts FilterOptions, export ExportOptions) error {
	dir, err := filepath.Abs(export.OutputDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", export.OutputDir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	traceIDs := SplitList(opts.TraceIDs)
	if len(traceIDs) > 0 {
		fmt.Fprintf(s.Out, "Exporting %d specified trace(s)...\n", len(traceIDs))
	} else {
		if opts.Limit <= 0 {
			opts.Limit = DefaultTraceExportLimit
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
		for _, root := range roots {
			traceIDs = append(traceIDs, root.TraceKey())
		}
		fmt.Fprintf(s.Out, "✓ Found %d trace(s). Fetching full hierarchy...\n", len(traceIDs))
	}

	results := s.fetchTraces(ctx, traceIDs, opts.Project)

	var exported []traceResult
	for _, res := range results {
		if res.err != nil {
			fmt.Fprintf(s.errOut(), "Warning: Failed %s: %v\n", res.traceID, res.err)
			if s.OnFetchFailure != nil {
				s.OnFetchFailure(ctx, res.traceID, res.err)
			}
			continue
		}
		if len(res.runs) == 0 {
			continue
		}
		exported = append(exported, res)
	}
	if len(exported) == 0 {
		fmt.Fprintln(s.Out, "No traces exported")
		return nil
	}

	pattern := export.FilenamePattern
	if pattern == "" {
		pattern = DefaultFilenamePattern
	}
	fmt.Fprintf(s.Out, "Saving %d trace(s) to %s/\n", len(exported), dir)
	for i, res := range exported {
		filename := ExportFilename(pattern, res.traceID, i+1)
		path := filepath.Join(dir, filename)
		if err := WriteJSONL(path, res.runs, export.Detail); err != nil {
			return err
		}
		s.archive(path, res.runs)
		fmt.Fprintf(s.Out, "  ✓ %s → %s (%d runs)\n", output.ShortID(res.traceID), filename, len(res.runs))
	}
	fmt.Fprintf(s.Out, "\n✓ Exported %d trace(s) to %s/\n", len(exported), dir)
	return nil
}

// fetchTraces fetches every trace with bounded parallelism. Results keep
// the order of traceIDs.
func (s *Service) fetchTraces(ctx context.Context, traceIDs []string, project string) []traceResult {
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultFetchConcurrency
	}
	results := make([]traceResult, len(traceIDs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, traceID := range traceIDs {
		g.Go(func() error {
			runs, err := s.traceRuns(ctx, traceID, project)
			results[i] = traceResult{traceID: traceID, runs: runs, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

var indexPlaceholder = regexp.MustCompile(`\{index(?::0?(\d+)d)?\}`)

// ExportFilename expands {trace_id} and {index} (optionally zero padded as
// {index:03d}) and forces a .jsonl extension.
func ExportFilename(pattern, traceID string, index int) string {
	name := strings.ReplaceAll(pattern, "{trace_id}", traceID)
	name = indexPlaceholder.ReplaceAllStringFunc(name, func(match string) string {
		sub := indexPlaceholder.FindStringSubmatch(match)
		if sub[1] == "" {
			return strconv.Itoa(index)
		}
		width, _ := strconv.Atoi(sub[1])
		return fmt.Sprintf("%0*d", width, index)
	})
	if strings.HasSuffix(name, ".jsonl") {
		return name
	}
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		return name[:dot] + ".jsonl"
	}
	return name + ".jsonl"
}
