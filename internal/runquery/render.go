package runquery

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/internal/output"
)

// PrintTree writes the descendants of parentID, children ordered by start
// time. Runs already printed are skipped so malformed parent links cannot
// loop.
func PrintTree(w io.Writer, runs []langsmith.Run, parentID string, indent int) {
	printTree(w, runs, parentID, indent, map[string]bool{})
}

func printTree(w io.Writer, runs []langsmith.Run, parentID string, indent int, visited map[string]bool) {
	var children []langsmith.Run
	for _, run := range runs {
		if run.ParentID() == parentID {
			children = append(children, run)
		}
	}
	SortOldestFirst(children)

	prefix := strings.Repeat("  ", indent)
	for _, run := range children {
		if visited[run.ID] {
			continue
		}
		visited[run.ID] = true

		duration := ""
		if ms := DurationMS(run); ms != nil && *ms != 0 {
			duration = fmt.Sprintf(" (%dms)", *ms)
		}
		fmt.Fprintf(w, "%s└── %s (%s)%s\n", prefix, run.Name, run.RunType, duration)
		fmt.Fprintf(w, "%s    run_id: %s\n", prefix, run.ID)
		if parent := run.ParentID(); parent != "" {
			fmt.Fprintf(w, "%s    parent: %s\n", prefix, parent)
		}

		printTree(w, runs, run.ID, indent+1, visited)
	}
}

// PrintRunsTable renders runs newest first.
func PrintRunsTable(w io.Writer, runs []langsmith.Run, includeMetadata, showTraceID bool) error {
	headers := []string{"Time", "Name", "Type"}
	if showTraceID {
		headers = append(headers, "Trace ID")
	}
	headers = append(headers, "Run ID")
	if includeMetadata {
		headers = append(headers, "Duration", "Status")
	}

	sorted := append([]langsmith.Run(nil), runs...)
	SortNewestFirst(sorted)

	table := output.NewTable(w, headers...)
	for _, run := range sorted {
		row := []string{
			orNA(clock(run)),
			orNA(output.Truncate(run.Name, 40)),
			orNA(run.RunType),
		}
		if showTraceID {
			row = append(row, output.ShortID(run.TraceKey()))
		}
		row = append(row, output.ShortID(run.ID))
		if includeMetadata {
			row = append(row, FormatDuration(DurationMS(run)), orNA(run.Status))
		}
		if err := table.Append(row...); err != nil {
			return fmt.Errorf("render runs table: %w", err)
		}
	}
	return table.Render()
}

func clock(run langsmith.Run) string {
	if run.StartTime == nil || run.StartTime.IsZero() {
		return ""
	}
	return run.StartTime.UTC().Format("15:04:05")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// writeJSON prints indented JSON or saves it to path without a trailing
// newline.
func writeJSON(out io.Writer, v any, path string) error {
	encoded, err := output.IndentedJSON(v)
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Fprintln(out, encoded)
		return nil
	}
	if err := os.WriteFile(path, []byte(encoded), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "✓ Saved to %s\n", path)
	return nil
}

// jsonLines encodes one record per line without a trailing newline.
func jsonLines(records []Record) (string, error) {
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		line, err := output.JSON(rec)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

// WriteJSONL writes one record per line, each newline-terminated.
func WriteJSONL(path string, runs []langsmith.Run, detail Detail) error {
	content, err := jsonLines(ExtractAll(runs, detail))
	if err != nil {
		return err
	}
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
