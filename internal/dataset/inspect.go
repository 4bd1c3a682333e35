package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/internal/output"
)

const (
	DefaultShowLimit   = 5
	DefaultExportLimit = 100
	listDatasetsLimit  = 100
	structurePreview   = 500
	csvCellWidth       = 100
)

// Inspector reads remote datasets.
type Inspector struct {
	Client Client
	Out    io.Writer
	ErrOut io.Writer
}

func (in *Inspector) errOut() io.Writer {
	if in.ErrOut != nil {
		return in.ErrOut
	}
	return in.Out
}

func (in *Inspector) ListDatasets(ctx context.Context) error {
	datasets, err := in.Client.ListDatasets(ctx, listDatasetsLimit)
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}
	if len(datasets) == 0 {
		fmt.Fprintln(in.Out, "No datasets found")
		return nil
	}

	fmt.Fprintln(in.Out, "LangSmith Datasets")
	table := output.NewTable(in.Out, "Name", "ID", "Description", "Examples")
	for _, ds := range datasets {
		count := 0
		if ds.ExampleCount != nil {
			count = *ds.ExampleCount
		}
		if err := table.Append(ds.Name, output.ShortID(ds.ID), output.Truncate(ds.Description, 50), strconv.Itoa(count)); err != nil {
			return fmt.Errorf("render datasets table: %w", err)
		}
	}
	return table.Render()
}

// Show prints up to limit examples of a remote dataset.
func (in *Inspector) Show(ctx context.Context, name string, limit int, format string) error {
	ds, examples, ok, err := in.examples(ctx, name, limit)
	if err != nil || !ok {
		return err
	}
	fmt.Fprintf(in.Out, "Dataset: %s\n", ds.Name)
	total := "None"
	if ds.ExampleCount != nil {
		total = strconv.Itoa(*ds.ExampleCount)
	}
	fmt.Fprintf(in.Out, "Total examples: %s\n\n", total)
	return displayExamples(in.Out, examples, format, limit)
}

// Export saves up to limit examples of a remote dataset as indented JSON.
func (in *Inspector) Export(ctx context.Context, name, path string, limit int) error {
	_, examples, ok, err := in.examples(ctx, name, limit)
	if err != nil || !ok {
		return err
	}
	encoded, err := output.IndentedJSON(examples)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(encoded), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(in.Out, "✓ Exported %d examples to %s\n", len(examples), path)
	return nil
}

// examples loads a dataset's examples as inputs/outputs rows. ok is false
// when the dataset is missing or empty; both cases are reported.
func (in *Inspector) examples(ctx context.Context, name string, limit int) (langsmith.Dataset, []any, bool, error) {
	ds, err := in.Client.ReadDatasetByName(ctx, name)
	if errors.Is(err, langsmith.ErrNotFound) {
		fmt.Fprintf(in.errOut(), "Error: Dataset '%s' not found\n", name)
		return ds, nil, false, nil
	}
	if err != nil {
		return ds, nil, false, fmt.Errorf("read dataset %q: %w", name, err)
	}
	remote, err := in.Client.ListExamples(ctx, ds.ID, limit)
	if err != nil {
		return ds, nil, false, fmt.Errorf("list examples of %q: %w", name, err)
	}
	if len(remote) == 0 {
		fmt.Fprintf(in.errOut(), "No examples in dataset '%s'\n", name)
		return ds, nil, false, nil
	}
	rows := make([]any, len(remote))
	for i, ex := range remote {
		rows[i] = NewExample().Set("inputs", ex.Inputs).Set("outputs", ex.Outputs)
	}
	return ds, rows, true, nil
}

// ViewFile prints up to limit examples of a local .json or .csv dataset.
func ViewFile(out io.Writer, path string, limit int, format string) error {
	switch filepath.Ext(path) {
	case ".json":
		records, err := ReadJSONFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "File: %s\nTotal: %d\n\n", filepath.Base(path), len(records))
		return displayExamples(out, records, format, limit)
	case ".csv":
		header, rows, err := ReadCSVFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "File: %s\nTotal: %d\n\n", filepath.Base(path), len(rows))
		shown := rows[:min(limit, len(rows))]
		if format == "json" {
			objects := make([]*Example, len(shown))
			for i, row := range shown {
				ex := NewExample()
				for j, col := range header {
					ex.Set(col, row[j])
				}
				objects[i] = ex
			}
			encoded, err := output.IndentedJSON(objects)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, encoded)
			return nil
		}
		if len(header) == 0 {
			return nil
		}
		table := output.NewTable(out, header...)
		for _, row := range shown {
			cells := make([]string, len(header))
			for j := range header {
				cells[j] = output.Truncate(row[j], csvCellWidth)
			}
			if err := table.Append(cells...); err != nil {
				return fmt.Errorf("render csv table: %w", err)
			}
		}
		return table.Render()
	default:
		return fmt.Errorf("%w '%s'", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Structure summarises a local dataset file: a preview of the first
// example and per-field coverage.
func Structure(out io.Writer, path string) error {
	fmt.Fprintf(out, "File: %s\n", filepath.Base(path))

	switch filepath.Ext(path) {
	case ".json":
		records, err := ReadJSONFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Format: JSON\nExamples: %d\n\n", len(records))
		if len(records) == 0 {
			return nil
		}
		preview, err := output.IndentedJSON(records[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Structure:\n%s\n\n", output.Truncate(preview, structurePreview))

		counts := map[string]int{}
		for _, rec := range records {
			if ex, ok := rec.(*Example); ok {
				for _, key := range ex.Keys() {
					counts[key]++
				}
			}
		}
		keys := make([]string, 0, len(counts))
		for key := range counts {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "Fields:")
		for _, key := range keys {
			fmt.Fprintf(out, "  %s: %s\n", key, coverage(counts[key], len(records)))
		}
		return nil
	case ".csv":
		header, rows, err := ReadCSVFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Format: CSV\nRows: %d\n\n", len(rows))
		if len(rows) == 0 {
			return nil
		}
		fmt.Fprintln(out, "Columns:")
		for j, col := range header {
			nonEmpty := 0
			for _, row := range rows {
				if row[j] != "" {
					nonEmpty++
				}
			}
			fmt.Fprintf(out, "  %s: %s\n", col, coverage(nonEmpty, len(rows)))
		}
		return nil
	default:
		return fmt.Errorf("%w '%s'", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func coverage(n, total int) string {
	return fmt.Sprintf("%d/%d (%.0f%%)", n, total, float64(n)/float64(total)*100)
}

// displayExamples prints records as one JSON document or, in pretty form,
// one numbered block per record with inputs and outputs split out.
func displayExamples(out io.Writer, records []any, format string, limit int) error {
	shown := records[:min(limit, len(records))]
	if format == "json" {
		encoded, err := output.IndentedJSON(shown)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, encoded)
		return nil
	}

	for i, rec := range shown {
		fmt.Fprintf(out, "Example %d:\n", i+1)
		ex, isExample := rec.(*Example)
		_, hasInputs := exGet(ex, "inputs")
		_, hasOutputs := exGet(ex, "outputs")
		if isExample && hasInputs && hasOutputs {
			inputs, _ := ex.Get("inputs")
			if err := printSection(out, "Inputs", inputs); err != nil {
				return err
			}
			if outputs, _ := ex.Get("outputs"); truthy(outputs) {
				if err := printSection(out, "Outputs", outputs); err != nil {
					return err
				}
			}
		} else {
			encoded, err := output.IndentedJSON(rec)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, encoded)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func exGet(ex *Example, key string) (any, bool) {
	if ex == nil {
		return nil, false
	}
	return ex.Get(key)
}

func printSection(out io.Writer, title string, v any) error {
	encoded, err := output.IndentedJSON(v)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s:\n%s\n", title, encoded)
	return nil
}
