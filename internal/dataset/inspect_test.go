package dataset

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ongoingai/smithkit/internal/langsmith"
)

func TestInspectorListDatasets(t *testing.T) {
	t.Parallel()

	count := 12
	datasets := &fakeDatasets{existing: map[string]langsmith.Dataset{
		"qa": {ID: "0123456789abcdef-rest", Name: "qa", Description: strings.Repeat("d", 60), ExampleCount: &count},
	}}
	var out bytes.Buffer
	in := &Inspector{Client: datasets, Out: &out}
	if err := in.ListDatasets(context.Background()); err != nil {
		t.Fatalf("ListDatasets() error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"LangSmith Datasets", "qa", "0123456789abcdef...", strings.Repeat("d", 50), "12"} {
		if !strings.Contains(got, want) {
			t.Fatalf("table missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, strings.Repeat("d", 51)) {
		t.Fatalf("description not truncated:\n%s", got)
	}

	out.Reset()
	in.Client = &fakeDatasets{}
	if err := in.ListDatasets(context.Background()); err != nil {
		t.Fatalf("ListDatasets(empty) error: %v", err)
	}
	if out.String() != "No datasets found\n" {
		t.Fatalf("out=%q", out.String())
	}
}

func TestInspectorShowAndExport(t *testing.T) {
	t.Parallel()

	count := 2
	datasets := &fakeDatasets{
		existing: map[string]langsmith.Dataset{"qa": {ID: "1", Name: "qa", ExampleCount: &count}},
		examples: map[string][]langsmith.Example{"1": {
			{Inputs: map[string]any{"q": "a"}, Outputs: map[string]any{"r": "b"}},
			{Inputs: map[string]any{"q": "c"}},
		}},
	}
	var out bytes.Buffer
	in := &Inspector{Client: datasets, Out: &out}
	if err := in.Show(context.Background(), "qa", 5, "pretty"); err != nil {
		t.Fatalf("Show() error: %v", err)
	}
	want := strings.Join([]string{
		"Dataset: qa",
		"Total examples: 2",
		"",
		"Example 1:",
		"Inputs:",
		"{\n  \"q\": \"a\"\n}",
		"Outputs:",
		"{\n  \"r\": \"b\"\n}",
		"",
		"Example 2:",
		"Inputs:",
		"{\n  \"q\": \"c\"\n}",
		"",
		"",
	}, "\n")
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Fatalf("show mismatch (-want +got):\n%s", diff)
	}

	out.Reset()
	path := filepath.Join(t.TempDir(), "qa.json")
	if err := in.Export(context.Background(), "qa", path, 1); err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != "[\n  {\n    \"inputs\": {\n      \"q\": \"a\"\n    },\n    \"outputs\": {\n      \"r\": \"b\"\n    }\n  }\n]" {
		t.Fatalf("export=%s", data)
	}
	if out.String() != "✓ Exported 1 examples to "+path+"\n" {
		t.Fatalf("out=%q", out.String())
	}
}

func TestInspectorShowMissingDataset(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	in := &Inspector{Client: &fakeDatasets{}, Out: &out}
	if err := in.Show(context.Background(), "nope", 5, "json"); err != nil {
		t.Fatalf("Show() error: %v", err)
	}
	if out.String() != "Error: Dataset 'nope' not found\n" {
		t.Fatalf("out=%q", out.String())
	}
}

func TestViewFileCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ds.csv")
	content := "question,answer\nq1," + strings.Repeat("a", 120) + "\nq2,b\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	var out bytes.Buffer
	if err := ViewFile(&out, path, 1, "pretty"); err != nil {
		t.Fatalf("ViewFile() error: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, "File: ds.csv\nTotal: 2\n\n") {
		t.Fatalf("out=%q", got)
	}
	if !strings.Contains(got, strings.Repeat("a", 100)) || strings.Contains(got, strings.Repeat("a", 101)) || strings.Contains(got, "q2") {
		t.Fatalf("table not truncated to one row of 100 chars:\n%s", got)
	}

	out.Reset()
	if err := ViewFile(&out, path, 5, "json"); err != nil {
		t.Fatalf("ViewFile(json) error: %v", err)
	}
	if !strings.Contains(out.String(), "{\n    \"question\": \"q2\",\n    \"answer\": \"b\"\n  }") {
		t.Fatalf("out=%s", out.String())
	}
}

func TestViewFileRejectsUnknownExtension(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ds.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if err := ViewFile(&bytes.Buffer{}, path, 5, "pretty"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ViewFile() error=%v, want ErrUnsupportedFormat", err)
	}
}

func TestStructureJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ds.json")
	if err := os.WriteFile(path, []byte(`[{"inputs": {}, "outputs": {}}, {"inputs": {}}, "stray"]`), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	var out bytes.Buffer
	if err := Structure(&out, path); err != nil {
		t.Fatalf("Structure() error: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"File: ds.json\nFormat: JSON\nExamples: 3\n\n",
		"Structure:\n{\n  \"inputs\": {},\n  \"outputs\": {}\n}\n\n",
		"Fields:\n  inputs: 2/3 (67%)\n  outputs: 1/3 (33%)\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("structure missing %q:\n%s", want, got)
		}
	}
}

func TestStructureCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ds.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,\n2,x\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	var out bytes.Buffer
	if err := Structure(&out, path); err != nil {
		t.Fatalf("Structure() error: %v", err)
	}
	want := "File: ds.csv\nFormat: CSV\nRows: 2\n\nColumns:\n  a: 2/2 (100%)\n  b: 1/2 (50%)\n"
	if out.String() != want {
		t.Fatalf("structure=%q, want %q", out.String(), want)
	}
}
