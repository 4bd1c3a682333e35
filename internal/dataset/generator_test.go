package dataset

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ongoingai/smithkit/internal/langsmith"
)

type fakeDatasets struct {
	mu       sync.Mutex
	existing map[string]langsmith.Dataset
	examples map[string][]langsmith.Example
	deleted  []string
	created  []string
	inputs   []map[string]any
	outputs  []map[string]any
}

func (f *fakeDatasets) ReadDatasetByName(_ context.Context, name string) (langsmith.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ds, ok := f.existing[name]; ok {
		return ds, nil
	}
	return langsmith.Dataset{}, fmt.Errorf("dataset %q: %w", name, langsmith.ErrNotFound)
}

func (f *fakeDatasets) CreateDataset(_ context.Context, name, _ string) (langsmith.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.existing[name]; ok {
		return langsmith.Dataset{}, &langsmith.APIError{StatusCode: 409}
	}
	ds := langsmith.Dataset{ID: "id-" + name, Name: name}
	if f.existing == nil {
		f.existing = map[string]langsmith.Dataset{}
	}
	f.existing[name] = ds
	f.created = append(f.created, name)
	return ds, nil
}

func (f *fakeDatasets) DeleteDataset(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, ds := range f.existing {
		if ds.ID == id {
			delete(f.existing, name)
		}
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDatasets) CreateExamples(_ context.Context, _ string, inputs, outputs []map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs, f.outputs = inputs, outputs
	return nil
}

func (f *fakeDatasets) ListDatasets(context.Context, int) ([]langsmith.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []langsmith.Dataset
	for _, ds := range f.existing {
		all = append(all, ds)
	}
	return all, nil
}

func (f *fakeDatasets) ListExamples(_ context.Context, id string, limit int) ([]langsmith.Example, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	examples := f.examples[id]
	if limit > 0 && len(examples) > limit {
		examples = examples[:limit]
	}
	return examples, nil
}

func newGenerator(runs RunSource, datasets Client, answer bool) (*Generator, *bytes.Buffer) {
	var out bytes.Buffer
	return &Generator{
		Runs:     runs,
		Datasets: datasets,
		Out:      &out,
		Confirm:  func(string) bool { return answer },
		Now:      func() time.Time { return base },
	}, &out
}

func TestGeneratorSkipsExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ds.json")
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	src := &traceSource{}
	gen, out := newGenerator(src, &fakeDatasets{}, true)
	if err := gen.Run(context.Background(), GenerateRequest{Type: TypeFinalResponse, OutputPath: path}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(out.String(), "already exists. Use --replace to overwrite.") {
		t.Fatalf("out=%q", out.String())
	}
	if len(src.queries) != 0 {
		t.Fatalf("queries=%d, want none", len(src.queries))
	}
}

func TestGeneratorSkipsExistingRemoteDataset(t *testing.T) {
	t.Parallel()

	datasets := &fakeDatasets{existing: map[string]langsmith.Dataset{"ds": {ID: "1", Name: "ds"}}}
	gen, out := newGenerator(&traceSource{}, datasets, true)
	req := GenerateRequest{Type: TypeFinalResponse, OutputPath: filepath.Join(t.TempDir(), "ds.json"), UploadName: "ds"}
	if err := gen.Run(context.Background(), req); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.String() != "⚠ LangSmith dataset 'ds' already exists. Use --replace to overwrite.\n" {
		t.Fatalf("out=%q", out.String())
	}
}

func TestGeneratorWritesAndUploads(t *testing.T) {
	t.Parallel()

	src := &traceSource{roots: []langsmith.Run{conversationTrace("t1").Root}}
	datasets := &fakeDatasets{}
	gen, out := newGenerator(src, datasets, true)
	path := filepath.Join(t.TempDir(), "ds.json")
	req := GenerateRequest{Type: TypeTrajectory, Project: "proj", OutputPath: path, UploadName: "ds"}
	if err := gen.Run(context.Background(), req); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := strings.Join([]string{
		"Generating trajectory dataset from proj...",
		"✓ Fetched 1 traces",
		"✓ Exported 1 examples to " + path,
		"✓ Created dataset: ds",
		"✓ Added 1 examples",
		"",
	}, "\n")
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]map[string]any{{"expected_trajectory": []string{"calculator"}}}, datasets.outputs); diff != "" {
		t.Fatalf("uploaded outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestGeneratorWarnsAndContinuesOnFailedTrace(t *testing.T) {
	t.Parallel()

	src := &traceSource{
		roots:     []langsmith.Run{conversationTrace("t1").Root, conversationTrace("t2").Root},
		failTrace: "t2",
	}
	gen, out := newGenerator(src, &fakeDatasets{}, true)
	path := filepath.Join(t.TempDir(), "ds.json")
	if err := gen.Run(context.Background(), GenerateRequest{Type: TypeTrajectory, OutputPath: path}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, want := range []string{"Warning: Failed t2: boom\n", "✓ Fetched 1 traces\n", "✓ Exported 1 examples to " + path} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("out=%q, want %q", out.String(), want)
		}
	}
}

func TestGeneratorReplaceCancelled(t *testing.T) {
	t.Parallel()

	src := &traceSource{roots: []langsmith.Run{conversationTrace("t1").Root}}
	datasets := &fakeDatasets{existing: map[string]langsmith.Dataset{"ds": {ID: "1", Name: "ds"}}}
	gen, out := newGenerator(src, datasets, false)
	req := GenerateRequest{Type: TypeTrajectory, OutputPath: filepath.Join(t.TempDir(), "ds.json"), UploadName: "ds", Replace: true}
	if err := gen.Run(context.Background(), req); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.HasSuffix(out.String(), "⚠️  About to delete dataset: 'ds'\nUpload cancelled\n") {
		t.Fatalf("out=%q", out.String())
	}
	if len(datasets.deleted) != 0 {
		t.Fatalf("deleted=%v, want none", datasets.deleted)
	}
}

func TestGeneratorReplaceWithYes(t *testing.T) {
	t.Parallel()

	src := &traceSource{roots: []langsmith.Run{conversationTrace("t1").Root}}
	datasets := &fakeDatasets{existing: map[string]langsmith.Dataset{"ds": {ID: "1", Name: "ds"}}}
	gen, out := newGenerator(src, datasets, false)
	req := GenerateRequest{Type: TypeTrajectory, OutputPath: filepath.Join(t.TempDir(), "ds.json"), UploadName: "ds", Replace: true, Yes: true}
	if err := gen.Run(context.Background(), req); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if diff := cmp.Diff([]string{"1"}, datasets.deleted); diff != "" {
		t.Fatalf("deleted mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "Deleted existing dataset: ds\n✓ Created dataset: ds\n") {
		t.Fatalf("out=%q", out.String())
	}
}

func TestUploadRAGSplitsFields(t *testing.T) {
	t.Parallel()

	datasets := &fakeDatasets{existing: map[string]langsmith.Dataset{"rag": {ID: "9", Name: "rag"}}}
	var out bytes.Buffer
	examples := []*Example{NewExample().
		Set("trace_id", "t").
		Set("question", "q").
		Set("retrieved_chunks", "c").
		Set("answer", "a").
		Set("cited_chunks", `["c"]`)}
	if err := Upload(context.Background(), datasets, &out, examples, "rag", TypeRAG); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Using existing: rag\n") {
		t.Fatalf("out=%q", out.String())
	}
	if diff := cmp.Diff([]map[string]any{{"question": "q", "retrieved_chunks": "c"}}, datasets.inputs); diff != "" {
		t.Fatalf("inputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]map[string]any{{"answer": "a", "cited_chunks": `["c"]`}}, datasets.outputs); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}
}
