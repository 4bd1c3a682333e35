package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ongoingai/smithkit/internal/langsmith"
)

type fakeLangSmith struct {
	mu       sync.Mutex
	runs     map[string][]langsmith.Run
	datasets map[string]langsmith.Dataset
	examples map[string]int
	deleted  []string
	failRead error
	queries  []langsmith.RunQuery
}

func (f *fakeLangSmith) ListRuns(_ context.Context, q langsmith.RunQuery) ([]langsmith.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.runs[q.Trace], nil
}

func (f *fakeLangSmith) ReadDatasetByName(_ context.Context, name string) (langsmith.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead != nil {
		return langsmith.Dataset{}, f.failRead
	}
	ds, ok := f.datasets[name]
	if !ok {
		return langsmith.Dataset{}, fmt.Errorf("dataset %q: %w", name, langsmith.ErrNotFound)
	}
	return ds, nil
}

func (f *fakeLangSmith) ListExamples(_ context.Context, datasetID string, _ int) ([]langsmith.Example, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return make([]langsmith.Example, f.examples[datasetID]), nil
}

func (f *fakeLangSmith) DeleteDataset(_ context.Context, datasetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, datasetID)
	return nil
}

func TestCheckTraceInLangSmith(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	traceID := "0f8fad5b-d9cb-469f-a165-70867728950e"
	writeArtifact(t, dir, TraceIDFile, traceID+"\n")
	client := &fakeLangSmith{runs: map[string][]langsmith.Run{traceID: {{ID: "r1"}, {ID: "r2"}}}}

	passed, failed := NewValidator().CheckTraceInLangSmith(context.Background(), client, dir, "proj").Results()
	if len(failed) != 0 {
		t.Fatalf("failed=%v, want none", failed)
	}
	if diff := cmp.Diff([]string{"✓ Trace exists in LangSmith: 0f8fad5b-d9cb-46... (2 runs)"}, passed); diff != "" {
		t.Fatalf("passed mismatch (-want +got):\n%s", diff)
	}
	if client.queries[0].ProjectName != "proj" || client.queries[0].Trace != traceID {
		t.Fatalf("query=%+v, want project and trace", client.queries[0])
	}

	writeArtifact(t, dir, TraceIDFile, "other")
	_, failed = NewValidator().CheckTraceInLangSmith(context.Background(), client, dir, "").Results()
	if diff := cmp.Diff([]string{"✗ Trace not found in LangSmith: other"}, failed); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}

	_, failed = NewValidator().CheckTraceInLangSmith(context.Background(), nil, dir, "").Results()
	if diff := cmp.Diff([]string{"✗ LangSmith client not available"}, failed); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckDatasetJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
		ok      bool
	}{
		{name: "valid", content: `[{"inputs":{},"outputs":{"expected_response":"x"}},{"inputs":{},"outputs":{}}]`, want: "✓ Dataset has valid structure with 2 examples", ok: true},
		{name: "object", content: `{"a":1}`, want: "✗ Dataset should be a list, got <class 'dict'>"},
		{name: "empty", content: `[]`, want: "✗ Dataset is empty"},
		{name: "scalar element", content: `["x"]`, want: "✗ Example should be dict, got <class 'str'>"},
		{name: "missing outputs", content: `[{"inputs":{},"trace_id":"t"}]`, want: "✗ Example missing required fields, found: ['inputs', 'trace_id']"},
		{name: "no expected response", content: `[{"inputs":{},"outputs":{"answer":"x"}}]`, want: "✗ Example outputs missing 'expected_response' field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeArtifact(t, dir, DatasetFile, tt.content)
			passed, failed := NewValidator().CheckDatasetJSON(dir).Results()
			if passed[0] != "✓ test_dataset.json is valid JSON" {
				t.Fatalf("passed=%v, want valid JSON first", passed)
			}
			got := ""
			if tt.ok {
				got = passed[len(passed)-1]
			} else if len(failed) > 0 {
				got = failed[0]
			}
			if got != tt.want {
				t.Fatalf("result=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestNameFileChecks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeArtifact(t, dir, DatasetUploadNameFile, TestDatasetName+"\n")
	writeArtifact(t, dir, EvaluatorDatasetNameFile, "wrong")
	writeArtifact(t, dir, DatasetInfoFile, "ok")

	passed, failed := NewValidator().
		CheckDatasetUploaded(dir, TestDatasetName).
		CheckDatasetCreated(dir, EvaluatorTestDatasetName).
		CheckEvaluatorUploaded(dir, EvaluatorTestName).
		CheckInfoFile(dir).
		Results()

	if diff := cmp.Diff([]string{"✓ Dataset uploaded: Test Dataset - DELETE ME"}, passed); diff != "" {
		t.Fatalf("passed mismatch (-want +got):\n%s", diff)
	}
	wantFailed := []string{
		"✗ Dataset name incorrect: wrong (expected Evaluator Test Dataset - DELETE ME)",
		"✗ test_evaluator_name.txt not found",
		"✗ Info file is empty or too short",
	}
	if diff := cmp.Diff(wantFailed, failed); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckDatasetInLangSmith(t *testing.T) {
	t.Parallel()

	client := &fakeLangSmith{
		datasets: map[string]langsmith.Dataset{TestDatasetName: {ID: "ds-1", Name: TestDatasetName}},
		examples: map[string]int{"ds-1": 3},
	}
	passed, failed := NewValidator().
		CheckDatasetInLangSmith(context.Background(), client, TestDatasetName).
		CheckDatasetInLangSmith(context.Background(), client, "other").
		Results()
	if diff := cmp.Diff([]string{"✓ Dataset exists in LangSmith: Test Dataset - DELETE ME (3 examples)"}, passed); diff != "" {
		t.Fatalf("passed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"✗ Dataset not found in LangSmith: other"}, failed); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}

	broken := &fakeLangSmith{failRead: errors.New("boom")}
	_, failed = NewValidator().CheckDatasetInLangSmith(context.Background(), broken, "x").Results()
	if diff := cmp.Diff([]string{"✗ Error checking LangSmith for dataset: boom"}, failed); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckEvaluatorFunction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source string
		want   string
		passed bool
	}{
		{
			name:   "valid",
			source: "import json\n\n@traceable\ndef test_length_check(run, example):\n    return {}\n",
			want:   "✓ Function has correct signature (run, example)",
			passed: true,
		},
		{
			name:   "annotated multi-line",
			source: "def test_length_check(\n    run: Run,\n    example: Example = None,\n    *,\n    strict=False,\n):\n    pass\n",
			want:   "✓ Function has correct signature (run, example)",
			passed: true,
		},
		{name: "no functions", source: "x = 1\n", want: "✗ No functions found in evaluator"},
		{name: "other function", source: "def helper(a):\n    pass\n", want: "✗ Function 'test_length_check' not found"},
		{name: "wrong arity", source: "def test_length_check(run):\n    pass\n", want: "✗ Function should have 2 parameters, found 1"},
		{name: "wrong names", source: "def test_length_check(outputs, reference):\n    pass\n", want: "✗ Parameters should be (run, example), found ['outputs', 'reference']"},
		{name: "nested default", source: "def test_length_check(run, example=(1, 2), *args, **kwargs):\n    pass\n", want: "✓ Function has correct signature (run, example)", passed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeArtifact(t, dir, EvaluatorSourceFile, tt.source)
			passed, failed := NewValidator().CheckEvaluatorFunction(dir).Results()
			if passed[0] != "✓ Created test_evaluator.py" {
				t.Fatalf("passed=%v, want created first", passed)
			}
			got := ""
			if tt.passed {
				got = passed[len(passed)-1]
			} else if len(failed) > 0 {
				got = failed[0]
			}
			if got != tt.want {
				t.Fatalf("result=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodePatternChecks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeArtifact(t, dir, AgentSourceFile, "print(1)")

	passed, failed := NewValidator().
		CheckModernPatterns("from x import ChatAnthropic; @tool").
		CheckLegacyPatternsAvoided("uses PromptTemplate and LLMChain").
		CheckAgentFile(dir).
		CheckModernPatterns("nothing").
		Results()

	wantPassed := []string{
		"✓ Used modern patterns: decorator, model",
		"✓ Created sql_agent.py (SQL agent code)",
	}
	wantFailed := []string{
		"✗ Used legacy patterns: legacy chain, legacy prompt",
		"✗ No modern patterns detected",
	}
	if diff := cmp.Diff(wantPassed, passed); diff != "" {
		t.Fatalf("passed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantFailed, failed); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}
}
