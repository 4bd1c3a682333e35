package langsmith

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCreateDatasetConflict(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["data_type"] != "kv" {
			t.Errorf("data_type=%v, want kv", body["data_type"])
		}
		http.Error(w, "exists", http.StatusConflict)
	}))

	_, err := client.CreateDataset(context.Background(), "ds", "desc")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("CreateDataset() error=%v, want ErrConflict", err)
	}
}

func TestReadDatasetByNameMatchesExactly(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `[{"id":"1","name":"ds copy"},{"id":"2","name":"ds","example_count":4}]`)
	}))

	ds, err := client.ReadDatasetByName(context.Background(), "ds")
	if err != nil {
		t.Fatalf("ReadDatasetByName() error: %v", err)
	}
	if ds.ID != "2" || ds.ExampleCount == nil || *ds.ExampleCount != 4 {
		t.Fatalf("dataset=%+v, want id 2 with 4 examples", ds)
	}

	_, err = client.ReadDatasetByName(context.Background(), "other")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadDatasetByName(other) error=%v, want ErrNotFound", err)
	}
}

func TestCreateExamplesPostsBulk(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []Example
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/examples/bulk" {
			t.Errorf("path=%q, want /examples/bulk", r.URL.Path)
		}
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = fmt.Fprint(w, `[]`)
	}))

	inputs := []map[string]any{{"q": "a"}, {"q": "b"}}
	outputs := []map[string]any{{"r": "1"}, {"r": "2"}}
	if err := client.CreateExamples(context.Background(), "ds-1", inputs, outputs); err != nil {
		t.Fatalf("CreateExamples() error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []Example{
		{DatasetID: "ds-1", Inputs: map[string]any{"q": "a"}, Outputs: map[string]any{"r": "1"}},
		{DatasetID: "ds-1", Inputs: map[string]any{"q": "b"}, Outputs: map[string]any{"r": "2"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("examples mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateExamplesRejectsMismatchedLengths(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))
	err := client.CreateExamples(context.Background(), "ds-1", []map[string]any{{}, {}}, []map[string]any{{}})
	if err == nil {
		t.Fatalf("CreateExamples(mismatched) error=nil, want error")
	}
}

func TestListExamplesPagesByOffset(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var offsets []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		offsets = append(offsets, r.URL.Query().Get("offset"))
		mu.Unlock()
		if r.URL.Query().Get("dataset") != "ds-1" {
			t.Errorf("dataset=%q, want ds-1", r.URL.Query().Get("dataset"))
		}
		if r.URL.Query().Get("offset") == "0" {
			page := make([]Example, 100)
			for i := range page {
				page[i] = Example{ID: fmt.Sprint(i), DatasetID: "ds-1"}
			}
			_ = json.NewEncoder(w).Encode(page)
			return
		}
		_, _ = fmt.Fprint(w, `[{"id":"last","dataset_id":"ds-1","inputs":{}}]`)
	}))

	examples, err := client.ListExamples(context.Background(), "ds-1", 0)
	if err != nil {
		t.Fatalf("ListExamples() error: %v", err)
	}
	if len(examples) != 101 {
		t.Fatalf("len(examples)=%d, want 101", len(examples))
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"0", "100"}, offsets); diff != "" {
		t.Fatalf("offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateRuleRequiresStatusOK(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusCreated)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = fmt.Fprint(w, `{"detail":"queued"}`)
	}))

	err := client.CreateRule(context.Background(), RuleRequest{DisplayName: "x", SamplingRate: 1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusCreated {
		t.Fatalf("CreateRule() error=%v, want APIError with 201", err)
	}

	status.Store(http.StatusOK)
	if err := client.CreateRule(context.Background(), RuleRequest{DisplayName: "x", SamplingRate: 1}); err != nil {
		t.Fatalf("CreateRule() error: %v", err)
	}
}
