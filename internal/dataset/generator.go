package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/ongoingai/smithkit/internal/langsmith"
)

// Client is the dataset half of the LangSmith API.
type Client interface {
	ReadDatasetByName(ctx context.Context, name string) (langsmith.Dataset, error)
	CreateDataset(ctx context.Context, name, description string) (langsmith.Dataset, error)
	DeleteDataset(ctx context.Context, datasetID string) error
	CreateExamples(ctx context.Context, datasetID string, inputs, outputs []map[string]any) error
	ListDatasets(ctx context.Context, limit int) ([]langsmith.Dataset, error)
	ListExamples(ctx context.Context, datasetID string, limit int) ([]langsmith.Example, error)
}

// Generator drives the generate command: fetch traces, build examples,
// write them to a file and optionally upload them.
type Generator struct {
	Runs     RunSource
	Datasets Client
	Out      io.Writer
	ErrOut   io.Writer
	// Confirm asks the operator a yes/no question.
	Confirm func(prompt string) bool
	Rand    *rand.Rand
	Now     func() time.Time
}

type GenerateRequest struct {
	Type           Type
	Project        string
	Limit          int
	LastNMinutes   int
	RootRunName    string
	OutputPath     string
	UploadName     string
	RunName        string
	MaxDepth       *int
	OutputFields   string
	MessagesOnly   bool
	SamplePerTrace int
	Replace        bool
	Yes            bool
}

func (g *Generator) errOut() io.Writer {
	if g.ErrOut != nil {
		return g.ErrOut
	}
	return g.Out
}

func (g *Generator) Run(ctx context.Context, req GenerateRequest) error {
	if _, err := os.Stat(req.OutputPath); err == nil && !req.Replace {
		fmt.Fprintf(g.errOut(), "⚠ File %s already exists. Use --replace to overwrite.\n", req.OutputPath)
		return nil
	}
	if req.UploadName != "" && !req.Replace {
		if _, err := g.Datasets.ReadDatasetByName(ctx, req.UploadName); err == nil {
			fmt.Fprintf(g.errOut(), "⚠ LangSmith dataset '%s' already exists. Use --replace to overwrite.\n", req.UploadName)
			return nil
		}
	}

	fmt.Fprintf(g.Out, "Generating %s dataset from %s...\n", req.Type, req.Project)
	if req.RootRunName != "" {
		fmt.Fprintf(g.Out, "Filtering for root run name: %s\n", req.RootRunName)
	}
	if req.Type == TypeSingleStep && req.RunName != "" {
		fmt.Fprintf(g.Out, "Targeting run name: %s\n", req.RunName)
		if req.SamplePerTrace > 0 {
			fmt.Fprintf(g.Out, "Sampling %d occurrence(s) per trace\n", req.SamplePerTrace)
		}
	}
	if req.Type == TypeTrajectory && req.MaxDepth != nil {
		fmt.Fprintf(g.Out, "Max hierarchy depth: %d\n", *req.MaxDepth)
	}

	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}
	traces, err := FetchTraces(ctx, g.Runs, FetchOptions{
		Project:        req.Project,
		Limit:          req.Limit,
		LastNMinutes:   req.LastNMinutes,
		RootRunName:    req.RootRunName,
		OnFetchFailure: func(traceID string, err error) {
			fmt.Fprintf(g.errOut(), "Warning: Failed %s: %v\n", traceID, err)
		},
	}, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(g.Out, "✓ Fetched %d traces\n", len(traces))

	var fields []string
	if req.OutputFields != "" {
		fields = strings.Split(req.OutputFields, ",")
	}
	examples := Generate(traces, GenerateOptions{
		Type:           req.Type,
		RunName:        req.RunName,
		MaxDepth:       req.MaxDepth,
		OutputFields:   fields,
		MessagesOnly:   req.MessagesOnly,
		SamplePerTrace: req.SamplePerTrace,
		Rand:           g.Rand,
	})
	if len(examples) == 0 {
		fmt.Fprintln(g.errOut(), "No valid examples found in traces")
		return nil
	}

	if err := WriteFile(req.OutputPath, examples); err != nil {
		return err
	}
	fmt.Fprintf(g.Out, "✓ Exported %d examples to %s\n", len(examples), req.OutputPath)

	if req.UploadName == "" {
		return nil
	}
	if req.Replace {
		proceed, err := g.replaceExisting(ctx, req.UploadName, req.Yes)
		if err != nil || !proceed {
			return err
		}
	}
	return Upload(ctx, g.Datasets, g.Out, examples, req.UploadName, req.Type)
}

// replaceExisting deletes the named dataset after confirmation. It reports
// false when the operator declines.
func (g *Generator) replaceExisting(ctx context.Context, name string, yes bool) (bool, error) {
	existing, err := g.Datasets.ReadDatasetByName(ctx, name)
	if errors.Is(err, langsmith.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		fmt.Fprintf(g.errOut(), "Warning: Could not look up dataset '%s': %v\n", name, err)
		return true, nil
	}
	if !yes {
		fmt.Fprintf(g.Out, "⚠️  About to delete dataset: '%s'\n", name)
		if g.Confirm == nil || !g.Confirm("Are you sure? (y/n): ") {
			fmt.Fprintln(g.Out, "Upload cancelled")
			return false, nil
		}
	}
	if err := g.Datasets.DeleteDataset(ctx, existing.ID); err != nil {
		fmt.Fprintf(g.errOut(), "Warning: Could not delete dataset '%s': %v\n", name, err)
		return true, nil
	}
	fmt.Fprintf(g.Out, "Deleted existing dataset: %s\n", name)
	return true, nil
}

// Upload creates the dataset, or reuses one with the same name, and adds
// the examples in bulk. RAG rows are split into question/chunks inputs and
// answer/citation outputs.
func Upload(ctx context.Context, client Client, out io.Writer, examples []*Example, name string, typ Type) error {
	ds, err := client.CreateDataset(ctx, name, fmt.Sprintf("%s evaluation dataset (auto-generated)", typ))
	if err == nil {
		fmt.Fprintf(out, "✓ Created dataset: %s\n", name)
	} else {
		ds, err = client.ReadDatasetByName(ctx, name)
		if err != nil {
			return fmt.Errorf("create dataset %q: %w", name, err)
		}
		fmt.Fprintf(out, "Using existing: %s\n", name)
	}

	inputs := make([]map[string]any, len(examples))
	outputs := make([]map[string]any, len(examples))
	for i, ex := range examples {
		if typ == TypeRAG {
			question, _ := ex.Get("question")
			chunks, _ := ex.Get("retrieved_chunks")
			answer, _ := ex.Get("answer")
			cited, _ := ex.Get("cited_chunks")
			inputs[i] = map[string]any{"question": question, "retrieved_chunks": chunks}
			outputs[i] = map[string]any{"answer": answer, "cited_chunks": cited}
			continue
		}
		inputs[i] = ex.Map("inputs")
		outputs[i] = ex.Map("outputs")
	}

	if err := client.CreateExamples(ctx, ds.ID, inputs, outputs); err != nil {
		return fmt.Errorf("add examples to %q: %w", name, err)
	}
	fmt.Fprintf(out, "✓ Added %d examples\n", len(examples))
	return nil
}
