package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/internal/output"
)

// Type names a dataset shape.
type Type string

const (
	TypeFinalResponse Type = "final_response"
	TypeSingleStep    Type = "single_step"
	TypeTrajectory    Type = "trajectory"
	TypeRAG           Type = "rag"
)

// Types lists the supported dataset shapes.
var Types = []Type{TypeFinalResponse, TypeSingleStep, TypeTrajectory, TypeRAG}

func ParseType(raw string) (Type, error) {
	for _, t := range Types {
		if string(t) == raw {
			return t, nil
		}
	}
	names := make([]string, len(Types))
	for i, t := range Types {
		names[i] = string(t)
	}
	return "", fmt.Errorf("invalid dataset type %q: expected one of %s", raw, strings.Join(names, ", "))
}

const (
	DefaultTraceLimit = 30
	traceRunLimit     = 100
	fetchConcurrency  = 5
)

// RunSource lists runs.
type RunSource interface {
	ListRuns(ctx context.Context, q langsmith.RunQuery) ([]langsmith.Run, error)
}

// Trace is a root run with every run of its trace.
type Trace struct {
	ID   string
	Root langsmith.Run
	Runs []langsmith.Run
}

type FetchOptions struct {
	Project      string
	Limit        int
	LastNMinutes int
	RootRunName  string
	// OnFetchFailure is called for each trace whose runs could not be
	// fetched. Such traces are left out of the result.
	OnFetchFailure func(traceID string, err error)
}

// FetchTraces lists root runs and loads the runs of up to Limit traces.
// When RootRunName is set three times as many roots are listed so enough
// survive the name filter. Only listing the roots can fail the call.
func FetchTraces(ctx context.Context, src RunSource, opts FetchOptions, now time.Time) ([]Trace, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultTraceLimit
	}
	isRoot := true
	q := langsmith.RunQuery{ProjectName: opts.Project, IsRoot: &isRoot, Limit: limit}
	if opts.RootRunName != "" {
		q.Limit = limit * 3
	}
	if opts.LastNMinutes > 0 {
		start := now.UTC().Add(-time.Duration(opts.LastNMinutes) * time.Minute)
		q.StartTime = &start
	}

	roots, err := src.ListRuns(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list root runs: %w", err)
	}
	var traces []Trace
	for _, root := range roots {
		if opts.RootRunName != "" && root.Name != opts.RootRunName {
			continue
		}
		traces = append(traces, Trace{ID: root.TraceKey(), Root: root})
		if len(traces) >= limit {
			break
		}
	}

	errs := make([]error, len(traces))
	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for i := range traces {
		g.Go(func() error {
			runs, err := src.ListRuns(ctx, langsmith.RunQuery{
				ProjectName: opts.Project,
				Trace:       traces[i].ID,
				Limit:       traceRunLimit,
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			traces[i].Runs = runs
			return nil
		})
	}
	_ = g.Wait()

	fetched := traces[:0]
	for i, tr := range traces {
		if errs[i] != nil {
			if opts.OnFetchFailure != nil {
				opts.OnFetchFailure(tr.ID, errs[i])
			}
			continue
		}
		fetched = append(fetched, tr)
	}
	return fetched, nil
}

type GenerateOptions struct {
	Type Type
	// RunName targets one node for single_step datasets.
	RunName string
	// MaxDepth bounds trajectory tools by hierarchy depth; nil keeps all.
	MaxDepth *int
	// OutputFields are tried before the common keys for final_response.
	OutputFields []string
	MessagesOnly bool
	// SamplePerTrace caps single_step examples per trace; zero keeps all.
	SamplePerTrace int
	Rand           *rand.Rand
}

// Generate turns traces into examples of the requested shape. Traces that
// yield nothing usable are skipped.
func Generate(traces []Trace, opts GenerateOptions) []*Example {
	var examples []*Example
	for _, tr := range traces {
		if opts.Type == TypeRAG {
			data := FindRetrievalData(tr.Runs)
			if data.Query == "" || data.Answer == "" {
				continue
			}
			cited := data.RetrievedChunks
			if len(cited) > 3 {
				cited = cited[:3]
			}
			if cited == nil {
				cited = []string{}
			}
			citedJSON, err := output.JSON(cited)
			if err != nil {
				continue
			}
			examples = append(examples, NewExample().
				Set("trace_id", tr.ID).
				Set("question", data.Query).
				Set("retrieved_chunks", strings.Join(data.RetrievedChunks, "\n\n")).
				Set("answer", data.Answer).
				Set("cited_chunks", citedJSON))
			continue
		}

		inputMsg := FirstHumanMessage(tr.Root.Inputs)
		if inputMsg == "" {
			continue
		}

		var outputs map[string]any
		switch opts.Type {
		case TypeFinalResponse:
			response := FinalAIMessage([]langsmith.Run{tr.Root}, opts.OutputFields, opts.MessagesOnly)
			if response == "" {
				continue
			}
			outputs = map[string]any{"expected_response": response}
		case TypeSingleStep:
			examples = append(examples, singleStepExamples(tr, opts)...)
			continue
		case TypeTrajectory:
			tools := ToolSequence(tr.Runs, opts.MaxDepth)
			if len(tools) == 0 {
				continue
			}
			outputs = map[string]any{"expected_trajectory": tools}
		default:
			continue
		}

		inputs := tr.Root.Inputs
		if len(inputs) == 0 {
			inputs = map[string]any{"query": inputMsg}
		}
		examples = append(examples, NewExample().
			Set("trace_id", tr.ID).
			Set("inputs", inputs).
			Set("outputs", outputs))
	}
	return examples
}

func singleStepExamples(tr Trace, opts GenerateOptions) []*Example {
	nodes := NodeIOs(tr.Runs, opts.RunName)
	if opts.SamplePerTrace > 0 && len(nodes) > opts.SamplePerTrace {
		nodes = sample(nodes, opts.SamplePerTrace, opts.Rand)
	}
	examples := make([]*Example, 0, len(nodes))
	for i, node := range nodes {
		examples = append(examples, NewExample().
			Set("trace_id", tr.ID).
			Set("run_id", node.RunID).
			Set("occurrence", i+1).
			Set("inputs", node.Inputs).
			Set("outputs", map[string]any{"expected_output": node.Outputs, "node_name": node.NodeName}))
	}
	return examples
}

// sample picks n distinct nodes in random order.
func sample(nodes []NodeIO, n int, r *rand.Rand) []NodeIO {
	perm := rand.Perm(len(nodes))
	if r != nil {
		perm = r.Perm(len(nodes))
	}
	picked := make([]NodeIO, n)
	for i := range picked {
		picked[i] = nodes[perm[i]]
	}
	return picked
}
