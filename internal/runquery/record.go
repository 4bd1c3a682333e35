package runquery

import (
	"fmt"
	"sort"
	"time"

	"github.com/ongoingai/smithkit/internal/langsmith"
)

// Detail selects which optional field groups a Record carries.
type Detail struct {
	Metadata bool
	IO       bool
}

// Full includes every field group.
var Full = Detail{Metadata: true, IO: true}

// Record is the exported shape of a run. Field order is the on-disk key
// order of exported JSON and JSONL files.
type Record struct {
	RunID       string  `json:"run_id"`
	TraceID     string  `json:"trace_id"`
	Name        string  `json:"name"`
	RunType     string  `json:"run_type"`
	ParentRunID *string `json:"parent_run_id"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	*MetadataFields
	*IOFields
}

type MetadataFields struct {
	Status         *string        `json:"status"`
	DurationMS     *int64         `json:"duration_ms"`
	CustomMetadata map[string]any `json:"custom_metadata"`
	TokenUsage     TokenUsage     `json:"token_usage"`
	Costs          Costs          `json:"costs"`
}

type TokenUsage struct {
	PromptTokens     *int64 `json:"prompt_tokens"`
	CompletionTokens *int64 `json:"completion_tokens"`
	TotalTokens      *int64 `json:"total_tokens"`
}

type Costs struct {
	PromptCost     *langsmith.Number `json:"prompt_cost"`
	CompletionCost *langsmith.Number `json:"completion_cost"`
	TotalCost      *langsmith.Number `json:"total_cost"`
}

type IOFields struct {
	Inputs  map[string]any `json:"inputs"`
	Outputs map[string]any `json:"outputs"`
	Error   *string        `json:"error"`
}

// Extract builds the exported record for a run.
func Extract(run langsmith.Run, detail Detail) Record {
	rec := Record{
		RunID:     run.ID,
		TraceID:   run.TraceKey(),
		Name:      run.Name,
		RunType:   run.RunType,
		StartTime: isoOrNil(run.StartTime),
		EndTime:   isoOrNil(run.EndTime),
	}
	if parent := run.ParentID(); parent != "" {
		rec.ParentRunID = &parent
	}

	if detail.Metadata {
		custom := run.Metadata()
		if custom == nil {
			custom = map[string]any{}
		}
		meta := &MetadataFields{
			DurationMS:     DurationMS(run),
			CustomMetadata: custom,
			TokenUsage: TokenUsage{
				PromptTokens:     run.PromptTokens,
				CompletionTokens: run.CompletionTokens,
				TotalTokens:      run.TotalTokens,
			},
			Costs: Costs{
				PromptCost:     run.PromptCost,
				CompletionCost: run.CompletionCost,
				TotalCost:      run.TotalCost,
			},
		}
		if run.Status != "" {
			status := run.Status
			meta.Status = &status
		}
		rec.MetadataFields = meta
	}

	if detail.IO {
		rec.IOFields = &IOFields{
			Inputs:  run.Inputs,
			Outputs: run.Outputs,
			Error:   run.Error,
		}
	}
	return rec
}

func ExtractAll(runs []langsmith.Run, detail Detail) []Record {
	records := make([]Record, 0, len(runs))
	for _, run := range runs {
		records = append(records, Extract(run, detail))
	}
	return records
}

func isoOrNil(t *langsmith.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := langsmith.FormatISO(t.Time)
	return &s
}

// DurationMS is the run's wall time truncated to whole milliseconds.
func DurationMS(run langsmith.Run) *int64 {
	if run.StartTime == nil || run.EndTime == nil || run.StartTime.IsZero() || run.EndTime.IsZero() {
		return nil
	}
	ms := run.EndTime.Sub(run.StartTime.Time).Milliseconds()
	return &ms
}

// FormatDuration renders milliseconds as "N/A", "850ms" or "1.50s".
func FormatDuration(ms *int64) string {
	if ms == nil {
		return "N/A"
	}
	if *ms < 1000 {
		return fmt.Sprintf("%dms", *ms)
	}
	return fmt.Sprintf("%.2fs", float64(*ms)/1000)
}

// SortNewestFirst orders runs by start time descending; runs without a
// start time go last.
func SortNewestFirst(runs []langsmith.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		return startOrMin(runs[i]).After(startOrMin(runs[j]))
	})
}

// SortOldestFirst orders runs by start time ascending; runs without a start
// time go first.
func SortOldestFirst(runs []langsmith.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		return startOrMin(runs[i]).Before(startOrMin(runs[j]))
	})
}

var minTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

func startOrMin(run langsmith.Run) time.Time {
	if run.StartTime == nil || run.StartTime.IsZero() {
		return minTime
	}
	return run.StartTime.Time
}
