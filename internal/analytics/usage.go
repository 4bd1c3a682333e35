// Package analytics aggregates archived runs into usage reports.
package analytics

import (
	"context"
	"fmt"

	"github.com/ongoingai/smithkit/internal/archive"
)

const DefaultGroupBy = "run_type"

// UsageReport is a grouped summary of archived runs plus the overall total.
type UsageReport struct {
	GroupBy string             `json:"group_by"`
	Groups  []archive.RunStats `json:"groups"`
	Total   archive.RunStats   `json:"total"`
}

type UsageService struct {
	store archive.Store
}

func NewUsageService(store archive.Store) *UsageService {
	return &UsageService{store: store}
}

func (s *UsageService) Summary(ctx context.Context, filter archive.RunFilter, groupBy string) (*UsageReport, error) {
	if groupBy == "" {
		groupBy = DefaultGroupBy
	}
	groups, err := s.store.SummarizeRuns(ctx, filter, groupBy)
	if err != nil {
		return nil, fmt.Errorf("summarize archived runs: %w", err)
	}
	if groups == nil {
		groups = []archive.RunStats{}
	}

	report := &UsageReport{GroupBy: groupBy, Groups: groups, Total: archive.RunStats{Group: "total"}}
	for _, group := range groups {
		report.Total.RunCount += group.RunCount
		report.Total.ErrorCount += group.ErrorCount
		report.Total.TotalTokens += group.TotalTokens
		report.Total.TotalCost += group.TotalCost
	}
	return report, nil
}

// ErrorRate is the share of runs that errored, or 0 without runs.
func ErrorRate(stats archive.RunStats) float64 {
	if stats.RunCount == 0 {
		return 0
	}
	return float64(stats.ErrorCount) / float64(stats.RunCount)
}
