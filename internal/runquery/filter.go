// Package runquery queries, renders and exports LangSmith traces and runs.
package runquery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ongoingai/smithkit/internal/langsmith"
)

// FilterOptions mirrors the shared filter flags of the traces and runs
// commands. Every populated filter is AND-ed into the query.
type FilterOptions struct {
	Project      string
	TraceIDs     string
	Limit        int
	LastNMinutes int
	Since        string
	RunType      string
	IsRoot       bool
	Error        *bool
	Name         string
	RawFilter    string
	MinLatency   *float64
	MaxLatency   *float64
	MinTokens    *int
	Tags         string
}

// ResolveProject returns the explicit project or the configured default.
func ResolveProject(explicit, fallback string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	return strings.TrimSpace(fallback)
}

// SplitList splits a comma-separated flag value, trimming blanks.
func SplitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// BuildQuery translates filter options into a runs query. now anchors
// LastNMinutes.
func BuildQuery(opts FilterOptions, defaultProject string, now time.Time) (langsmith.RunQuery, error) {
	q := langsmith.RunQuery{
		ProjectName: ResolveProject(opts.Project, defaultProject),
		Limit:       opts.Limit,
		RunType:     opts.RunType,
		Error:       opts.Error,
	}
	var parts []string

	if ids := SplitList(opts.TraceIDs); len(ids) == 1 {
		q.Trace = ids[0]
	} else if len(ids) > 1 {
		quoted := make([]string, len(ids))
		for i, id := range ids {
			quoted[i] = `"` + id + `"`
		}
		parts = append(parts, fmt.Sprintf("in(trace_id, [%s])", strings.Join(quoted, ", ")))
	}

	switch {
	case opts.LastNMinutes > 0:
		start := now.UTC().Add(-time.Duration(opts.LastNMinutes) * time.Minute)
		q.StartTime = &start
	case strings.TrimSpace(opts.Since) != "":
		start, err := parseSince(opts.Since)
		if err != nil {
			return langsmith.RunQuery{}, err
		}
		q.StartTime = &start
	}

	if opts.IsRoot {
		isRoot := true
		q.IsRoot = &isRoot
	}

	if opts.Name != "" {
		parts = append(parts, fmt.Sprintf(`search(name, "%s")`, opts.Name))
	}
	if opts.MinLatency != nil {
		parts = append(parts, fmt.Sprintf("gte(latency, %s)", formatFloat(*opts.MinLatency)))
	}
	if opts.MaxLatency != nil {
		parts = append(parts, fmt.Sprintf("lte(latency, %s)", formatFloat(*opts.MaxLatency)))
	}
	if opts.MinTokens != nil {
		parts = append(parts, fmt.Sprintf("gte(total_tokens, %d)", *opts.MinTokens))
	}
	if tags := SplitList(opts.Tags); len(tags) == 1 {
		parts = append(parts, fmt.Sprintf(`has(tags, "%s")`, tags[0]))
	} else if len(tags) > 1 {
		has := make([]string, len(tags))
		for i, tag := range tags {
			has[i] = fmt.Sprintf(`has(tags, "%s")`, tag)
		}
		parts = append(parts, fmt.Sprintf("or(%s)", strings.Join(has, ", ")))
	}
	if opts.RawFilter != "" {
		parts = append(parts, opts.RawFilter)
	}

	switch len(parts) {
	case 0:
	case 1:
		q.Filter = parts[0]
	default:
		q.Filter = fmt.Sprintf("and(%s)", strings.Join(parts, ", "))
	}
	return q, nil
}

func parseSince(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if t, err := langsmith.ParseTime(trimmed); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", trimmed, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since timestamp %q: expected ISO 8601", raw)
}

// formatFloat keeps a trailing ".0" on whole numbers so "2" reads "2.0".
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}
