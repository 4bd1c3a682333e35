package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ongoingai/smithkit/internal/analytics"
	"github.com/ongoingai/smithkit/internal/archive"
	"github.com/ongoingai/smithkit/internal/output"
)

const defaultHistoryFormat = "text"

var errArchiveDisabled = errors.New("archive is disabled: set storage.enabled: true in the config file")

// historyRange holds the shared paging and time flags.
type historyRange struct {
	format string
	limit  int
	cursor string
	from   string
	to     string
}

func addHistoryFlags(cmd *cobra.Command, r *historyRange) {
	cmd.Flags().StringVar(&r.format, "format", defaultHistoryFormat, "Output format: text or json")
	cmd.Flags().IntVar(&r.limit, "limit", archive.DefaultPageSize, fmt.Sprintf("Page size (1-%d)", archive.MaxPageSize))
	cmd.Flags().StringVar(&r.cursor, "cursor", "", "Cursor from a previous page")
	cmd.Flags().StringVar(&r.from, "from", "", "Start time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&r.to, "to", "", "End time (RFC3339 or YYYY-MM-DD)")
}

func (r historyRange) validate(command string) (string, time.Time, time.Time, error) {
	format, err := normalizeTextJSONFormat(command, r.format, defaultHistoryFormat)
	if err != nil {
		return "", time.Time{}, time.Time{}, &exitError{code: 2, err: err}
	}
	if r.limit <= 0 || r.limit > archive.MaxPageSize {
		return "", time.Time{}, time.Time{}, usageErrorf("limit must be between 1 and %d", archive.MaxPageSize)
	}
	from, err := parseHistoryTime(r.from, false)
	if err != nil {
		return "", time.Time{}, time.Time{}, usageErrorf("invalid from: %v", err)
	}
	to, err := parseHistoryTime(r.to, true)
	if err != nil {
		return "", time.Time{}, time.Time{}, usageErrorf("invalid to: %v", err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return "", time.Time{}, time.Time{}, usageErrorf("invalid range: to must be greater than or equal to from")
	}
	return format, from, to, nil
}

func (c *cli) historyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Page through archived runs and harness test results",
		Args:  noArgs,
		RunE:  runGroup,
	}
	cmd.AddCommand(c.historyRunsCommand(), c.historyTestsCommand(), c.historySummaryCommand())
	return cmd
}

// withArchive opens a session with the archive and fails when storage is
// disabled.
func (c *cli) withArchive(ctx context.Context, fn func(archive.Store) error) error {
	s, err := c.openSession(ctx, sessionOptions{archive: true})
	if err != nil {
		return err
	}
	defer s.close()
	if s.store == nil {
		return &exitError{code: 1, err: errArchiveDisabled}
	}
	return fn(s.store)
}

func (c *cli) historyRunsCommand() *cobra.Command {
	var page historyRange
	var filter archive.RunFilter
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived runs, newest export first",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, from, to, err := page.validate("history runs")
			if err != nil {
				return err
			}
			filter.From, filter.To = from, to
			filter.Limit = page.limit
			filter.Cursor = page.cursor

			return c.withArchive(cmd.Context(), func(store archive.Store) error {
				result, err := store.QueryRuns(cmd.Context(), filter)
				if errors.Is(err, archive.ErrInvalidCursor) {
					return usageErrorf("invalid --cursor %q", page.cursor)
				}
				if err != nil {
					return fmt.Errorf("query archive: %w", err)
				}
				if format == "json" {
					return writeHistoryJSON(c.out, result.Items, result.NextCursor)
				}
				return writeRunHistoryText(c.out, result)
			})
		},
	}
	addHistoryFlags(cmd, &page)
	cmd.Flags().StringVar(&filter.TraceID, "trace-id", "", "Only runs of this trace")
	cmd.Flags().StringVar(&filter.RunType, "run-type", "", "Only runs of this type")
	cmd.Flags().StringVar(&filter.Name, "name", "", "Only runs with this name")
	cmd.Flags().StringVar(&filter.Source, "source", "", "Only runs exported to this file")
	return cmd
}

func (c *cli) historyTestsCommand() *cobra.Command {
	var page historyRange
	var filter archive.TestFilter
	var status string
	cmd := &cobra.Command{
		Use:   "tests",
		Short: "List archived harness test results, newest first",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, from, to, err := page.validate("history tests")
			if err != nil {
				return err
			}
			switch status {
			case "":
			case "passed", "failed":
				passed := status == "passed"
				filter.Passed = &passed
			default:
				return usageErrorf("invalid --status %q: expected passed or failed", status)
			}
			filter.From, filter.To = from, to
			filter.Limit = page.limit
			filter.Cursor = page.cursor

			return c.withArchive(cmd.Context(), func(store archive.Store) error {
				result, err := store.QueryTestResults(cmd.Context(), filter)
				if errors.Is(err, archive.ErrInvalidCursor) {
					return usageErrorf("invalid --cursor %q", page.cursor)
				}
				if err != nil {
					return fmt.Errorf("query archive: %w", err)
				}
				if format == "json" {
					return writeHistoryJSON(c.out, result.Items, result.NextCursor)
				}
				return writeTestHistoryText(c.out, result)
			})
		},
	}
	addHistoryFlags(cmd, &page)
	cmd.Flags().StringVar(&filter.Name, "name", "", "Only results of this test")
	cmd.Flags().StringVar(&status, "status", "", "Only passed or failed results")
	return cmd
}

func (c *cli) historySummaryCommand() *cobra.Command {
	var format, rawFrom, rawTo, groupBy string
	var filter archive.RunFilter
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize archived runs: counts, errors, tokens and cost per group",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page := historyRange{format: format, limit: 1, from: rawFrom, to: rawTo}
			normalizedFormat, from, to, err := page.validate("history summary")
			if err != nil {
				return err
			}
			if !slices.Contains(archive.SummaryGroups, groupBy) {
				return usageErrorf("invalid --group-by %q: expected %s", groupBy, joinChoices(archive.SummaryGroups))
			}
			filter.From, filter.To = from, to

			return c.withArchive(cmd.Context(), func(store archive.Store) error {
				report, err := analytics.NewUsageService(store).Summary(cmd.Context(), filter, groupBy)
				if err != nil {
					return err
				}
				if normalizedFormat == "json" {
					encoder := json.NewEncoder(c.out)
					encoder.SetIndent("", "  ")
					return encoder.Encode(report)
				}
				return writeUsageText(c.out, report)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", defaultHistoryFormat, "Output format: text or json")
	cmd.Flags().StringVar(&groupBy, "group-by", analytics.DefaultGroupBy, "Group by "+joinChoices(archive.SummaryGroups))
	cmd.Flags().StringVar(&rawFrom, "from", "", "Start time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&rawTo, "to", "", "End time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&filter.TraceID, "trace-id", "", "Only runs of this trace")
	cmd.Flags().StringVar(&filter.RunType, "run-type", "", "Only runs of this type")
	cmd.Flags().StringVar(&filter.Source, "source", "", "Only runs exported to this file")
	return cmd
}

func writeUsageText(out io.Writer, report *analytics.UsageReport) error {
	if report.Total.RunCount == 0 {
		fmt.Fprintln(out, "No archived runs")
		return nil
	}
	table := output.NewTable(out, report.GroupBy, "Runs", "Errors", "Error Rate", "Tokens", "Cost")
	rows := append(slices.Clone(report.Groups), report.Total)
	for _, stats := range rows {
		if err := table.Append(
			output.Truncate(nonEmpty(stats.Group, "(none)"), 40),
			strconv.FormatInt(stats.RunCount, 10),
			strconv.FormatInt(stats.ErrorCount, 10),
			fmt.Sprintf("%.1f%%", analytics.ErrorRate(stats)*100),
			strconv.FormatInt(stats.TotalTokens, 10),
			fmt.Sprintf("$%.4f", stats.TotalCost),
		); err != nil {
			return fmt.Errorf("render summary table: %w", err)
		}
	}
	return table.Render()
}

func writeHistoryJSON[T any](out io.Writer, items []T, nextCursor string) error {
	if items == nil {
		items = []T{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		Items      []T    `json:"items"`
		NextCursor string `json:"next_cursor,omitempty"`
	}{Items: items, NextCursor: nextCursor})
}

func writeRunHistoryText(out io.Writer, result *archive.RunResult) error {
	if len(result.Items) == 0 {
		fmt.Fprintln(out, "No archived runs")
		return nil
	}
	table := output.NewTable(out, "Exported", "Name", "Type", "Trace ID", "Run ID", "Status", "Tokens", "Source")
	for _, run := range result.Items {
		if err := table.Append(
			run.ExportedAt.Local().Format("2006-01-02 15:04:05"),
			output.Truncate(run.Name, 40),
			run.RunType,
			output.ShortID(run.TraceID),
			output.ShortID(run.ID),
			nonEmpty(run.Status, "N/A"),
			strconv.FormatInt(run.TotalTokens, 10),
			run.Source,
		); err != nil {
			return fmt.Errorf("render history table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	writeNextCursor(out, result.NextCursor)
	return nil
}

func writeTestHistoryText(out io.Writer, result *archive.TestResult) error {
	if len(result.Items) == 0 {
		fmt.Fprintln(out, "No archived test results")
		return nil
	}
	table := output.NewTable(out, "Started", "Test", "Result", "Checks", "Duration", "Summary")
	for _, item := range result.Items {
		verdict := "✓ PASS"
		if !item.Passed {
			verdict = "✗ FAIL"
		}
		if err := table.Append(
			item.StartedAt.Local().Format("2006-01-02 15:04:05"),
			item.Name,
			verdict,
			fmt.Sprintf("%d/%d", item.PassedChecks, item.PassedChecks+item.FailedChecks),
			fmt.Sprintf("%.1fs", float64(item.DurationMS)/1000),
			nonEmpty(item.SummaryPath, item.Error),
		); err != nil {
			return fmt.Errorf("render history table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	writeNextCursor(out, result.NextCursor)
	return nil
}

func writeNextCursor(out io.Writer, cursor string) {
	if cursor != "" {
		fmt.Fprintf(out, "\nNext page: --cursor %s\n", cursor)
	}
}
