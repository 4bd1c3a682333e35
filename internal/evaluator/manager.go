package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/internal/output"
)

// ErrUploadRejected is returned when the API refuses an evaluator. The
// reason has already been printed.
var ErrUploadRejected = errors.New("evaluator upload rejected")

// Client is the subset of the LangSmith API the evaluator commands use.
type Client interface {
	ListRules(ctx context.Context) ([]langsmith.Rule, error)
	CreateRule(ctx context.Context, rule langsmith.RuleRequest) error
	DeleteRule(ctx context.Context, ruleID string) error
	ReadDatasetByName(ctx context.Context, name string) (langsmith.Dataset, error)
	ListProjects(ctx context.Context) ([]langsmith.Project, error)
}

// Payload is an evaluator ready to upload.
type Payload struct {
	DisplayName      string
	Code             string
	SamplingRate     float64
	TargetDatasetIDs []string
	TargetProjectIDs []string
}

// BuildRequest converts a payload to the rule body. A dataset or project
// target is only sent when exactly one was resolved.
func BuildRequest(p Payload) langsmith.RuleRequest {
	req := langsmith.RuleRequest{
		DisplayName:    p.DisplayName,
		SamplingRate:   p.SamplingRate,
		CodeEvaluators: []langsmith.CodeEvaluator{{Code: p.Code, Language: "python"}},
	}
	if len(p.TargetDatasetIDs) == 1 {
		req.DatasetID = &p.TargetDatasetIDs[0]
	}
	if len(p.TargetProjectIDs) == 1 {
		req.SessionID = &p.TargetProjectIDs[0]
	}
	return req
}

type Manager struct {
	Client Client
	Out    io.Writer
	ErrOut io.Writer
	// Confirm asks the operator a yes/no question.
	Confirm func(prompt string) bool
}

func (m *Manager) errOut() io.Writer {
	if m.ErrOut != nil {
		return m.ErrOut
	}
	return m.Out
}

func (m *Manager) confirm(prompt string) bool {
	return m.Confirm != nil && m.Confirm(prompt)
}

func (m *Manager) find(ctx context.Context, name string) (*langsmith.Rule, error) {
	rules, err := m.Client.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list evaluators: %w", err)
	}
	for i := range rules {
		if rules[i].DisplayName == name {
			return &rules[i], nil
		}
	}
	return nil, nil
}

// Exists reports whether an evaluator with this display name exists.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	rule, err := m.find(ctx, name)
	return rule != nil, err
}

// Delete removes the named evaluator, asking first when confirm is set.
// It reports whether anything was deleted.
func (m *Manager) Delete(ctx context.Context, name string, confirm bool) (bool, error) {
	rule, err := m.find(ctx, name)
	if err != nil {
		return false, err
	}
	if rule == nil {
		fmt.Fprintf(m.errOut(), "Evaluator '%s' not found\n", name)
		return false, nil
	}
	if confirm {
		fmt.Fprintf(m.Out, "⚠️  About to delete evaluator: '%s'\n", name)
		if !m.confirm("Are you sure? (y/n): ") {
			fmt.Fprintln(m.Out, "Deletion cancelled")
			return false, nil
		}
	}
	if err := m.Client.DeleteRule(ctx, rule.ID); err != nil {
		return false, fmt.Errorf("delete evaluator %q: %w", name, err)
	}
	fmt.Fprintf(m.Out, "✓ Deleted evaluator '%s'\n", name)
	return true, nil
}

type UploadRequest struct {
	File         string
	Name         string
	Function     string
	Dataset      string
	Project      string
	SamplingRate float64
	Replace      bool
	SkipConfirm  bool
}

// Upload reads Function from File, renames it to the entry point and
// creates the evaluator. An existing evaluator with the same name is only
// replaced with Replace set, after confirmation unless SkipConfirm.
func (m *Manager) Upload(ctx context.Context, req UploadRequest) (bool, error) {
	raw, err := os.ReadFile(req.File)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", req.File, err)
	}
	source, err := ExtractFunction(string(raw), req.Function)
	if errors.Is(err, ErrFunctionNotFound) {
		return false, fmt.Errorf("%w: '%s' in %s", ErrFunctionNotFound, req.Function, req.File)
	}
	if err != nil {
		return false, err
	}

	exists, err := m.Exists(ctx, req.Name)
	if err != nil {
		return false, err
	}
	if exists {
		if !req.Replace {
			fmt.Fprintf(m.errOut(), "Evaluator '%s' already exists. Use --replace to overwrite.\n", req.Name)
			return false, nil
		}
		if !req.SkipConfirm {
			fmt.Fprintf(m.Out, "⚠️  Evaluator '%s' already exists.\n", req.Name)
			if !m.confirm("Replace existing evaluator? (y/n): ") {
				fmt.Fprintln(m.Out, "Upload cancelled")
				return false, nil
			}
		}
		if _, err := m.Delete(ctx, req.Name, false); err != nil {
			return false, err
		}
	}

	payload := Payload{
		DisplayName:  req.Name,
		Code:         RenameEntryPoint(source, req.Function),
		SamplingRate: req.SamplingRate,
	}
	if req.Dataset != "" {
		if id, ok := m.resolveDataset(ctx, req.Dataset); ok {
			payload.TargetDatasetIDs = append(payload.TargetDatasetIDs, id)
		}
	}
	if req.Project != "" {
		if id, ok := m.resolveProject(ctx, req.Project); ok {
			payload.TargetProjectIDs = append(payload.TargetProjectIDs, id)
		}
	}

	if err := m.Client.CreateRule(ctx, BuildRequest(payload)); err != nil {
		var apiErr *langsmith.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(m.errOut(), "✗ Failed to upload '%s': %s\n", req.Name, apiErr.Body)
			return false, ErrUploadRejected
		}
		return false, fmt.Errorf("upload evaluator %q: %w", req.Name, err)
	}
	fmt.Fprintf(m.Out, "✓ Uploaded evaluator '%s'\n", req.Name)
	return true, nil
}

func (m *Manager) resolveDataset(ctx context.Context, name string) (string, bool) {
	ds, err := m.Client.ReadDatasetByName(ctx, name)
	if err != nil {
		fmt.Fprintf(m.errOut(), "Warning: Could not find dataset '%s': %v\n", name, err)
		return "", false
	}
	return ds.ID, true
}

func (m *Manager) resolveProject(ctx context.Context, name string) (string, bool) {
	projects, err := m.Client.ListProjects(ctx)
	if err != nil {
		fmt.Fprintf(m.errOut(), "Warning: Error finding project '%s': %v\n", name, err)
		return "", false
	}
	for _, p := range projects {
		if p.Name == name {
			return p.ID, true
		}
	}
	fmt.Fprintf(m.errOut(), "Warning: Could not find project '%s'\n", name)
	return "", false
}

// List prints every evaluator with its sampling rate and targets.
func (m *Manager) List(ctx context.Context) error {
	rules, err := m.Client.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list evaluators: %w", err)
	}
	if len(rules) == 0 {
		fmt.Fprintln(m.Out, "No evaluators found")
		return nil
	}

	fmt.Fprintln(m.Out, "LangSmith Evaluators")
	table := output.NewTable(m.Out, "Name", "Sampling Rate", "Targets")
	for _, rule := range rules {
		rate := 1.0
		if rule.SamplingRate != nil {
			rate = *rule.SamplingRate
		}
		if err := table.Append(rule.DisplayName, fmt.Sprintf("%.1f%%", rate*100), targets(rule)); err != nil {
			return fmt.Errorf("render evaluators table: %w", err)
		}
	}
	return table.Render()
}

func targets(rule langsmith.Rule) string {
	var parts []string
	if n := len(rule.TargetDatasetIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d datasets", n))
	}
	if n := len(rule.TargetProjectIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d projects", n))
	}
	if len(parts) == 0 {
		return "All runs"
	}
	return strings.Join(parts, ", ")
}
