package langsmith

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ongoingai/smithkit/internal/correlation"
)

// Rule is a run rule. Code evaluators are stored as rules.
type Rule struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"display_name"`
	SamplingRate     *float64 `json:"sampling_rate,omitempty"`
	DatasetID        *string  `json:"dataset_id,omitempty"`
	SessionID        *string  `json:"session_id,omitempty"`
	TargetDatasetIDs []string `json:"target_dataset_ids,omitempty"`
	TargetProjectIDs []string `json:"target_project_ids,omitempty"`
}

type CodeEvaluator struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// RuleRequest is the body of POST /runs/rules.
type RuleRequest struct {
	DisplayName    string          `json:"display_name"`
	SamplingRate   float64         `json:"sampling_rate"`
	CodeEvaluators []CodeEvaluator `json:"code_evaluators"`
	DatasetID      *string         `json:"dataset_id,omitempty"`
	SessionID      *string         `json:"session_id,omitempty"`
}

func (c *Client) ListRules(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	if err := c.do(ctx, http.MethodGet, "/runs/rules", nil, nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// CreateRule posts a rule. The API signals success only with 200; any
// other status, 2xx included, is returned as an *APIError.
func (c *Client) CreateRule(ctx context.Context, rule RuleRequest) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/runs/rules", nil, rule)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("langsmith POST /runs/rules: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Method: http.MethodPost, Path: "/runs/rules", Body: string(raw), RequestID: correlation.FromResponse(resp)}
	}
	return nil
}

func (c *Client) DeleteRule(ctx context.Context, ruleID string) error {
	return c.do(ctx, http.MethodDelete, "/runs/rules/"+url.PathEscape(ruleID), nil, nil, nil)
}
