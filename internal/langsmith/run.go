package langsmith

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Run is a single recorded invocation as returned by the runs endpoints.
type Run struct {
	ID               string         `json:"id"`
	TraceID          string         `json:"trace_id,omitempty"`
	ParentRunID      *string        `json:"parent_run_id,omitempty"`
	SessionID        string         `json:"session_id,omitempty"`
	Name             string         `json:"name"`
	RunType          string         `json:"run_type"`
	StartTime        *Time          `json:"start_time,omitempty"`
	EndTime          *Time          `json:"end_time,omitempty"`
	Status           string         `json:"status,omitempty"`
	Error            *string        `json:"error,omitempty"`
	Inputs           map[string]any `json:"inputs,omitempty"`
	Outputs          map[string]any `json:"outputs,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	PromptTokens     *int64         `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64         `json:"completion_tokens,omitempty"`
	TotalTokens      *int64         `json:"total_tokens,omitempty"`
	PromptCost       *Number        `json:"prompt_cost,omitempty"`
	CompletionCost   *Number        `json:"completion_cost,omitempty"`
	TotalCost        *Number        `json:"total_cost,omitempty"`
}

// TraceKey returns the trace id, falling back to the run id for roots
// returned without one.
func (r Run) TraceKey() string {
	if r.TraceID != "" {
		return r.TraceID
	}
	return r.ID
}

func (r Run) IsRoot() bool {
	return r.ParentRunID == nil || *r.ParentRunID == ""
}

func (r Run) ParentID() string {
	if r.ParentRunID == nil {
		return ""
	}
	return *r.ParentRunID
}

// DurationMS is end minus start in milliseconds, or nil when either is unset.
func (r Run) DurationMS() *float64 {
	if r.StartTime == nil || r.EndTime == nil || r.StartTime.IsZero() || r.EndTime.IsZero() {
		return nil
	}
	ms := float64(r.EndTime.Sub(r.StartTime.Time).Microseconds()) / 1000.0
	return &ms
}

// StartedAt returns the start time or the zero time.
func (r Run) StartedAt() time.Time {
	if r.StartTime == nil {
		return time.Time{}
	}
	return r.StartTime.Time
}

// Metadata returns extra.metadata when it is an object.
func (r Run) Metadata() map[string]any {
	if r.Extra == nil {
		return nil
	}
	metadata, _ := r.Extra["metadata"].(map[string]any)
	return metadata
}

const naiveLayout = "2006-01-02T15:04:05.999999999"

// Time accepts both zoned RFC 3339 timestamps and the zone-less form the API
// emits, treating the latter as UTC.
type Time struct {
	time.Time
}

func NewTime(t time.Time) *Time {
	return &Time{Time: t}
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTime(raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatISO(t.Time))
}

// ParseTime parses an API timestamp.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.ParseInLocation(naiveLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return parsed, nil
}

// FormatISO renders t in UTC without a zone suffix and with microsecond
// precision only when the fraction is non-zero.
func FormatISO(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	if micros := t.Nanosecond() / 1000; micros != 0 {
		return fmt.Sprintf("%s.%06d", base, micros)
	}
	return base
}

// Number decodes cost fields that arrive either as JSON numbers or as
// decimal strings.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = Number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode number: %w", err)
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("decode number %q: %w", s, err)
	}
	*n = Number(parsed)
	return nil
}

// RunQuery is the body of POST /runs/query. ProjectName is resolved to a
// session id by the client before the request is sent.
type RunQuery struct {
	ProjectName string     `json:"-"`
	Session     []string   `json:"session,omitempty"`
	Trace       string     `json:"trace,omitempty"`
	IsRoot      *bool      `json:"is_root,omitempty"`
	RunType     string     `json:"run_type,omitempty"`
	StartTime   *time.Time `json:"-"`
	Error       *bool      `json:"error,omitempty"`
	Filter      string     `json:"filter,omitempty"`
	Limit       int        `json:"-"`
}

type runQueryBody struct {
	RunQuery
	StartTime string `json:"start_time,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Cursor    string `json:"cursor,omitempty"`
}

type runQueryResponse struct {
	Runs    []Run `json:"runs"`
	Cursors struct {
		Next *string `json:"next"`
	} `json:"cursors"`
}
