package langsmith

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ongoingai/smithkit/internal/correlation"
	"github.com/ongoingai/smithkit/internal/version"
)

const (
	DefaultAPIURL  = "https://api.smith.langchain.com"
	defaultTimeout = 30 * time.Second
	maxPageSize    = 100
	maxErrorBody   = 4 << 10
)

var (
	ErrMissingAPIKey = errors.New("LANGSMITH_API_KEY is not set")
	ErrNotFound      = errors.New("langsmith: not found")
	ErrConflict      = errors.New("langsmith: already exists")
)

// APIError is returned for any non-2xx reply.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
	RequestID  string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("langsmith %s %s: http %d", e.Method, e.Path, e.StatusCode)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	if e.RequestID != "" {
		msg += " (request_id=" + e.RequestID + ")"
	}
	return msg
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

type Options struct {
	BaseURL     string
	APIKey      string
	WorkspaceID string
	Timeout     time.Duration
	// Transport overrides the HTTP transport, e.g. with an instrumented one.
	Transport http.RoundTripper
}

type Client struct {
	baseURL     string
	apiKey      string
	workspaceID string
	http        *http.Client
}

func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		workspaceID: strings.TrimSpace(opts.WorkspaceID),
		http:        &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListRuns pages through POST /runs/query until q.Limit runs are collected
// or the cursor runs out. A non-positive limit fetches every page.
func (c *Client) ListRuns(ctx context.Context, q RunQuery) ([]Run, error) {
	if q.ProjectName != "" && len(q.Session) == 0 {
		projectID, err := c.ResolveProjectID(ctx, q.ProjectName)
		if err != nil {
			return nil, fmt.Errorf("resolve project %q: %w", q.ProjectName, err)
		}
		q.Session = []string{projectID}
	}

	body := runQueryBody{RunQuery: q}
	if q.StartTime != nil {
		body.StartTime = q.StartTime.UTC().Format(time.RFC3339Nano)
	}

	var runs []Run
	for {
		body.Limit = maxPageSize
		if q.Limit > 0 {
			body.Limit = min(maxPageSize, q.Limit-len(runs))
		}

		var page runQueryResponse
		if err := c.do(ctx, http.MethodPost, "/runs/query", nil, body, &page); err != nil {
			return nil, err
		}
		runs = append(runs, page.Runs...)

		if q.Limit > 0 && len(runs) >= q.Limit {
			return runs[:q.Limit], nil
		}
		if page.Cursors.Next == nil || *page.Cursors.Next == "" || len(page.Runs) == 0 {
			return runs, nil
		}
		body.Cursor = *page.Cursors.Next
	}
}

func (c *Client) ReadRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, nil, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResolveProjectID looks a project (tracing session) up by exact name.
func (c *Client) ResolveProjectID(ctx context.Context, name string) (string, error) {
	var projects []Project
	query := url.Values{"name": {name}}
	if err := c.do(ctx, http.MethodGet, "/sessions", query, nil, &projects); err != nil {
		return "", err
	}
	for _, project := range projects {
		if project.Name == name {
			return project.ID, nil
		}
	}
	return "", fmt.Errorf("project %q: %w", name, ErrNotFound)
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var all []Project
	for offset := 0; ; offset += maxPageSize {
		var page []Project
		query := url.Values{"limit": {fmt.Sprint(maxPageSize)}, "offset": {fmt.Sprint(offset)}}
		if err := c.do(ctx, http.MethodGet, "/sessions", query, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < maxPageSize {
			return all, nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	req, err := c.newRequest(ctx, method, path, query, in)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("langsmith %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: string(raw), RequestID: correlation.FromResponse(resp)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	// Numbers inside free-form inputs and outputs keep their literal form.
	dec.UseNumber()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, in any) (*http.Request, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if c.workspaceID != "" {
		req.Header.Set("x-tenant-id", c.workspaceID)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	correlation.EnsureRequest(req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
