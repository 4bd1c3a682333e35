// Package correlation ties one smithkit invocation to the LangSmith API
// requests it makes and the log lines it writes.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// HeaderName carries the request id on outgoing API requests.
	HeaderName = "X-Request-ID"
	maxIDLen   = 128
)

type contextKey struct{}

var correlationContextKey contextKey

// EnsureRequest sets HeaderName on req. The id comes from the request
// context when present, otherwise a new one is generated.
func EnsureRequest(req *http.Request) string {
	if req == nil {
		return ""
	}
	id, ok := FromContext(req.Context())
	if !ok {
		id = NewID()
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set(HeaderName, id)
	return id
}

// WithContext stores a normalized id in ctx. Invalid ids leave ctx as is.
func WithContext(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	normalized := normalizeID(id)
	if normalized == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationContextKey, normalized)
}

func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(correlationContextKey).(string)
	if !ok {
		return "", false
	}
	normalized := normalizeID(value)
	if normalized == "" {
		return "", false
	}
	return normalized, true
}

// FromResponse returns the id echoed back by the server, if any.
func FromResponse(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	if id := normalizeID(resp.Header.Get(HeaderName)); id != "" {
		return id
	}
	if resp.Request != nil {
		return normalizeID(resp.Request.Header.Get(HeaderName))
	}
	return ""
}

// NewID returns a new invocation id.
func NewID() string {
	return "smithkit-" + uuid.NewString()
}

func normalizeID(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if len(value) > maxIDLen {
		value = value[:maxIDLen]
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return ""
		}
	}
	return value
}
