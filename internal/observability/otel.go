// Package observability wires OpenTelemetry tracing and metrics around the
// LangSmith client and builds the structured logger.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ongoingai/smithkit/internal/config"
)

const instrumentationName = "smithkit"

// Runtime exposes the HTTP transport wrapper and smithkit metric hooks.
type Runtime struct {
	enabled bool

	archiveWriteFailedCounter metric.Int64Counter
	fetchFailedCounter        metric.Int64Counter

	shutdownFns []func(context.Context) error
}

// exporterSettings is what both OTLP exporters share.
type exporterSettings struct {
	endpoint string
	insecure bool
	timeout  time.Duration
	resource *resource.Resource
}

// Setup initializes OpenTelemetry providers. A disabled config yields a
// Runtime whose hooks are no-ops.
func Setup(ctx context.Context, cfg config.OTelConfig, serviceVersion string, logger *slog.Logger) (*Runtime, error) {
	runtime := &Runtime{}
	if !cfg.Enabled {
		return runtime, nil
	}

	settings, err := newExporterSettings(cfg, serviceVersion)
	if err != nil {
		return nil, err
	}

	if cfg.TracesEnabled {
		provider, err := newTracerProvider(ctx, settings, cfg.SamplingRatio)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(provider)
		runtime.shutdownFns = append(runtime.shutdownFns, provider.Shutdown)
	}
	if cfg.MetricsEnabled {
		interval := time.Duration(cfg.MetricExportIntervalMS) * time.Millisecond
		provider, err := newMeterProvider(ctx, settings, interval)
		if err != nil {
			_ = runtime.Shutdown(context.Background())
			return nil, err
		}
		otel.SetMeterProvider(provider)
		runtime.shutdownFns = append(runtime.shutdownFns, provider.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})
	runtime.initCounters(otel.Meter(instrumentationName), logger)
	runtime.enabled = true

	if logger != nil {
		logger.Info(
			"opentelemetry enabled",
			"otel_endpoint", settings.endpoint,
			"otel_traces_enabled", cfg.TracesEnabled,
			"otel_metrics_enabled", cfg.MetricsEnabled,
			"otel_sampling_ratio", cfg.SamplingRatio,
		)
	}
	return runtime, nil
}

func newExporterSettings(cfg config.OTelConfig, serviceVersion string) (exporterSettings, error) {
	endpoint, schemeInsecure, err := normalizeOTLPEndpoint(cfg.Endpoint)
	if err != nil {
		return exporterSettings{}, err
	}
	insecure := cfg.Insecure
	if strings.Contains(strings.TrimSpace(cfg.Endpoint), "://") {
		// An explicit scheme decides transport security.
		insecure = schemeInsecure
	}
	return exporterSettings{
		endpoint: endpoint,
		insecure: insecure,
		timeout:  time.Duration(cfg.ExportTimeoutMS) * time.Millisecond,
		resource: resource.NewSchemaless(
			attribute.String("service.name", strings.TrimSpace(cfg.ServiceName)),
			attribute.String("service.version", strings.TrimSpace(serviceVersion)),
		),
	}, nil
}

// newTracerProvider exports spans through the credential scrubber.
func newTracerProvider(ctx context.Context, settings exporterSettings, samplingRatio float64) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(settings.endpoint),
		otlptracehttp.WithTimeout(settings.timeout),
	}
	if settings.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplingRatio))),
		sdktrace.WithBatcher(newScrubbingExporter(exporter)),
		sdktrace.WithResource(settings.resource),
	), nil
}

func newMeterProvider(ctx context.Context, settings exporterSettings, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(settings.endpoint),
		otlpmetrichttp.WithTimeout(settings.timeout),
	}
	if settings.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval), sdkmetric.WithTimeout(settings.timeout))
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(settings.resource), sdkmetric.WithReader(reader)), nil
}

func (r *Runtime) initCounters(meter metric.Meter, logger *slog.Logger) {
	var err error
	r.archiveWriteFailedCounter, err = meter.Int64Counter(
		"smithkit.archive.write_failed_total",
		metric.WithDescription("Count of archived runs dropped after storage write failures."),
	)
	if err != nil && logger != nil {
		logger.Warn("failed to create opentelemetry counter", "metric", "smithkit.archive.write_failed_total", "error", err)
	}
	r.fetchFailedCounter, err = meter.Int64Counter(
		"smithkit.export.fetch_failed_total",
		metric.WithDescription("Count of traces that could not be fetched during an export."),
	)
	if err != nil && logger != nil {
		logger.Warn("failed to create opentelemetry counter", "metric", "smithkit.export.fetch_failed_total", "error", err)
	}
}

// Enabled reports whether OpenTelemetry instrumentation is active.
func (r *Runtime) Enabled() bool {
	return r != nil && r.enabled
}

// WrapHTTPTransport wraps the LangSmith client transport with client spans.
func (r *Runtime) WrapHTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !r.Enabled() {
		return base
	}
	return otelhttp.NewTransport(
		base,
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return clientSpanName(req.Method, req.URL.Path)
		}),
	)
}

// RecordArchiveWriteFailure counts archived runs lost to storage errors.
func (r *Runtime) RecordArchiveWriteFailure(operation, errorClass string, failedCount int) {
	if !r.Enabled() || failedCount <= 0 || r.archiveWriteFailedCounter == nil {
		return
	}
	r.archiveWriteFailedCounter.Add(
		context.Background(),
		int64(failedCount),
		metric.WithAttributes(
			attribute.String("operation", strings.TrimSpace(operation)),
			attribute.String("error_class", strings.TrimSpace(errorClass)),
		),
	)
}

// RecordFetchFailure counts one trace that an export could not fetch.
func (r *Runtime) RecordFetchFailure(ctx context.Context, command string) {
	if !r.Enabled() || r.fetchFailedCounter == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.fetchFailedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// Shutdown flushes and stops OpenTelemetry providers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || len(r.shutdownFns) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i := len(r.shutdownFns) - 1; i >= 0; i-- {
		if err := r.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func normalizeOTLPEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", false, errors.New("observability.otel.endpoint must not be empty")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse observability.otel.endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", false, fmt.Errorf("observability.otel.endpoint must include host (got %q)", raw)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return parsed.Host, true, nil
	case "https":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("observability.otel.endpoint scheme must be http or https when provided (got %q)", parsed.Scheme)
	}
}

var langsmithRoutes = []string{"/runs/query", "/runs/rules", "/runs", "/sessions", "/datasets", "/examples"}

// routeForPath collapses LangSmith API paths to low-cardinality span names.
// The API may be mounted under a prefix such as /api/v1.
func routeForPath(path string) string {
	path = "/" + strings.Trim(path, "/")
	for _, route := range langsmithRoutes {
		idx := strings.Index(path, route)
		if idx < 0 {
			continue
		}
		rest := path[idx+len(route):]
		switch {
		case rest == "":
			return route
		case strings.HasPrefix(rest, "/"):
			return route + "/*"
		}
	}
	return "/other"
}

func clientSpanName(method, path string) string {
	method = strings.TrimSpace(method)
	if method == "" {
		method = "UNKNOWN"
	}
	return "langsmith " + method + " " + routeForPath(path)
}
