package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LangSmith     LangSmithConfig     `yaml:"langsmith"`
	Storage       StorageConfig       `yaml:"storage"`
	Harness       HarnessConfig       `yaml:"harness"`
	Log           LogConfig           `yaml:"log"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LangSmithConfig holds API connection settings. The LANGSMITH_* variables
// always win over values from the config file.
type LangSmithConfig struct {
	APIURL      string `yaml:"api_url" env:"LANGSMITH_API_URL,overwrite"`
	APIKey      string `yaml:"api_key" env:"LANGSMITH_API_KEY,overwrite"`
	WorkspaceID string `yaml:"workspace_id" env:"LANGSMITH_WORKSPACE_ID,overwrite"`
	Project     string `yaml:"project" env:"LANGSMITH_PROJECT,overwrite"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

func (c LangSmithConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// StorageConfig controls the local archive of exported runs and harness
// results. The archive is off unless explicitly enabled.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

type HarnessConfig struct {
	BaseEnvPath        string            `yaml:"base_env_path"`
	AgentName          string            `yaml:"agent_name"`
	LogsDir            string            `yaml:"logs_dir"`
	FixturesDir        string            `yaml:"fixtures_dir"`
	IdleThresholdMS    int               `yaml:"idle_threshold_ms"`
	ReadTimeoutMS      int               `yaml:"read_timeout_ms"`
	TestTimeoutSeconds int               `yaml:"test_timeout_seconds"`
	Env                map[string]string `yaml:"env"`
}

func (c HarnessConfig) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdMS) * time.Millisecond
}

func (c HarnessConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

func (c HarnessConfig) TestTimeout() time.Duration {
	return time.Duration(c.TestTimeoutSeconds) * time.Second
}

// ResolveBaseEnvPath expands a leading "~" to the user's home directory.
func (c HarnessConfig) ResolveBaseEnvPath() (string, error) {
	return expandHome(c.BaseEnvPath)
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	Insecure               bool    `yaml:"insecure"`
	ServiceName            string  `yaml:"service_name"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

const (
	DefaultLangSmithAPIURL = "https://api.smith.langchain.com"
	DefaultAgentName       = "langchain_agent"
	DefaultBaseEnvPath     = "~/Desktop/Projects/test"
)

const (
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "smithkit"
	defaultOTELSamplingRatio          = 1.0
	defaultOTELExportTimeoutMS        = 3000
	defaultOTELMetricExportIntervalMS = 10000
)

func Default() Config {
	return Config{
		LangSmith: LangSmithConfig{
			APIURL:    DefaultLangSmithAPIURL,
			TimeoutMS: 30000,
		},
		Storage: StorageConfig{
			Enabled: false,
			Driver:  "sqlite",
			Path:    "./data/smithkit.db",
		},
		Harness: HarnessConfig{
			BaseEnvPath:        DefaultBaseEnvPath,
			AgentName:          DefaultAgentName,
			LogsDir:            "logs",
			IdleThresholdMS:    5000,
			ReadTimeoutMS:      1000,
			TestTimeoutSeconds: 300,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELServiceName,
				TracesEnabled:          true,
				MetricsEnabled:         true,
				SamplingRatio:          defaultOTELSamplingRatio,
				ExportTimeoutMS:        defaultOTELExportTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := envconfig.Process(context.Background(), &cfg.LangSmith); err != nil {
		return Config{}, fmt.Errorf("read langsmith environment: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	if err := validateAPIURL(cfg.LangSmith.APIURL); err != nil {
		return err
	}
	if cfg.LangSmith.TimeoutMS <= 0 {
		return fmt.Errorf("langsmith.timeout_ms must be > 0 (got %d)", cfg.LangSmith.TimeoutMS)
	}

	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres (got %q)", cfg.Storage.Driver)
	}

	if strings.TrimSpace(cfg.Harness.AgentName) == "" {
		return errors.New("harness.agent_name must not be empty")
	}
	if cfg.Harness.IdleThresholdMS <= 0 {
		return fmt.Errorf("harness.idle_threshold_ms must be > 0 (got %d)", cfg.Harness.IdleThresholdMS)
	}
	if cfg.Harness.ReadTimeoutMS <= 0 {
		return fmt.Errorf("harness.read_timeout_ms must be > 0 (got %d)", cfg.Harness.ReadTimeoutMS)
	}
	if cfg.Harness.TestTimeoutSeconds <= 0 {
		return fmt.Errorf("harness.test_timeout_seconds must be > 0 (got %d)", cfg.Harness.TestTimeoutSeconds)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Format)) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of json, text (got %q)", cfg.Log.Format)
	}

	return validateOTelConfig(cfg.Observability.OTel)
}

func validateAPIURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return errors.New("langsmith.api_url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("parse langsmith.api_url: %w", err)
	}
	if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("langsmith.api_url must include scheme and host (got %q)", raw)
	}
	return nil
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("observability.otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("observability.otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if timeout := os.Getenv("SMITHKIT_LANGSMITH_TIMEOUT_MS"); timeout != "" {
		v, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid SMITHKIT_LANGSMITH_TIMEOUT_MS: %w", err)
		}
		cfg.LangSmith.TimeoutMS = v
	}

	if enabled := os.Getenv("SMITHKIT_STORAGE_ENABLED"); enabled != "" {
		v, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid SMITHKIT_STORAGE_ENABLED: %w", err)
		}
		cfg.Storage.Enabled = v
	}
	if storageDriver := os.Getenv("SMITHKIT_STORAGE_DRIVER"); storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if storagePath := os.Getenv("SMITHKIT_STORAGE_PATH"); storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if storageDSN := os.Getenv("SMITHKIT_STORAGE_DSN"); storageDSN != "" {
		cfg.Storage.DSN = storageDSN
	}

	if baseEnv := os.Getenv("SMITHKIT_HARNESS_BASE_ENV"); baseEnv != "" {
		cfg.Harness.BaseEnvPath = baseEnv
	}
	if agent := os.Getenv("SMITHKIT_HARNESS_AGENT"); agent != "" {
		cfg.Harness.AgentName = agent
	}
	if fixtures := os.Getenv("SMITHKIT_HARNESS_FIXTURES_DIR"); fixtures != "" {
		cfg.Harness.FixturesDir = fixtures
	}

	if level := os.Getenv("SMITHKIT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("SMITHKIT_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}

	otelConfigured := false
	otelSDKDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Observability.OTel.Enabled = !v
		otelSDKDisabledSet = true
		otelConfigured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Observability.OTel.Endpoint = endpoint
		otelConfigured = true
	}
	if insecure := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure != "" {
		v, err := strconv.ParseBool(insecure)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Observability.OTel.Insecure = v
		otelConfigured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.Observability.OTel.ServiceName = serviceName
		otelConfigured = true
	}
	if tracesExporter := strings.TrimSpace(os.Getenv("OTEL_TRACES_EXPORTER")); tracesExporter != "" {
		enabled, err := otelExporterEnabled(tracesExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_EXPORTER: %w", err)
		}
		cfg.Observability.OTel.TracesEnabled = enabled
		otelConfigured = true
	}
	if metricsExporter := strings.TrimSpace(os.Getenv("OTEL_METRICS_EXPORTER")); metricsExporter != "" {
		enabled, err := otelExporterEnabled(metricsExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRICS_EXPORTER: %w", err)
		}
		cfg.Observability.OTel.MetricsEnabled = enabled
		otelConfigured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.Observability.OTel.SamplingRatio = v
		otelConfigured = true
	}
	if exportTimeout := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT")); exportTimeout != "" {
		v, err := strconv.Atoi(exportTimeout)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_TIMEOUT: %w", err)
		}
		cfg.Observability.OTel.ExportTimeoutMS = v
		otelConfigured = true
	}
	if metricExportInterval := strings.TrimSpace(os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")); metricExportInterval != "" {
		v, err := strconv.Atoi(metricExportInterval)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRIC_EXPORT_INTERVAL: %w", err)
		}
		cfg.Observability.OTel.MetricExportIntervalMS = v
		otelConfigured = true
	}
	if otelConfigured && !otelSDKDisabledSet {
		cfg.Observability.OTel.Enabled = true
	}

	return nil
}

func otelExporterEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "otlp":
		return true, nil
	case "none":
		return false, nil
	default:
		return false, fmt.Errorf("must be one of otlp, none (got %q)", value)
	}
}

func expandHome(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed != "~" && !strings.HasPrefix(trimmed, "~/") {
		return trimmed, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if trimmed == "~" {
		return home, nil
	}
	return filepath.Join(home, trimmed[2:]), nil
}
