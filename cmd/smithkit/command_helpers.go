package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ongoingai/smithkit/internal/config"
	"github.com/ongoingai/smithkit/internal/langsmith"
)

const (
	configStageLoad     = "load"
	configStageValidate = "validate"
)

// normalizeTextJSONFormat validates command output format flags with shared semantics.
func normalizeTextJSONFormat(command, rawValue, defaultValue string) (string, error) {
	return normalizeChoice(command+" format", rawValue, defaultValue, "text", "json")
}

// normalizeChoice lower-cases value and checks it against allowed.
func normalizeChoice(what, rawValue, defaultValue string, allowed ...string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	if normalized == "" {
		normalized = strings.TrimSpace(defaultValue)
	}
	if slices.Contains(allowed, normalized) {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid %s %q: expected %s", strings.TrimSpace(what), rawValue, joinChoices(allowed))
}

func joinChoices(choices []string) string {
	switch len(choices) {
	case 0:
		return ""
	case 1:
		return choices[0]
	}
	return strings.Join(choices[:len(choices)-1], ", ") + " or " + choices[len(choices)-1]
}

// loadAndValidateConfig resolves config and reports which stage failed.
func loadAndValidateConfig(configPath string) (config.Config, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, configStageLoad, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configStageValidate, err
	}
	return cfg, "", nil
}

// parseHistoryTime accepts RFC3339 or a bare date. A bare date ends the
// day when endOfDay is set.
func parseHistoryTime(raw string, endOfDay bool) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	if parsed, err := time.ParseInLocation("2006-01-02", value, time.UTC); err == nil {
		if endOfDay {
			return parsed.Add(24*time.Hour - time.Nanosecond), nil
		}
		return parsed, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD")
}

// clientError turns client construction failures into the message the
// commands print.
func clientError(err error) error {
	if errors.Is(err, langsmith.ErrMissingAPIKey) {
		return &exitError{code: 1, err: errors.New("LANGSMITH_API_KEY is not set (set it in the environment or langsmith.api_key)")}
	}
	return &exitError{code: 1, err: err}
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
