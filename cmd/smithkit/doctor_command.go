package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ongoingai/smithkit/internal/archive"
	"github.com/ongoingai/smithkit/internal/config"
	"github.com/ongoingai/smithkit/internal/harness"
	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/migrations"
)

const defaultDoctorFormat = "text"

const doctorProbeTimeout = 10 * time.Second

const (
	doctorStatusPass = "pass"
	doctorStatusWarn = "warn"
	doctorStatusFail = "fail"
	doctorStatusSkip = "skip"
)

type doctorDocument struct {
	GeneratedAt   time.Time     `json:"generated_at"`
	ConfigPath    string        `json:"config_path"`
	OverallStatus string        `json:"overall_status"`
	Checks        []doctorCheck `json:"checks"`
}

type doctorCheck struct {
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	Summary string   `json:"summary"`
	Details []string `json:"details,omitempty"`
}

func (c *cli) doctorCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, LangSmith access, the harness environment and the archive",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			normalizedFormat, err := normalizeTextJSONFormat("doctor", format, defaultDoctorFormat)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			document := buildDoctorDocument(cmd.Context(), strings.TrimSpace(c.configPath))
			if err := writeDoctor(c.out, normalizedFormat, document); err != nil {
				return fmt.Errorf("failed to write doctor output: %w", err)
			}
			if document.OverallStatus == doctorStatusFail {
				return exitCode(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", defaultDoctorFormat, "Output format: text or json")
	return cmd
}

func buildDoctorDocument(ctx context.Context, configPath string) doctorDocument {
	doc := doctorDocument{
		GeneratedAt: time.Now().UTC(),
		ConfigPath:  configPath,
		Checks:      make([]doctorCheck, 0, 5),
	}

	cfg, stage, err := loadAndValidateConfig(configPath)
	if err != nil {
		summary := "failed to load config"
		reason := "skipped: config failed to load"
		if stage == configStageValidate {
			summary = "config is invalid"
			reason = "skipped: config validation failed"
		}
		doc.Checks = append(doc.Checks,
			doctorCheck{
				Name:    "config",
				Status:  doctorStatusFail,
				Summary: summary,
				Details: []string{err.Error()},
			},
			doctorSkippedCheck("langsmith_api_key", reason),
			doctorSkippedCheck("langsmith_api", reason),
			doctorSkippedCheck("harness_env", reason),
			doctorSkippedCheck("archive", reason),
		)
		doc.OverallStatus = doctorOverallStatus(doc.Checks)
		return doc
	}

	doc.Checks = append(doc.Checks, doctorCheck{
		Name:    "config",
		Status:  doctorStatusPass,
		Summary: "loaded and validated configuration",
		Details: []string{fmt.Sprintf("config path: %s", nonEmpty(configPath, "(default lookup)"))},
	})

	client, keyCheck := runDoctorAPIKeyCheck(cfg)
	doc.Checks = append(doc.Checks, keyCheck)
	if client == nil {
		doc.Checks = append(doc.Checks, doctorSkippedCheck("langsmith_api", "skipped: no API key"))
	} else {
		doc.Checks = append(doc.Checks, runDoctorAPICheck(ctx, client))
	}
	doc.Checks = append(doc.Checks, runDoctorHarnessCheck(cfg))
	doc.Checks = append(doc.Checks, runDoctorArchiveCheck(ctx, cfg))
	doc.OverallStatus = doctorOverallStatus(doc.Checks)
	return doc
}

func doctorSkippedCheck(name, summary string) doctorCheck {
	return doctorCheck{
		Name:    name,
		Status:  doctorStatusSkip,
		Summary: summary,
	}
}

func runDoctorAPIKeyCheck(cfg config.Config) (*langsmith.Client, doctorCheck) {
	check := doctorCheck{Name: "langsmith_api_key"}
	client, err := langsmith.NewClient(langsmith.Options{
		BaseURL:     cfg.LangSmith.APIURL,
		APIKey:      cfg.LangSmith.APIKey,
		WorkspaceID: cfg.LangSmith.WorkspaceID,
		Timeout:     doctorProbeTimeout,
	})
	if err != nil {
		check.Status = doctorStatusFail
		check.Summary = "LangSmith API key is not configured"
		check.Details = []string{"set LANGSMITH_API_KEY or langsmith.api_key"}
		return nil, check
	}

	check.Status = doctorStatusPass
	check.Summary = "LangSmith API key is configured"
	check.Details = []string{fmt.Sprintf("key: %s", maskAPIKey(cfg.LangSmith.APIKey))}
	if cfg.LangSmith.WorkspaceID != "" {
		check.Details = append(check.Details, fmt.Sprintf("workspace: %s", cfg.LangSmith.WorkspaceID))
	}
	if cfg.LangSmith.Project == "" {
		check.Status = doctorStatusWarn
		check.Summary = "LangSmith API key is configured but no default project is set"
		check.Details = append(check.Details, "set LANGSMITH_PROJECT or pass --project to each command")
	}
	return client, check
}

// maskAPIKey keeps the key type prefix and hides the secret part.
func maskAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "****"
}

func runDoctorAPICheck(ctx context.Context, client *langsmith.Client) doctorCheck {
	check := doctorCheck{Name: "langsmith_api"}
	probeCtx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	start := time.Now()
	if _, err := client.ListDatasets(probeCtx, 1); err != nil {
		check.Status = doctorStatusFail
		check.Summary = "LangSmith API request failed"
		check.Details = []string{fmt.Sprintf("url: %s", client.BaseURL()), err.Error()}
		return check
	}
	check.Status = doctorStatusPass
	check.Summary = "reached the LangSmith API"
	check.Details = []string{
		fmt.Sprintf("url: %s", client.BaseURL()),
		fmt.Sprintf("latency: %dms", time.Since(start).Milliseconds()),
	}
	return check
}

func runDoctorHarnessCheck(cfg config.Config) doctorCheck {
	check := doctorCheck{Name: "harness_env"}
	base, err := cfg.Harness.ResolveBaseEnvPath()
	if err != nil {
		check.Status = doctorStatusWarn
		check.Summary = "cannot resolve harness base environment"
		check.Details = []string{err.Error()}
		return check
	}
	if err := harness.CheckEnvironment(base); err != nil {
		// Only the harness commands need the environment.
		check.Status = doctorStatusWarn
		check.Summary = "harness base environment is not ready"
		check.Details = []string{err.Error()}
		return check
	}
	check.Status = doctorStatusPass
	check.Summary = "harness base environment is ready"
	check.Details = []string{
		fmt.Sprintf("base: %s", base),
		fmt.Sprintf("agent: %s", cfg.Harness.AgentName),
	}
	return check
}

func runDoctorArchiveCheck(ctx context.Context, cfg config.Config) doctorCheck {
	check := doctorCheck{Name: "archive"}
	if !cfg.Storage.Enabled {
		check.Status = doctorStatusSkip
		check.Summary = "archive is disabled (storage.enabled=false)"
		return check
	}

	store, err := archive.Open(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		check.Status = doctorStatusFail
		check.Summary = "failed to initialize archive storage"
		check.Details = []string{err.Error()}
		return check
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := store.QueryRuns(probeCtx, archive.RunFilter{Limit: 1}); err != nil {
		check.Status = doctorStatusFail
		check.Summary = "archive connectivity check failed"
		check.Details = []string{err.Error()}
		if closeErr := store.Close(); closeErr != nil {
			check.Details = append(check.Details, fmt.Sprintf("close archive: %v", closeErr))
		}
		return check
	}

	check.Status = doctorStatusPass
	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "postgres":
		check.Summary = "connected to postgres archive"
	default:
		path := strings.TrimSpace(cfg.Storage.Path)
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		check.Summary = "connected to sqlite archive"
		check.Details = []string{fmt.Sprintf("path: %s", path)}
	}
	if detail, ok := doctorSchemaDetail(probeCtx, store, cfg.Storage.Driver); ok {
		check.Details = append(check.Details, detail)
	} else {
		check.Status = doctorStatusWarn
		check.Details = append(check.Details, detail)
	}

	if closeErr := store.Close(); closeErr != nil {
		check.Status = doctorStatusWarn
		check.Summary = "archive connectivity succeeded with close warning"
		check.Details = append(check.Details, fmt.Sprintf("close archive: %v", closeErr))
	}
	return check
}

// doctorSchemaDetail compares applied migrations with the embedded ones.
func doctorSchemaDetail(ctx context.Context, store archive.Store, driver string) (string, bool) {
	dbStore, ok := store.(interface{ DB() *sql.DB })
	if !ok {
		return "schema: unknown", true
	}
	available, err := migrations.Available(strings.TrimSpace(driver))
	if err != nil {
		return fmt.Sprintf("schema: %v", err), false
	}
	applied, err := migrations.Applied(ctx, dbStore.DB())
	if err != nil {
		return fmt.Sprintf("schema: %v", err), false
	}
	if len(applied) < len(available) {
		return fmt.Sprintf("schema: %d of %d migrations applied", len(applied), len(available)), false
	}
	return fmt.Sprintf("schema: %d migrations applied", len(applied)), true
}

func doctorOverallStatus(checks []doctorCheck) string {
	hasWarn := false
	for _, check := range checks {
		switch check.Status {
		case doctorStatusFail:
			return doctorStatusFail
		case doctorStatusWarn:
			hasWarn = true
		}
	}
	if hasWarn {
		return doctorStatusWarn
	}
	return doctorStatusPass
}

func writeDoctor(out io.Writer, format string, doc doctorDocument) error {
	switch format {
	case "json":
		return writeDoctorJSON(out, doc)
	default:
		return writeDoctorText(out, doc)
	}
}

func writeDoctorJSON(out io.Writer, doc doctorDocument) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

func writeDoctorText(out io.Writer, doc doctorDocument) error {
	fmt.Fprintln(out, "smithkit doctor")

	meta := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(meta, "Generated at\t%s\n", doc.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(meta, "Config path\t%s\n", nonEmpty(doc.ConfigPath, defaultConfigPath))
	fmt.Fprintf(meta, "Overall status\t%s\n", strings.ToUpper(doc.OverallStatus))
	if err := meta.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nChecks")
	for _, check := range doc.Checks {
		fmt.Fprintf(out, "- [%s] %s: %s\n", strings.ToUpper(check.Status), check.Name, check.Summary)
		for _, detail := range check.Details {
			fmt.Fprintf(out, "  %s\n", detail)
		}
	}
	return nil
}
