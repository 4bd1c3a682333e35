package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ongoingai/smithkit/internal/config"
)

func decodeDoctor(t *testing.T, stdout string) doctorDocument {
	t.Helper()
	var doc doctorDocument
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("decode doctor json %q: %v", stdout, err)
	}
	return doc
}

func doctorStatuses(doc doctorDocument) map[string]string {
	statuses := make(map[string]string, len(doc.Checks))
	for _, check := range doc.Checks {
		statuses[check.Name] = check.Status
	}
	return statuses
}

func TestDoctorFailsWithoutAPIKey(t *testing.T) {
	setLangSmithEnv(t, "https://api.smith.langchain.com", "")

	configPath := writeTestConfig(t, "")
	code, stdout, stderr := execute(t, "--config", configPath, "doctor", "--format", "json")
	if code != 1 {
		t.Fatalf("code=%d, want 1 (stderr=%q)", code, stderr)
	}
	doc := decodeDoctor(t, stdout)
	if doc.OverallStatus != doctorStatusFail {
		t.Fatalf("overall_status=%q, want fail", doc.OverallStatus)
	}
	statuses := doctorStatuses(doc)
	if statuses["langsmith_api_key"] != doctorStatusFail {
		t.Fatalf("langsmith_api_key=%q, want fail", statuses["langsmith_api_key"])
	}
	if statuses["langsmith_api"] != doctorStatusSkip {
		t.Fatalf("langsmith_api=%q, want skip", statuses["langsmith_api"])
	}
}

func TestDoctorPassesAgainstReachableAPI(t *testing.T) {
	server := httptest.NewServer((&fakeLangSmith{}).handler(t))
	defer server.Close()
	setLangSmithEnv(t, server.URL, "lsv2_pt_0123456789abcdef")
	t.Setenv("LANGSMITH_PROJECT", "demo")

	configPath := archiveConfig(t)
	code, stdout, stderr := execute(t, "--config", configPath, "doctor", "--format", "json")
	if code != 0 {
		t.Fatalf("code=%d, want 0 (stderr=%q stdout=%q)", code, stderr, stdout)
	}
	doc := decodeDoctor(t, stdout)
	statuses := doctorStatuses(doc)
	want := map[string]string{
		"config":            doctorStatusPass,
		"langsmith_api_key": doctorStatusPass,
		"langsmith_api":     doctorStatusPass,
		"archive":           doctorStatusPass,
	}
	delete(statuses, "harness_env")
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Fatalf("check statuses mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(stdout, "0123456789abcdef") {
		t.Fatalf("stdout leaks api key: %q", stdout)
	}
}

func TestDoctorReportsInvalidConfig(t *testing.T) {
	t.Parallel()

	configPath := writeTestConfig(t, "storage:\n  driver: postgres\n")
	code, stdout, _ := execute(t, "--config", configPath, "doctor")
	if code != 1 {
		t.Fatalf("code=%d, want 1", code)
	}
	if !strings.Contains(stdout, "[FAIL] config: config is invalid") {
		t.Fatalf("stdout=%q, want config failure", stdout)
	}
	if !strings.Contains(stdout, "[SKIP] archive: skipped: config validation failed") {
		t.Fatalf("stdout=%q, want skipped archive check", stdout)
	}
}

func TestDoctorRejectsInvalidFormat(t *testing.T) {
	t.Parallel()

	code, _, stderr := execute(t, "doctor", "--format", "yaml")
	if code != 2 {
		t.Fatalf("code=%d, want 2", code)
	}
	if !strings.Contains(stderr, `invalid doctor format "yaml"`) {
		t.Fatalf("stderr=%q, want format error", stderr)
	}
}

func TestDoctorHarnessCheckWarnsForMissingEnvironment(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Harness.BaseEnvPath = filepath.Join(t.TempDir(), "missing")
	check := runDoctorHarnessCheck(cfg)
	if check.Status != doctorStatusWarn {
		t.Fatalf("status=%q, want warn", check.Status)
	}
}

func TestDoctorArchiveCheckReportsSchema(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Storage.Enabled = true
	cfg.Storage.Path = filepath.Join(t.TempDir(), "archive.db")
	check := runDoctorArchiveCheck(context.Background(), cfg)
	if check.Status != doctorStatusPass {
		t.Fatalf("status=%q details=%v, want pass", check.Status, check.Details)
	}
	if !strings.Contains(strings.Join(check.Details, "\n"), "migrations applied") {
		t.Fatalf("details=%v, want schema detail", check.Details)
	}
}

func TestMaskAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want string
	}{
		{key: "", want: "****"},
		{key: "short", want: "****"},
		{key: "lsv2_pt_secretvalue", want: "lsv2_pt_****"},
	}
	for _, tt := range tests {
		if got := maskAPIKey(tt.key); got != tt.want {
			t.Fatalf("maskAPIKey(%q)=%q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestDoctorOverallStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{name: "all pass", statuses: []string{doctorStatusPass, doctorStatusSkip}, want: doctorStatusPass},
		{name: "warn", statuses: []string{doctorStatusPass, doctorStatusWarn}, want: doctorStatusWarn},
		{name: "fail wins", statuses: []string{doctorStatusWarn, doctorStatusFail}, want: doctorStatusFail},
	}
	for _, tt := range tests {
		checks := make([]doctorCheck, 0, len(tt.statuses))
		for _, status := range tt.statuses {
			checks = append(checks, doctorCheck{Status: status})
		}
		if got := doctorOverallStatus(checks); got != tt.want {
			t.Fatalf("%s: doctorOverallStatus()=%q, want %q", tt.name, got, tt.want)
		}
	}
}
