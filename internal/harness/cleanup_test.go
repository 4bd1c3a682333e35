package harness

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ongoingai/smithkit/internal/langsmith"
)

func TestCleanupLocalRemovesArtifactsOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"agent_summary.txt", "test_trace_id.txt", "test_dataset.json", "sql_agent.py", "keep.txt", "chinook.db"} {
		writeArtifact(t, dir, name, "x")
	}
	if err := os.MkdirAll(filepath.Join(dir, ".venv"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var out bytes.Buffer
	if n := CleanupLocal(&out, dir); n != 4 {
		t.Fatalf("CleanupLocal()=%d, want 4", n)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	if diff := cmp.Diff([]string{".venv", "chinook.db", "keep.txt"}, left); diff != "" {
		t.Fatalf("remaining files mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "  ✓ Deleted: sql_agent.py\n") {
		t.Fatalf("output=%q, want deletion lines", out.String())
	}

	out.Reset()
	CleanupLocal(&out, dir)
	if out.String() != "  (no test files found)\n" {
		t.Fatalf("output=%q, want no files line", out.String())
	}
}

func TestCleanupRemoteDeletesTestDatasets(t *testing.T) {
	t.Parallel()

	client := &fakeLangSmith{datasets: map[string]langsmith.Dataset{
		TestDatasetName: {ID: "ds-1", Name: TestDatasetName},
	}}
	var out bytes.Buffer
	if n := CleanupRemote(context.Background(), &out, client); n != 1 {
		t.Fatalf("CleanupRemote()=%d, want 1", n)
	}
	if diff := cmp.Diff([]string{"ds-1"}, client.deleted); diff != "" {
		t.Fatalf("deleted mismatch (-want +got):\n%s", diff)
	}
	if out.String() != "  ✓ Deleted dataset: Test Dataset - DELETE ME\n" {
		t.Fatalf("output=%q", out.String())
	}
}

func TestCleanupDefaultsToBoth(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeArtifact(t, dir, "test_x.txt", "x")
	var out bytes.Buffer
	Cleanup(context.Background(), &out, CleanupOptions{TestDir: dir, Client: &fakeLangSmith{}})

	got := out.String()
	for _, want := range []string{
		"Cleaning up LangSmith assets...\n  (no test datasets found)\n✓ LangSmith cleanup complete\n",
		"Cleaning up test files in: " + dir + "\n",
		"✓ Local cleanup complete\n",
		"✓ Cleanup complete\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestCleanupLocalOnlyWithMissingDir(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "gone")
	var out bytes.Buffer
	Cleanup(context.Background(), &out, CleanupOptions{Local: true, TestDir: missing})

	got := out.String()
	if strings.Contains(got, "LangSmith") {
		t.Fatalf("output=%q, want no remote cleanup", got)
	}
	if !strings.Contains(got, "⚠ Test directory not found: "+missing) {
		t.Fatalf("output=%q, want missing dir warning", got)
	}
}

func TestCleanupRemoteWithoutClient(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	Cleanup(context.Background(), &out, CleanupOptions{Remote: true})
	if !strings.Contains(out.String(), "  ⚠ LangSmith cleanup failed: ") {
		t.Fatalf("output=%q, want failure warning", out.String())
	}
}
