package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ongoingai/smithkit/internal/langsmith"
)

// artifactPatterns are the files agents produce in the test directory.
var artifactPatterns = []string{
	"agent_summary.txt",
	"test_*.txt",
	"test_*.json",
	"test_*.py",
	"upload_dataset.py",
	"sql_agent.py",
	"create_upload_langsmith.py",
	"upload_evaluator_script.py",
}

// RemoteTestDatasets are the datasets the tests upload.
var RemoteTestDatasets = []string{TestDatasetName, EvaluatorTestDatasetName}

type DatasetDeleter interface {
	ReadDatasetByName(ctx context.Context, name string) (langsmith.Dataset, error)
	DeleteDataset(ctx context.Context, datasetID string) error
}

// CleanupLocal deletes test artifacts from dir, leaving the directory and
// its virtualenv in place. It returns the number of files removed.
func CleanupLocal(out io.Writer, dir string) int {
	deleted := 0
	for _, pattern := range artifactPatterns {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		for _, path := range matches {
			if err := os.Remove(path); err != nil {
				fmt.Fprintf(out, "  ⚠ Could not delete %s: %v\n", filepath.Base(path), err)
				continue
			}
			deleted++
			fmt.Fprintf(out, "  ✓ Deleted: %s\n", filepath.Base(path))
		}
	}
	if deleted == 0 {
		fmt.Fprintln(out, "  (no test files found)")
	}
	return deleted
}

// CleanupRemote deletes the datasets the tests upload. Failures are
// reported and skipped.
func CleanupRemote(ctx context.Context, out io.Writer, client DatasetDeleter) int {
	deleted := 0
	for _, name := range RemoteTestDatasets {
		ds, err := client.ReadDatasetByName(ctx, name)
		if errors.Is(err, langsmith.ErrNotFound) {
			continue
		}
		if err == nil {
			err = client.DeleteDataset(ctx, ds.ID)
		}
		if err != nil {
			fmt.Fprintf(out, "  ⚠ Could not delete dataset '%s': %v\n", name, err)
			continue
		}
		deleted++
		fmt.Fprintf(out, "  ✓ Deleted dataset: %s\n", ds.Name)
	}
	if deleted == 0 {
		fmt.Fprintln(out, "  (no test datasets found)")
	}
	return deleted
}

type CleanupOptions struct {
	Local  bool
	Remote bool
	// TestDir is scanned for local artifacts.
	TestDir string
	// Client is nil when no API key is configured.
	Client DatasetDeleter
}

// Cleanup runs the requested cleanups. Asking for neither cleans both.
func Cleanup(ctx context.Context, out io.Writer, opts CleanupOptions) {
	remote := opts.Remote || !opts.Local
	local := opts.Local || !opts.Remote

	if remote {
		fmt.Fprintln(out, "Cleaning up LangSmith assets...")
		if opts.Client == nil {
			fmt.Fprintf(out, "  ⚠ LangSmith cleanup failed: %v\n", langsmith.ErrMissingAPIKey)
		} else {
			CleanupRemote(ctx, out, opts.Client)
		}
		fmt.Fprint(out, "✓ LangSmith cleanup complete\n\n")
	}

	if local {
		if _, err := os.Stat(opts.TestDir); err == nil {
			fmt.Fprintf(out, "Cleaning up test files in: %s\n", opts.TestDir)
			CleanupLocal(out, opts.TestDir)
			fmt.Fprint(out, "✓ Local cleanup complete\n\n")
		} else {
			fmt.Fprintf(out, "⚠ Test directory not found: %s\n\n", opts.TestDir)
		}
	}

	fmt.Fprintln(out, "✓ Cleanup complete")
}
