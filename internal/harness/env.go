// Package harness runs autonomous agent tests: it prepares an isolated copy
// of a virtualenv, drives the deepagents CLI under a pseudo-terminal,
// validates what the agent produced and cleans up afterwards.
package harness

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	tempDirPrefix = "deepagents_test_"
	agentBinary   = "deepagents"
)

// MissingPathError reports a required part of the base environment that
// does not exist.
type MissingPathError struct {
	What string
	Path string
}

func (e *MissingPathError) Error() string {
	return fmt.Sprintf("%s not found at %s", e.What, e.Path)
}

func (e *MissingPathError) Unwrap() error {
	return fs.ErrNotExist
}

// AgentPath returns the deepagents executable inside dir's virtualenv.
func AgentPath(dir string) string {
	return filepath.Join(dir, ".venv", "bin", agentBinary)
}

// CheckEnvironment verifies that base holds a virtualenv with deepagents
// installed.
func CheckEnvironment(base string) error {
	if _, err := os.Stat(base); err != nil {
		return &MissingPathError{What: "Base environment", Path: base}
	}
	venv := filepath.Join(base, ".venv")
	if _, err := os.Stat(venv); err != nil {
		return &MissingPathError{What: "Virtual environment", Path: venv}
	}
	agent := AgentPath(base)
	if _, err := os.Stat(agent); err != nil {
		return &MissingPathError{What: agentBinary, Path: agent}
	}
	return nil
}

// SetupEnvironment validates base and, when useTemp is set, copies its
// virtualenv into a fresh temporary directory which it returns. Without
// useTemp the base directory itself is used.
func SetupEnvironment(out io.Writer, base string, useTemp bool) (string, error) {
	if err := CheckEnvironment(base); err != nil {
		return "", err
	}
	if !useTemp {
		return base, nil
	}

	dir, err := os.MkdirTemp("", tempDirPrefix)
	if err != nil {
		return "", fmt.Errorf("create test directory: %w", err)
	}
	venv := filepath.Join(base, ".venv")
	fmt.Fprintf(out, "Setting up test environment in %s...\n", dir)
	fmt.Fprintf(out, "Copying virtualenv from %s...\n", venv)
	if err := copyTree(venv, filepath.Join(dir, ".venv")); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("copy virtualenv: %w", err)
	}
	fmt.Fprintln(out, "✓ Test environment ready")
	return dir, nil
}

// IsTempDir reports whether dir looks like a directory SetupEnvironment
// created and is therefore safe to delete.
func IsTempDir(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	if strings.Contains(filepath.Base(abs), tempDirPrefix) {
		return true
	}
	tmp, err := filepath.Abs(os.TempDir())
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(tmp, abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// CleanupEnvironment removes dir if it is a temporary test directory.
func CleanupEnvironment(out io.Writer, dir string) error {
	if !IsTempDir(dir) {
		fmt.Fprintf(out, "Not cleaning up %s (not a temp directory)\n", dir)
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	fmt.Fprintf(out, "Cleaning up %s...\n", dir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	fmt.Fprintln(out, "✓ Cleaned up")
	return nil
}

// CopyTestData copies a fixture file into dir. A missing source is skipped.
func CopyTestData(out io.Writer, src, dir string) error {
	info, err := os.Stat(src)
	if err != nil {
		return nil
	}
	name := filepath.Base(src)
	if err := copyFile(src, filepath.Join(dir, name), info.Mode()); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Copied %s to test directory\n", name)
	return nil
}

// copyTree copies src to dst, recreating symlinks rather than following
// them so the copied virtualenv keeps pointing at the same interpreter.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode())
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
