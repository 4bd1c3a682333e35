package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// Recorder keeps a history of test outcomes.
type Recorder interface {
	RecordTest(ctx context.Context, result Result) error
}

// Runner prepares a test directory and runs one test case in it.
type Runner struct {
	Out         io.Writer
	Invoker     Invoker
	Agent       string
	FixturesDir string
	// Recorder is optional.
	Recorder Recorder
	Logger   *slog.Logger
}

// Run executes tc against workDir. With useTemp (or tc.AlwaysTemp) the
// test gets a temporary copy of the environment that is removed afterwards.
func (r *Runner) Run(ctx context.Context, tc TestCase, workDir string, useTemp bool) Result {
	temp := useTemp || tc.AlwaysTemp
	dir, err := SetupEnvironment(r.Out, workDir, temp)
	if err != nil {
		fmt.Fprintf(r.Out, "ERROR: %v\n", err)
		result := Result{Test: tc.Name, Err: err, StartedAt: time.Now()}
		r.record(ctx, result)
		return result
	}

	for _, fixture := range tc.Fixtures {
		if err := CopyTestData(r.Out, filepath.Join(r.FixturesDir, fixture), dir); err != nil {
			fmt.Fprintf(r.Out, "⚠ %v\n", err)
		}
	}
	if len(tc.Fixtures) > 0 {
		fmt.Fprintln(r.Out)
	}

	result := RunAutonomousTest(ctx, r.Out, tc, dir, r.Agent, r.Invoker)
	if temp {
		if err := CleanupEnvironment(r.Out, dir); err != nil {
			fmt.Fprintf(r.Out, "⚠ %v\n", err)
		}
	}
	r.record(ctx, result)
	return result
}

func (r *Runner) record(ctx context.Context, result Result) {
	if r.Recorder == nil {
		return
	}
	if err := r.Recorder.RecordTest(ctx, result); err != nil && r.Logger != nil {
		r.Logger.Warn("failed to archive test result", "test", result.Test, "error", err)
	}
}

// Suite runs test cases in order and stops at the first failure, since
// later tests depend on what earlier ones produced.
type Suite struct {
	Runner  *Runner
	Cases   []TestCase
	Out     io.Writer
	WorkDir string
	// CleanupLocal runs after each test; CleanupRemote once at the end.
	CleanupLocal  func(dir string)
	CleanupRemote func(ctx context.Context)
	Now           func() time.Time
}

type suiteOutcome struct {
	name string
	ok   bool
}

func (s *Suite) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run returns 0 when every test passed and 1 otherwise.
func (s *Suite) Run(ctx context.Context) int {
	wide := strings.Repeat("=", 80)
	start := s.now()

	fmt.Fprintf(s.Out, "%s\nLANGCHAIN AGENT SKILLS - TEST SUITE\n%s\n\n", wide, wide)
	fmt.Fprintf(s.Out, "Started: %s\n\n", start.Format("2006-01-02 15:04:05"))
	fmt.Fprint(s.Out, "Each test runs in an isolated temporary directory.\n\n")

	var outcomes []suiteOutcome
	failedTest := ""
	for i, tc := range s.Cases {
		fmt.Fprintf(s.Out, "%s\nTEST %d/%d: %s\nDescription: %s\n%s\n\n", wide, i+1, len(s.Cases), tc.Name, tc.Description, wide)

		result := s.Runner.Run(ctx, tc, s.WorkDir, false)
		fmt.Fprintln(s.Out, "Cleaning up local test files...")
		if s.CleanupLocal != nil {
			s.CleanupLocal(s.WorkDir)
		}
		outcomes = append(outcomes, suiteOutcome{name: tc.Name, ok: result.OK()})

		if !result.OK() {
			failedTest = tc.Name
			fmt.Fprintf(s.Out, "\n✗ TEST FAILED: %s\n\n", tc.Name)
			fmt.Fprintln(s.Out, "Aborting test suite due to failure.")
			fmt.Fprintln(s.Out, "Later tests depend on earlier tests passing.")
			break
		}
		fmt.Fprintf(s.Out, "\n✓ TEST PASSED: %s\n\n", tc.Name)
	}

	duration := s.now().Sub(start)
	fmt.Fprintf(s.Out, "\n%s\nTEST SUITE SUMMARY\n%s\n\n", wide, wide)
	fmt.Fprintf(s.Out, "Duration: %.1fs\n", duration.Seconds())
	fmt.Fprintf(s.Out, "Tests run: %d/%d\n\n", len(outcomes), len(s.Cases))
	fmt.Fprintln(s.Out, "Results:")
	for _, o := range outcomes {
		status := "✓ PASS"
		if !o.ok {
			status = "✗ FAIL"
		}
		fmt.Fprintf(s.Out, "  %s - %s\n", status, o.name)
	}

	code := 0
	if failedTest != "" {
		fmt.Fprintf(s.Out, "\n%s\nSUITE FAILED at: %s\n%s\n", wide, failedTest, wide)
		code = 1
	} else {
		fmt.Fprintf(s.Out, "\n%s\nALL TESTS PASSED\n%s\n", wide, wide)
	}

	fmt.Fprintln(s.Out)
	fmt.Fprintln(s.Out, "Cleaning up LangSmith test assets...")
	if s.CleanupRemote != nil {
		s.CleanupRemote(ctx)
	}
	return code
}
