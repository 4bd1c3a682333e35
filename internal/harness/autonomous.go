package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

var ErrSummaryNotFound = errors.New("summary file not found")

const summaryInstructions = `Finally, write a comprehensive summary to agent_summary.txt that includes:
- What you did
- Skills you consulted
- All code you generated (with code blocks)
- Any files you created
- Final status

Format the summary clearly for human review.`

// AutonomousPrompt appends the instructions that make the agent leave a
// summary file behind, which the runner uses to detect completion.
func AutonomousPrompt(task string) string {
	return task + "\n\n" + summaryInstructions
}

// ExtractSummaryPath finds the summary.txt path in runner output. It accepts
// "Review output: PATH" on one line, "Review output:" followed by the path
// on the next line, or a bare absolute path.
func ExtractSummaryPath(stdout string) (string, bool) {
	lines := strings.Split(stdout, "\n")
	for i, line := range lines {
		review := strings.Contains(line, "Review output:")
		switch {
		case review && strings.Contains(line, reviewFile):
			_, after, _ := strings.Cut(line, ":")
			return strings.TrimSpace(after), true
		case review && i+1 < len(lines) && strings.Contains(lines[i+1], reviewFile):
			return strings.TrimSpace(lines[i+1]), true
		case strings.Contains(line, reviewFile) && strings.HasPrefix(strings.TrimSpace(line), "/"):
			return strings.TrimSpace(line), true
		}
	}
	return "", false
}

type Invocation struct {
	Agent      string
	Prompt     string
	WorkingDir string
	Timeout    time.Duration
}

// Invoker runs one agent session and returns what it printed.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (stdout, stderr string, err error)
}

// CommandInvoker runs "harness agent" through a smithkit executable in a
// child process. A non-zero exit status is not an error; the caller judges
// the session by the summary it left behind.
type CommandInvoker struct {
	Path string
	// Args are inserted before the subcommand, e.g. a --config flag.
	Args []string
	Env  []string
}

func (c CommandInvoker) Invoke(ctx context.Context, inv Invocation) (string, string, error) {
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	args := append([]string{}, c.Args...)
	args = append(args, "harness", "agent", inv.Agent, inv.Prompt, "--working-dir", inv.WorkingDir)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Dir = inv.WorkingDir
	cmd.Env = append(os.Environ(), c.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("agent session timed out after %s: %w", inv.Timeout, ctxErr)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), fmt.Errorf("run %s: %w", c.Path, err)
	}
	return stdout.String(), stderr.String(), nil
}

// Result is the outcome of one autonomous test.
type Result struct {
	Test        string
	Passed      []string
	Failed      []string
	SummaryPath string
	// Err is set when the test could not reach validation.
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

func (r Result) OK() bool {
	return r.Err == nil && len(r.Failed) == 0
}

func (r Result) ExitCode() int {
	if r.OK() {
		return 0
	}
	return 1
}

var rule = strings.Repeat("-", 70)

// RunAutonomousTest runs tc's prompt in dir through inv, prints the
// agent's summary and validates the outcome.
func RunAutonomousTest(ctx context.Context, out io.Writer, tc TestCase, dir, agent string, inv Invoker) Result {
	started := time.Now()
	result := Result{Test: tc.Name, StartedAt: started}
	finish := func() Result {
		result.Duration = time.Since(started)
		return result
	}

	fmt.Fprintf(out, "%s\nAUTONOMOUS TEST: %s\n%s\n\n", banner, tc.Title, banner)
	fmt.Fprintf(out, "PROMPT:\n%s\n%s\n%s\n\n", rule, tc.Prompt, rule)
	fmt.Fprintf(out, "Test directory: %s\n\n", dir)
	fmt.Fprintln(out, "Running deepagents (this may take 60-300 seconds)...")
	fmt.Fprintln(out)

	stdout, stderr, err := inv.Invoke(ctx, Invocation{Agent: agent, Prompt: tc.Prompt, WorkingDir: dir, Timeout: tc.Timeout})
	if err != nil {
		fmt.Fprintf(out, "ERROR running test: %v\n", err)
		result.Err = err
		return finish()
	}
	if stderr != "" {
		fmt.Fprintf(out, "STDERR:\n%s\n\n", stderr)
	}

	summaryPath, ok := ExtractSummaryPath(stdout)
	if ok && !fileExists(summaryPath) {
		ok = false
	}
	if !ok {
		fmt.Fprintf(out, "ERROR: Could not find summary file\nSTDOUT:\n%s\n", stdout)
		result.Err = ErrSummaryNotFound
		return finish()
	}
	result.SummaryPath = summaryPath
	fmt.Fprintf(out, "✓ Output saved to: %s\n\n", summaryPath)

	raw, err := os.ReadFile(summaryPath)
	if err != nil {
		fmt.Fprintf(out, "ERROR: %v\n", err)
		result.Err = fmt.Errorf("read summary: %w", err)
		return finish()
	}
	summary := string(raw)
	fmt.Fprintf(out, "SESSION SUMMARY:\n%s\n%s\n%s\n\n", banner, summary, banner)
	fmt.Fprintf(out, "VALIDATION:\n%s\n", rule)

	result.Passed, result.Failed = tc.Validate(ctx, summary, dir)
	for _, v := range result.Passed {
		fmt.Fprintln(out, v)
	}
	for _, v := range result.Failed {
		fmt.Fprintln(out, v)
	}
	fmt.Fprintf(out, "%s\n\n", rule)

	if len(result.Failed) > 0 {
		fmt.Fprint(out, "RESULT: FAILED\n\nFailed checks:\n")
		for _, v := range result.Failed {
			fmt.Fprintf(out, "  %s\n", v)
		}
		return finish()
	}
	fmt.Fprintf(out, "RESULT: PASSED\n  All %d checks passed\n", len(result.Passed))
	if len(tc.CleanupNotes) > 0 {
		fmt.Fprint(out, "\n⚠️  CLEANUP REQUIRED:\n")
		for _, note := range tc.CleanupNotes {
			fmt.Fprintf(out, "   - %s\n", note)
		}
	}
	return finish()
}
