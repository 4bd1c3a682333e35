package harness

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/creack/pty"
)

const (
	SummaryFile   = "agent_summary.txt"
	rawOutputFile = "raw_output.txt"
	reviewFile    = "summary.txt"
	noSummaryText = "No summary generated by agent"

	DefaultIdleThreshold = 5 * time.Second
	DefaultReadTimeout   = time.Second
)

var banner = strings.Repeat("=", 70)

type RunnerOptions struct {
	Agent      string
	Prompt     string
	WorkingDir string
	// OutputDir receives raw_output.txt and summary.txt.
	OutputDir string
	// IdleThreshold is how long output must be quiet, once the agent has
	// written its summary, before the session is considered finished.
	IdleThreshold time.Duration
	ReadTimeout   time.Duration
	// Env is appended to the current environment.
	Env []string
	Out io.Writer
}

// DefaultOutputDir names a per-session log directory under logsDir.
func DefaultOutputDir(logsDir, agent string, now time.Time) string {
	return filepath.Join(logsDir, agent+"_"+now.Format("20060102_150405"))
}

// RunAgent runs the deepagents CLI from WorkingDir's virtualenv under a
// pseudo-terminal, echoing its output to Out. It returns the path of the
// summary.txt written to OutputDir.
func RunAgent(ctx context.Context, opts RunnerOptions) (string, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	idle := opts.IdleThreshold
	if idle <= 0 {
		idle = DefaultIdleThreshold
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	workingDir, err := filepath.Abs(opts.WorkingDir)
	if err != nil {
		return "", fmt.Errorf("resolve working dir: %w", err)
	}

	fmt.Fprintf(out, "\n%s\nTesting DeepAgents: %s\n%s\n\n", banner, opts.Agent, banner)
	fmt.Fprintf(out, "Prompt: %s\n\nRunning agent (this may take 30-300 seconds)...\n", opts.Prompt)

	agentPath := AgentPath(workingDir)
	if _, err := os.Stat(agentPath); err != nil {
		return "", &MissingPathError{What: agentBinary, Path: agentPath}
	}

	cmd := exec.Command(agentPath, "--agent", opts.Agent, "--auto-approve", "-m", opts.Prompt)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), opts.Env...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to start pty: %w", err)
	}
	defer func() {
		_ = ptmx.Close()
	}()

	lines := make(chan string)
	go readLines(ptmx, lines)

	summaryPath := filepath.Join(workingDir, SummaryFile)
	var collected strings.Builder
	lastOutput := time.Now()
	var runErr error

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			fmt.Fprint(out, line)
			collected.WriteString(line)
			lastOutput = time.Now()
		case <-time.After(readTimeout):
			if fileExists(summaryPath) && time.Since(lastOutput) >= idle {
				fmt.Fprintf(out, "\n✓ Agent completed (no output for %gs, summary exists)\n", idle.Seconds())
				break loop
			}
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		}
	}

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = ptmx.Close()
	for range lines {
	}
	_ = cmd.Wait()

	reviewPath, err := writeSessionOutput(out, opts.OutputDir, collected.String(), summaryPath)
	if err != nil {
		return "", err
	}
	if runErr != nil {
		return reviewPath, fmt.Errorf("agent session: %w", runErr)
	}
	return reviewPath, nil
}

// readLines forwards complete lines, line endings included, until the
// terminal reports EOF or an error. A trailing partial line is forwarded
// before the channel closes.
func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			lines <- line
		}
		if err != nil {
			return
		}
	}
}

func writeSessionOutput(out io.Writer, outputDir, raw, summaryPath string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, rawOutputFile), []byte(raw), 0o644); err != nil {
		return "", fmt.Errorf("write raw output: %w", err)
	}

	reviewPath := filepath.Join(outputDir, reviewFile)
	summary, err := os.ReadFile(summaryPath)
	if err == nil {
		if err := os.WriteFile(reviewPath, summary, 0o644); err != nil {
			return "", fmt.Errorf("write summary: %w", err)
		}
		fmt.Fprintln(out, "\n✓ Agent wrote summary")
	} else {
		if err := os.WriteFile(reviewPath, []byte(noSummaryText), 0o644); err != nil {
			return "", fmt.Errorf("write summary: %w", err)
		}
		fmt.Fprintln(out, "\n⚠ Agent did not write summary file")
	}

	fmt.Fprintf(out, "\n%s\nSession complete\n%s\n\n", banner, banner)
	abs, err := filepath.Abs(reviewPath)
	if err != nil {
		abs = reviewPath
	}
	fmt.Fprintf(out, "Review output:\n  %s\n", abs)
	return abs, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
