package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ongoingai/smithkit/internal/archive"
	"github.com/ongoingai/smithkit/internal/config"
	"github.com/ongoingai/smithkit/internal/correlation"
	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/internal/observability"
	"github.com/ongoingai/smithkit/internal/version"
)

const defaultConfigPath = "smithkit.yaml"

const archiveWriterShutdownTimeout = 5 * time.Second
const otelShutdownTimeout = 5 * time.Second

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	return newCLI(os.Stdin, out, errOut).execute(args)
}

// cli carries the streams and global flags shared by every command.
type cli struct {
	in         io.Reader
	out        io.Writer
	errOut     io.Writer
	configPath string
	// executable is re-run by the harness to drive agent sessions.
	executable func() (string, error)
	now        func() time.Time
}

func newCLI(in io.Reader, out, errOut io.Writer) *cli {
	return &cli{
		in:         in,
		out:        out,
		errOut:     errOut,
		configPath: defaultConfigPath,
		executable: os.Executable,
		now:        time.Now,
	}
}

// exitError ends a command with a specific exit code. A nil err means the
// command already reported the problem.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func usageErrorf(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}

func (c *cli) execute(args []string) int {
	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = correlation.WithContext(ctx, correlation.NewID())

	root := c.rootCommand()
	root.SetArgs(args)
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(c.errOut, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}
	if isUsageError(err) {
		fmt.Fprintf(c.errOut, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(c.errOut, "Error: %v\n", err)
	return 1
}

// isUsageError matches the argument errors cobra raises itself.
func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "required flag"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "smithkit",
		Short:         "LangSmith traces, datasets, evaluators and agent test harness",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          noArgs,
		RunE:          runGroup,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", defaultConfigPath, "Path to config file")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: 2, err: err}
	})

	root.AddCommand(
		c.versionCommand(),
		c.configCommand(),
		c.doctorCommand(),
		c.tracesCommand(),
		c.runsCommand(),
		c.datasetsCommand(),
		c.evaluatorsCommand(),
		c.harnessCommand(),
		c.historyCommand(),
	)
	return root
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		if cmd.HasSubCommands() {
			return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
		}
		return usageErrorf("%s does not accept positional arguments", cmd.CommandPath())
	}
	return nil
}

// runGroup prints help for a command group and rejects unknown
// subcommands, which cobra would otherwise answer with help and exit 0.
func runGroup(cmd *cobra.Command, args []string) error {
	if err := noArgs(cmd, args); err != nil {
		return err
	}
	return cmd.Help()
}

func exactArgs(n int, names ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("usage: %s %s", cmd.CommandPath(), strings.Join(names, " "))
		}
		return nil
	}
}

// session holds what a command needs at runtime. close must run before the
// command returns so queued archive records are flushed.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	otel   *observability.Runtime
	store  archive.Store
	writer *archive.Writer
}

type sessionOptions struct {
	// archive opens the local archive when storage is enabled.
	archive bool
}

func (c *cli) openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, stage, err := loadAndValidateConfig(c.configPath)
	if err != nil {
		return nil, &exitError{code: 1, err: fmt.Errorf("config %s failed: %w", stage, err)}
	}

	logger := observability.NewLogger(c.errOut, cfg.Log)
	if id, ok := correlation.FromContext(ctx); ok {
		logger = logger.With("invocation_id", id)
	}
	s := &session{cfg: cfg, logger: logger}
	runtime, err := observability.Setup(ctx, cfg.Observability.OTel, version.Version, s.logger)
	if err != nil {
		s.logger.Warn("opentelemetry disabled", "error", err)
		runtime = &observability.Runtime{}
	}
	s.otel = runtime

	if opts.archive && cfg.Storage.Enabled {
		store, err := archive.Open(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
		if err != nil {
			s.close()
			return nil, &exitError{code: 1, err: fmt.Errorf("open archive: %w", err)}
		}
		s.store = store
		s.writer = archive.NewWriter(store, 0)
		attachArchiveWriterFailureLogging(s.logger, s.writer, func(failure archive.WriteFailure) {
			s.otel.RecordArchiveWriteFailure(failure.Operation, failure.ErrorClass, failure.FailedCount)
		})
		s.writer.Start(context.Background())
	}
	return s, nil
}

func (s *session) close() {
	if s == nil {
		return
	}
	if s.writer != nil {
		shutdownArchiveWriter(s.logger, s.writer, archiveWriterShutdownTimeout)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close archive", "error", err)
		}
	}
	shutdownOpenTelemetry(s.logger, s.otel, otelShutdownTimeout)
}

// client builds the LangSmith API client. Without an API key it fails with
// langsmith.ErrMissingAPIKey.
func (s *session) client() (*langsmith.Client, error) {
	return langsmith.NewClient(langsmith.Options{
		BaseURL:     s.cfg.LangSmith.APIURL,
		APIKey:      s.cfg.LangSmith.APIKey,
		WorkspaceID: s.cfg.LangSmith.WorkspaceID,
		Timeout:     s.cfg.LangSmith.Timeout(),
		Transport:   s.otel.WrapHTTPTransport(http.DefaultTransport),
	})
}

func (s *session) runArchiver() *archive.RunArchiver {
	if s.writer == nil {
		return nil
	}
	return &archive.RunArchiver{Writer: s.writer, Logger: s.logger}
}

func (s *session) testRecorder() *archive.TestRecorder {
	if s.store == nil {
		return nil
	}
	return &archive.TestRecorder{Store: s.store}
}

// harnessEnv renders harness.env as KEY=VALUE pairs in key order.
func (s *session) harnessEnv() []string {
	keys := make([]string, 0, len(s.cfg.Harness.Env))
	for key := range s.cfg.Harness.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+s.cfg.Harness.Env[key])
	}
	return env
}

func shutdownArchiveWriter(logger *slog.Logger, writer *archive.Writer, timeout time.Duration) {
	if writer == nil {
		return
	}

	start := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := writer.Shutdown(shutdownCtx); err != nil {
		if logger != nil {
			logger.Error(
				"failed to flush pending archive records before exit",
				"error", err,
				"timeout", timeout.String(),
			)
		}
		return
	}

	if logger != nil {
		stats := writer.Stats()
		logger.Debug(
			"flushed pending archive records",
			"duration_ms", time.Since(start).Milliseconds(),
			"accepted", stats.Accepted,
			"dropped", stats.QueueDropped+stats.WriteDropped,
		)
	}
}

func attachArchiveWriterFailureLogging(logger *slog.Logger, writer *archive.Writer, onFailure func(archive.WriteFailure)) {
	if logger == nil || writer == nil {
		return
	}

	writer.SetWriteFailureHandler(func(failure archive.WriteFailure) {
		if failure.FailedCount <= 0 {
			return
		}
		if onFailure != nil {
			onFailure(failure)
		}
		logger.Error(
			"archive persistence failed; dropped run records",
			"operation", strings.TrimSpace(failure.Operation),
			"batch_size", failure.BatchSize,
			"failed_count", failure.FailedCount,
			"error_class", failure.ErrorClass,
			"error_kind", fmt.Sprintf("%T", failure.Err),
		)
	})
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		if logger != nil {
			logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
		}
	}
}
