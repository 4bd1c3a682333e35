package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ongoingai/smithkit/internal/harness"
	"github.com/ongoingai/smithkit/internal/langsmith"
)

func (c *cli) harnessCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harness",
		Short: "Run autonomous agent tests against a deepagents environment",
		Args:  noArgs,
		RunE:  runGroup,
	}
	cmd.AddCommand(
		c.harnessAgentCommand(),
		c.harnessTestCommand(),
		c.harnessSuiteCommand(),
		c.harnessCleanupCommand(),
	)
	return cmd
}

func (c *cli) harnessAgentCommand() *cobra.Command {
	var outputDir, workingDir string
	cmd := &cobra.Command{
		Use:   "agent AGENT PROMPT",
		Short: "Run one deepagents session under a pseudo-terminal",
		Args:  exactArgs(2, "AGENT", "PROMPT"),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openSession(cmd.Context(), sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()

			if outputDir == "" {
				outputDir = harness.DefaultOutputDir(s.cfg.Harness.LogsDir, args[0], c.now())
			}
			_, err = harness.RunAgent(cmd.Context(), harness.RunnerOptions{
				Agent:         args[0],
				Prompt:        args[1],
				WorkingDir:    workingDir,
				OutputDir:     outputDir,
				IdleThreshold: s.cfg.Harness.IdleThreshold(),
				ReadTimeout:   s.cfg.Harness.ReadTimeout(),
				Env:           s.harnessEnv(),
				Out:           c.out,
			})
			return err
		},
	}
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Output directory (default logs/<agent>_<timestamp>)")
	cmd.Flags().StringVar(&workingDir, "working-dir", ".", "Working directory")
	return cmd
}

// harnessRun is everything a test or suite needs, built from one session.
type harnessRun struct {
	session *session
	client  *langsmith.Client
	cases   []harness.TestCase
	runner  *harness.Runner
	workDir string
}

func (c *cli) prepareHarness(ctx context.Context, workDir string) (*harnessRun, error) {
	s, err := c.openSession(ctx, sessionOptions{archive: true})
	if err != nil {
		return nil, err
	}

	h := &harnessRun{session: s}
	opts := harness.CatalogOptions{Project: s.cfg.LangSmith.Project}
	if client, err := s.client(); err == nil {
		h.client = client
		opts.Runs = client
		opts.Datasets = client
	} else {
		s.logger.Warn("remote checks disabled", "error", err)
	}
	h.cases = harness.Catalog(opts)
	if limit := s.cfg.Harness.TestTimeout(); limit > 0 {
		for i := range h.cases {
			h.cases[i].Timeout = min(h.cases[i].Timeout, limit)
		}
	}

	if workDir == "" {
		workDir, err = s.cfg.Harness.ResolveBaseEnvPath()
		if err != nil {
			s.close()
			return nil, err
		}
	}
	h.workDir = workDir

	exe, err := c.executable()
	if err != nil {
		s.close()
		return nil, fmt.Errorf("locate smithkit executable: %w", err)
	}
	h.runner = &harness.Runner{
		Out: c.out,
		Invoker: harness.CommandInvoker{
			Path: exe,
			Args: []string{"--config", c.configPath},
			Env:  s.harnessEnv(),
		},
		Agent:       s.cfg.Harness.AgentName,
		FixturesDir: s.cfg.Harness.FixturesDir,
		Logger:      s.logger,
	}
	if recorder := s.testRecorder(); recorder != nil {
		h.runner.Recorder = recorder
	}
	return h, nil
}

func (c *cli) harnessTestCommand() *cobra.Command {
	var workDir string
	var useTemp bool
	cmd := &cobra.Command{
		Use:   "test NAME",
		Short: "Run one autonomous test (" + strings.Join(harness.SuiteOrder, ", ") + ")",
		Args:  exactArgs(1, "NAME"),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := c.prepareHarness(cmd.Context(), workDir)
			if err != nil {
				return err
			}
			defer h.session.close()

			tc, ok := harness.Lookup(h.cases, args[0])
			if !ok {
				return usageErrorf("unknown test %q: expected one of %s", args[0], strings.Join(harness.Keys(h.cases), ", "))
			}
			result := h.runner.Run(cmd.Context(), tc, h.workDir, useTemp)
			return exitCode(result.ExitCode())
		},
	}
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Working directory with deepagents installed (default harness.base_env_path)")
	cmd.Flags().BoolVar(&useTemp, "use-temp", false, "Create temporary directory for isolated test")
	return cmd
}

func (c *cli) harnessSuiteCommand() *cobra.Command {
	var workDir string
	cmd := &cobra.Command{
		Use:   "suite",
		Short: "Run every autonomous test in dependency order",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := c.prepareHarness(cmd.Context(), workDir)
			if err != nil {
				return err
			}
			defer h.session.close()

			cases := make([]harness.TestCase, 0, len(harness.SuiteOrder))
			for _, key := range harness.SuiteOrder {
				tc, ok := harness.Lookup(h.cases, key)
				if !ok {
					return fmt.Errorf("suite test %q missing from catalog", key)
				}
				cases = append(cases, tc)
			}

			suite := &harness.Suite{
				Runner:  h.runner,
				Cases:   cases,
				Out:     c.out,
				WorkDir: h.workDir,
				CleanupLocal: func(dir string) {
					harness.CleanupLocal(c.out, dir)
				},
				Now: c.now,
			}
			if h.client != nil {
				client := h.client
				suite.CleanupRemote = func(ctx context.Context) {
					harness.CleanupRemote(ctx, c.out, client)
				}
			}
			return exitCode(suite.Run(cmd.Context()))
		},
	}
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Working directory with deepagents installed (default harness.base_env_path)")
	return cmd
}

func (c *cli) harnessCleanupCommand() *cobra.Command {
	var opts harness.CleanupOptions
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete test datasets and local test artifacts",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.openSession(cmd.Context(), sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()

			if opts.TestDir == "" {
				if opts.TestDir, err = s.cfg.Harness.ResolveBaseEnvPath(); err != nil {
					return err
				}
			}
			if client, err := s.client(); err == nil {
				opts.Client = client
			}
			harness.Cleanup(cmd.Context(), c.out, opts)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Remote, "langsmith", false, "Clean only LangSmith assets")
	cmd.Flags().BoolVar(&opts.Local, "local", false, "Clean only local test files")
	cmd.Flags().StringVar(&opts.TestDir, "test-dir", "", "Test directory to clean (default harness.base_env_path)")
	return cmd
}
