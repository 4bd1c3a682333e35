package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ongoingai/smithkit/internal/dataset"
	"github.com/ongoingai/smithkit/internal/evaluator"
	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/internal/output"
)

// withClient opens a session without the archive and hands fn a LangSmith
// client.
func (c *cli) withClient(ctx context.Context, fn func(*session, *langsmith.Client) error) error {
	s, err := c.openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.close()

	client, err := s.client()
	if err != nil {
		return clientError(err)
	}
	return fn(s, client)
}

func (c *cli) confirm(prompt string) bool {
	return output.Confirm(c.in, c.out, prompt)
}

func (c *cli) datasetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Generate, inspect and export evaluation datasets",
		Args:  noArgs,
		RunE:  runGroup,
	}
	cmd.AddCommand(
		c.datasetsGenerateCommand(),
		c.datasetsListCommand(),
		c.datasetsShowCommand(),
		c.datasetsViewFileCommand(),
		c.datasetsStructureCommand(),
		c.datasetsExportCommand(),
	)
	return cmd
}

func (c *cli) datasetsGenerateCommand() *cobra.Command {
	var req dataset.GenerateRequest
	var rawType string
	var depth int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an evaluation dataset from traces",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ, err := dataset.ParseType(rawType)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			req.Type = typ
			if cmd.Flags().Changed("depth") {
				d := depth
				req.MaxDepth = &d
			}
			if req.Limit <= 0 {
				return usageErrorf("--limit must be positive")
			}
			return c.withClient(cmd.Context(), func(_ *session, client *langsmith.Client) error {
				g := &dataset.Generator{
					Runs:     client,
					Datasets: client,
					Out:      c.out,
					ErrOut:   c.errOut,
					Confirm:  c.confirm,
					Now:      c.now,
				}
				return g.Run(cmd.Context(), req)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&rawType, "type", "", "Dataset type: final_response, single_step, trajectory or rag")
	flags.StringVar(&req.Project, "project", "", "Project name")
	flags.IntVar(&req.Limit, "limit", dataset.DefaultTraceLimit, "Number of traces")
	flags.IntVar(&req.LastNMinutes, "last-n-minutes", 0, "Recent traces only")
	flags.StringVar(&req.RootRunName, "root-run-name", "", "Filter traces by root run name (e.g. 'LangGraph')")
	flags.StringVarP(&req.OutputPath, "output", "o", "", "Output file (JSON or CSV)")
	flags.StringVar(&req.UploadName, "upload", "", "Upload to LangSmith dataset with this name")
	flags.StringVar(&req.RunName, "run-name", "", "For single_step: node name to extract inputs/outputs from")
	flags.IntVar(&depth, "depth", 0, "For trajectory: max hierarchy depth (0=root only, omit for all)")
	flags.StringVar(&req.OutputFields, "output-fields", "", "For final_response: comma-separated output keys")
	flags.BoolVar(&req.MessagesOnly, "messages-only", false, "For final_response: only extract from messages")
	flags.IntVar(&req.SamplePerTrace, "sample-per-trace", 0, "For single_step: max examples to sample per trace")
	flags.BoolVar(&req.Replace, "replace", false, "Replace existing file/dataset")
	flags.BoolVar(&req.Yes, "yes", false, "Skip confirmation prompts for replace operations")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (c *cli) datasetsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List LangSmith datasets",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd.Context(), func(_ *session, client *langsmith.Client) error {
				return c.inspector(client).ListDatasets(cmd.Context())
			})
		},
	}
}

func (c *cli) inspector(client dataset.Client) *dataset.Inspector {
	return &dataset.Inspector{Client: client, Out: c.out, ErrOut: c.errOut}
}

func (c *cli) datasetsShowCommand() *cobra.Command {
	var limit int
	var format string
	cmd := &cobra.Command{
		Use:   "show DATASET_NAME",
		Short: "Show examples of a LangSmith dataset",
		Args:  exactArgs(1, "DATASET_NAME"),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := normalizeChoice("format", format, "pretty", "json", "pretty")
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return c.withClient(cmd.Context(), func(_ *session, client *langsmith.Client) error {
				return c.inspector(client).Show(cmd.Context(), args[0], limit, format)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", dataset.DefaultShowLimit, "Number of examples to show")
	cmd.Flags().StringVar(&format, "format", "pretty", "Output format: json or pretty")
	return cmd
}

func (c *cli) datasetsViewFileCommand() *cobra.Command {
	var limit int
	var format string
	cmd := &cobra.Command{
		Use:   "view-file FILE",
		Short: "Show examples of a local .json or .csv dataset",
		Args:  exactArgs(1, "FILE"),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := normalizeChoice("format", format, "pretty", "json", "pretty")
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return datasetFileError(dataset.ViewFile(c.out, args[0], limit, format))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", dataset.DefaultShowLimit, "Number of examples to show")
	cmd.Flags().StringVar(&format, "format", "pretty", "Output format: json or pretty")
	return cmd
}

func (c *cli) datasetsStructureCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "structure FILE",
		Short: "Analyze field coverage of a local dataset file",
		Args:  exactArgs(1, "FILE"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return datasetFileError(dataset.Structure(c.out, args[0]))
		},
	}
}

func datasetFileError(err error) error {
	if errors.Is(err, dataset.ErrUnsupportedFormat) {
		return &exitError{code: 1, err: fmt.Errorf("%w: use .json or .csv", err)}
	}
	return err
}

func (c *cli) datasetsExportCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "export DATASET_NAME OUTPUT_FILE",
		Short: "Export a LangSmith dataset to a local file",
		Args:  exactArgs(2, "DATASET_NAME", "OUTPUT_FILE"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(_ *session, client *langsmith.Client) error {
				return c.inspector(client).Export(cmd.Context(), args[0], args[1], limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", dataset.DefaultExportLimit, "Number of examples to export")
	return cmd
}

func (c *cli) evaluatorsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluators",
		Short: "Upload, list and delete code evaluators",
		Args:  noArgs,
		RunE:  runGroup,
	}
	cmd.AddCommand(c.evaluatorsUploadCommand(), c.evaluatorsListCommand(), c.evaluatorsDeleteCommand())
	return cmd
}

func (c *cli) manager(client evaluator.Client) *evaluator.Manager {
	return &evaluator.Manager{Client: client, Out: c.out, ErrOut: c.errOut, Confirm: c.confirm}
}

func (c *cli) evaluatorsUploadCommand() *cobra.Command {
	var req evaluator.UploadRequest
	cmd := &cobra.Command{
		Use:   "upload EVALUATOR_FILE",
		Short: "Upload a Python evaluator function",
		Args:  exactArgs(1, "EVALUATOR_FILE"),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.File = args[0]
			if req.SamplingRate < 0 || req.SamplingRate > 1 {
				return usageErrorf("--sample-rate must be between 0.0 and 1.0")
			}
			return c.withClient(cmd.Context(), func(_ *session, client *langsmith.Client) error {
				_, err := c.manager(client).Upload(cmd.Context(), req)
				if errors.Is(err, evaluator.ErrUploadRejected) {
					return exitCode(1)
				}
				return err
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.Name, "name", "", "Display name for evaluator")
	flags.StringVar(&req.Function, "function", "", "Function name to extract from file")
	flags.StringVar(&req.Dataset, "dataset", "", "Target dataset name")
	flags.StringVar(&req.Project, "project", "", "Target project name")
	flags.Float64Var(&req.SamplingRate, "sample-rate", 1.0, "Sampling rate (0.0-1.0)")
	flags.BoolVar(&req.Replace, "replace", false, "Replace if exists")
	flags.BoolVar(&req.SkipConfirm, "yes", false, "Skip confirmation prompts")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("function")
	return cmd
}

func (c *cli) evaluatorsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List evaluators",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd.Context(), func(_ *session, client *langsmith.Client) error {
				return c.manager(client).List(cmd.Context())
			})
		},
	}
}

func (c *cli) evaluatorsDeleteCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete an evaluator by name",
		Args:  exactArgs(1, "NAME"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(_ *session, client *langsmith.Client) error {
				_, err := c.manager(client).Delete(cmd.Context(), args[0], !yes)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip confirmation prompt")
	return cmd
}
