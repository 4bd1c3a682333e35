package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ongoingai/smithkit/internal/version"
)

func (c *cli) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the smithkit version",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(c.out, version.String())
			return nil
		},
	}
}

func (c *cli) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect smithkit configuration",
		Args:  noArgs,
		RunE:  runGroup,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, stage, err := loadAndValidateConfig(c.configPath); err != nil {
				fmt.Fprintf(c.errOut, "config is invalid (%s): %v\n", stage, err)
				return exitCode(1)
			}
			fmt.Fprintf(c.out, "config is valid: %s\n", c.configPath)
			return nil
		},
	})
	return cmd
}
