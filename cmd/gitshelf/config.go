package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "print",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				res, err := root.load()
				if err != nil {
					return err
				}
				data, err := res.Config.Marshal()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.File == "" {
					fmt.Fprintln(out, "# no config file found; showing defaults")
				} else {
					fmt.Fprintf(out, "# source: %s\n", res.File)
				}
				_, err = out.Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the config file for errors",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				res, err := root.load()
				if err != nil {
					return err
				}
				if res.File == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "No config file found; defaults are valid")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", res.File)
				return nil
			},
		},
	)
	return cmd
}
