package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/1broseidon/gitshelf/internal/config"
)

var version = "dev"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "gitshelf",
		Short:         "Serve git repository views to MCP clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.gitshelf/config.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newRouteCmd(opts),
		newBrokerCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the config file selected by --config, or the default one.
func (o *rootOptions) load() (*config.LoadResult, error) {
	path := o.configPath
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return config.LoadFromPath(path)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gitshelf version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "gitshelf", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
