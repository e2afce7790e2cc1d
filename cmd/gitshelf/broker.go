package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/1broseidon/gitshelf/internal/broker"
	"github.com/1broseidon/gitshelf/internal/router"
	"github.com/1broseidon/gitshelf/internal/workspace"
)

func newBrokerCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Inspect the shared command directory",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List pending commands",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				b, err := openBroker(root)
				if err != nil {
					return err
				}
				return listCommands(cmd, b, time.Now())
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Delete commands older than the staleness window",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				b, err := openBroker(root)
				if err != nil {
					return err
				}
				removed := router.New(workspace.NewRegistry(), b).Sweep(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale command(s) from %s\n", removed, b.Dir())
				return nil
			},
		},
	)
	return cmd
}

func openBroker(root *rootOptions) (*broker.Broker, error) {
	res, err := root.load()
	if err != nil {
		return nil, err
	}
	dir, err := res.Config.GetBrokerDir()
	if err != nil {
		return nil, err
	}
	return broker.New(dir), nil
}

func listCommands(cmd *cobra.Command, b *broker.Broker, now time.Time) error {
	paths, err := b.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(paths) == 0 {
		fmt.Fprintf(out, "No pending commands in %s\n", b.Dir())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tAGE\tREPO")
	for _, path := range paths {
		c, err := b.Read(path)
		if err != nil {
			fmt.Fprintf(w, "%s\t(unreadable)\t-\t-\n", filepath.Base(path))
			continue
		}
		age := c.Age(now).Truncate(time.Second)
		marker := ""
		if c.Expired(now, router.StaleAfter) {
			marker = " (stale)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s%s\t%s\n", c.ID, c.Kind, age, marker, c.RepoRoot)
	}
	return w.Flush()
}
