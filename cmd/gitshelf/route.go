package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/1broseidon/gitshelf/internal/broker"
	"github.com/1broseidon/gitshelf/internal/command"
	"github.com/1broseidon/gitshelf/internal/repo"
	"github.com/1broseidon/gitshelf/internal/router"
	"github.com/1broseidon/gitshelf/internal/workspace"
)

type routeOptions struct {
	*rootOptions
	repo string
	sets []string
}

type routeResult struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	RepoRoot string `json:"repoRoot"`
	Outcome  string `json:"outcome"`
	File     string `json:"file,omitempty"`
}

func newRouteCmd(root *rootOptions) *cobra.Command {
	opts := &routeOptions{rootOptions: root}
	kinds := make([]string, 0, len(command.Kinds()))
	for _, k := range command.Kinds() {
		kinds = append(kinds, string(k))
	}
	cmd := &cobra.Command{
		Use:       "route <kind>",
		Short:     "Hand a UI command to the process that owns a workspace",
		Long:      "Write a UI command to the broker directory for the serving process\nthat owns --repo to pick up.\n\nKinds: " + strings.Join(kinds, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.repo, "repo", "", "workspace root (default: repository containing the working directory)")
	cmd.Flags().StringArrayVar(&opts.sets, "set", nil, "payload field as key=value (repeatable)")
	return cmd
}

// parseSets turns key=value pairs into a payload. Integer values are
// stored as numbers.
func parseSets(sets []string) (map[string]any, error) {
	payload := make(map[string]any, len(sets))
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", kv)
		}
		if n, err := strconv.Atoi(value); err == nil {
			payload[key] = n
			continue
		}
		payload[key] = value
	}
	return payload, nil
}

func runRoute(cmd *cobra.Command, opts *routeOptions, kindArg string) error {
	kind, err := command.ParseKind(kindArg)
	if err != nil {
		return err
	}
	payload, err := parseSets(opts.sets)
	if err != nil {
		return err
	}

	res, err := opts.load()
	if err != nil {
		return err
	}
	cfg := res.Config

	target := opts.repo
	if target == "" {
		if target, err = os.Getwd(); err != nil {
			return err
		}
	}
	root, err := repo.NewGit(target).ResolveRoot(cmd.Context(), target, repo.Options{Timeout: cfg.Timeouts.Default()})
	if err != nil {
		return fmt.Errorf("failed to resolve repository for %s: %w", target, err)
	}

	c, err := command.New(kind, root, payload)
	if err != nil {
		return err
	}

	dir, err := cfg.GetBrokerDir()
	if err != nil {
		return err
	}
	store := broker.New(dir)
	// The CLI owns no workspace, so every command is handed off.
	outcome, err := router.New(workspace.NewRegistry(), store).Route(cmd.Context(), c)
	if err != nil {
		return err
	}

	// Route swallows broker write failures; the CLI reports them.
	path := store.PathFor(c)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("command %s was not written to %s", c.ID, dir)
	}

	out := routeResult{
		ID:       c.ID,
		Type:     string(c.Kind),
		RepoRoot: c.RepoRoot,
		Outcome:  outcome.String(),
		File:     path,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
