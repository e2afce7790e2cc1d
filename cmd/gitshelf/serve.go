package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/1broseidon/gitshelf/internal/broker"
	"github.com/1broseidon/gitshelf/internal/config"
	"github.com/1broseidon/gitshelf/internal/host"
	"github.com/1broseidon/gitshelf/internal/logging"
	"github.com/1broseidon/gitshelf/internal/mcp"
	"github.com/1broseidon/gitshelf/internal/repo"
	"github.com/1broseidon/gitshelf/internal/router"
	"github.com/1broseidon/gitshelf/internal/transport"
	"github.com/1broseidon/gitshelf/internal/workspace"
)

type serveOptions struct {
	*rootOptions
	host       string
	port       int
	workspaces []string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP endpoint and the command broker watcher",
		Long: `Start the MCP endpoint on /mcp (streamable HTTP) and /sse (legacy SSE).

The process owns the configured workspaces plus any given with --workspace.
UI commands for other workspaces are handed off through the broker directory.
Send SIGHUP to reload the workspace set from the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (overrides listen.host)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "listen port, 0 for ephemeral (overrides listen.port)")
	cmd.Flags().StringArrayVar(&opts.workspaces, "workspace", nil, "workspace root owned by this process (repeatable)")
	return cmd
}

// roots merges configured workspaces with the ones given on the command line.
func (o *serveOptions) roots(cfg *config.Config) []string {
	extra := &config.Config{Workspaces: o.workspaces}
	return append(cfg.WorkspaceRoots(), extra.WorkspaceRoots()...)
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	res, err := opts.load()
	if err != nil {
		return err
	}
	cfg := res.Config
	if cmd.Flags().Changed("host") {
		cfg.Listen.Host = opts.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Listen.Port = opts.port
	}

	closer, err := logging.Configure(cfg.GetLoggingConfig())
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer closer.Close()
	log := logging.NewLogger("serve")

	roots := opts.roots(cfg)
	registry := workspace.NewRegistry(roots...)

	brokerDir, err := cfg.GetBrokerDir()
	if err != nil {
		return err
	}
	executor := host.New(cfg.Host, cfg.Timeouts.Default())
	rt := router.New(registry, broker.New(brokerDir), router.WithExecutor(executor))

	defaultRoot := ""
	if len(roots) > 0 {
		defaultRoot = roots[0]
	}
	dispatcher := mcp.NewDispatcher(repo.NewGit(defaultRoot),
		mcp.WithRouter(rt),
		mcp.WithOwnership(registry),
		mcp.WithHost(executor),
		mcp.WithTimeouts(cfg.Timeouts),
		mcp.WithSlowThreshold(cfg.SlowCallThreshold()),
	)
	manager := transport.NewManager(
		transport.SDKFactory{NewServer: dispatcher.NewServer},
		transport.WithSlowThreshold(cfg.SlowCallThreshold()),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// The router logs and retries its own broker failures; a broken broker
	// directory only costs hand-off, never the endpoint.
	routerDone := make(chan struct{})
	go func() {
		rt.Run(ctx)
		close(routerDone)
	}()

	port, err := manager.Start(ctx, cfg.Addr())
	if err != nil {
		cancel()
		<-routerDone
		return err
	}
	log.WithFields(logrus.Fields{
		"host":       cfg.Listen.Host,
		"port":       port,
		"workspaces": registry.Roots(),
		"broker":     brokerDir,
	}).Info("gitshelf serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reload(opts, registry, log)
				continue
			}
			log.WithField("signal", sig.String()).Info("Shutting down")
		case <-ctx.Done():
			log.Info("Shutting down")
		}
		return shutdown(cancel, manager, routerDone)
	}
}

func reload(opts *serveOptions, registry *workspace.Registry, log *logrus.Entry) {
	res, err := opts.load()
	if err != nil {
		log.WithError(err).Error("Config reload failed")
		return
	}
	registry.Replace(opts.roots(res.Config))
	log.WithField("workspaces", registry.Roots()).Info("Workspaces reloaded")
}

func shutdown(cancel context.CancelFunc, manager *transport.Manager, routerDone <-chan struct{}) error {
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	err := manager.Close(ctx)
	cancel()
	<-routerDone
	return err
}
