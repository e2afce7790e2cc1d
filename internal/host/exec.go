// Package host runs UI commands in the local process by handing them to a
// configured host program, such as an editor extension's CLI bridge.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/1broseidon/gitshelf/internal/command"
	"github.com/1broseidon/gitshelf/internal/config"
	"github.com/1broseidon/gitshelf/internal/logging"
	"github.com/1broseidon/gitshelf/internal/router"
)

// Exec executes commands with the configured host program. The command
// JSON is written to the program's stdin and its kind and workspace are
// exported as GITSHELF_COMMAND_TYPE and GITSHELF_REPO_ROOT.
type Exec struct {
	argv    []string
	timeout time.Duration
	log     *logrus.Entry
}

// Refresher is an Exec that can also ask the host to refresh its views.
type Refresher struct {
	*Exec
	refreshArgv []string
}

// New builds the executor for cfg. When a refresh command is configured
// the returned value is a *Refresher.
func New(cfg config.HostConfig, timeout time.Duration) router.Executor {
	e := &Exec{
		argv:    cfg.Command,
		timeout: timeout,
		log:     logging.NewLogger("host"),
	}
	if len(cfg.RefreshCommand) > 0 {
		return &Refresher{Exec: e, refreshArgv: cfg.RefreshCommand}
	}
	return e
}

// Execute runs the host program for cmd. Without a configured program the
// command is only logged.
func (e *Exec) Execute(ctx context.Context, cmd *command.Command) error {
	log := e.log.WithFields(logrus.Fields{
		"id":   cmd.ID,
		"type": cmd.Kind,
		"repo": cmd.RepoRoot,
	})
	if len(e.argv) == 0 {
		log.Info("UI command received (no host command configured)")
		return nil
	}

	data, err := cmd.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	env := []string{
		"GITSHELF_COMMAND_ID=" + cmd.ID,
		"GITSHELF_COMMAND_TYPE=" + string(cmd.Kind),
		"GITSHELF_REPO_ROOT=" + cmd.RepoRoot,
	}
	if err := e.run(ctx, e.argv, data, env); err != nil {
		return fmt.Errorf("host command for %s failed: %w", cmd.Kind, err)
	}
	log.Debug("UI command executed")
	return nil
}

// RefreshViews asks the host to refresh every view for repoRoot.
func (r *Refresher) RefreshViews(ctx context.Context, repoRoot string) error {
	env := []string{"GITSHELF_REPO_ROOT=" + repoRoot}
	if err := r.run(ctx, r.refreshArgv, nil, env); err != nil {
		return fmt.Errorf("refresh command failed: %w", err)
	}
	r.log.WithField("repo", repoRoot).Debug("Views refreshed")
	return nil
}

func (e *Exec) run(ctx context.Context, argv []string, stdin []byte, env []string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out after %s", argv[0], e.timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}
