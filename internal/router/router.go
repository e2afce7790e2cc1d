// Package router delivers UI commands to the process that owns their
// workspace: directly when this process owns it, through the broker
// directory otherwise.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/1broseidon/gitshelf/internal/broker"
	"github.com/1broseidon/gitshelf/internal/command"
	"github.com/1broseidon/gitshelf/internal/logging"
	"github.com/1broseidon/gitshelf/internal/workspace"
)

const (
	// StaleAfter is the age past which an undelivered command is discarded.
	StaleAfter = 60 * time.Second
	// SweepInterval is how often the broker directory is swept.
	SweepInterval = 30 * time.Second
)

// Outcome reports where a routed command went.
type Outcome int

const (
	OutcomeLocal Outcome = iota
	OutcomeHandedOff
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLocal:
		return "executed locally"
	case OutcomeHandedOff:
		return "handed off"
	default:
		return "unknown"
	}
}

// Executor performs a command's UI side effect in this process.
type Executor interface {
	Execute(ctx context.Context, cmd *command.Command) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd *command.Command) error

func (f ExecutorFunc) Execute(ctx context.Context, cmd *command.Command) error {
	return f(ctx, cmd)
}

// Store is the broker surface the router depends on.
type Store interface {
	Write(cmd *command.Command) (string, error)
	Read(path string) (*command.Command, error)
	Remove(path string) error
	List() ([]string, error)
	Leftovers() ([]string, error)
	ModTime(path string) (time.Time, error)
	Watch(ctx context.Context, fn func(ctx context.Context, path string)) error
}

var _ Store = (*broker.Broker)(nil)

// Router decides where each command executes.
type Router struct {
	registry *workspace.Registry
	store    Store
	log      *logrus.Entry

	execMu   sync.RWMutex
	executor Executor

	now func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	retryMin time.Duration
	retryMax time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithExecutor sets the local executor.
func WithExecutor(e Executor) Option {
	return func(r *Router) { r.executor = e }
}

// WithClock overrides the wall clock used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithWatchRetry sets the backoff bounds for restarting a failed watch.
func WithWatchRetry(minDelay, maxDelay time.Duration) Option {
	return func(r *Router) {
		r.retryMin = minDelay
		r.retryMax = maxDelay
	}
}

// WithLogger replaces the router's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(r *Router) { r.log = log }
}

// New creates a router over registry and store.
func New(registry *workspace.Registry, store Store, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		store:    store,
		log:      logging.NewLogger("router"),
		now:      time.Now,
		inflight: make(map[string]struct{}),
		retryMin: time.Second,
		retryMax: SweepInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetExecutor registers (or clears, with nil) the local executor.
func (r *Router) SetExecutor(e Executor) {
	r.execMu.Lock()
	r.executor = e
	r.execMu.Unlock()
}

func (r *Router) localExecutor() Executor {
	r.execMu.RLock()
	defer r.execMu.RUnlock()
	return r.executor
}

// Route executes cmd locally when this process owns its workspace and has
// an executor, and hands it to the broker otherwise. Executor errors are
// returned; broker write failures are logged and the command is dropped.
func (r *Router) Route(ctx context.Context, cmd *command.Command) (Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return OutcomeLocal, err
	}

	log := r.log.WithFields(logrus.Fields{
		"id":   cmd.ID,
		"type": cmd.Kind,
	})

	if exec := r.localExecutor(); exec != nil && r.registry.Owns(cmd.RepoRoot) {
		log.Debug("Executing command locally")
		return OutcomeLocal, exec.Execute(ctx, cmd)
	}

	if _, err := r.store.Write(cmd); err != nil {
		log.WithError(err).Warn("Dropping command after failed hand-off")
	} else {
		log.WithField("repo_hash", workspace.Hash(cmd.RepoRoot)).Debug("Command handed off")
	}
	return OutcomeHandedOff, nil
}

// claim marks path as being handled by this process. It returns false when
// another discovery event for the same file is already in progress.
func (r *Router) claim(path string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, busy := r.inflight[path]; busy {
		return false
	}
	r.inflight[path] = struct{}{}
	return true
}

func (r *Router) release(path string) {
	r.inflightMu.Lock()
	delete(r.inflight, path)
	r.inflightMu.Unlock()
}

// OnDiscovered handles a command file found by the broker watcher. Files
// for workspaces this process does not own are left alone. Nothing here
// fails: unreadable files are left for the sweep and a file removed by a
// concurrent claimant counts as handled.
func (r *Router) OnDiscovered(ctx context.Context, path string) {
	hash, _, ok := broker.ParseFileName(path)
	if !ok || !r.registry.OwnsHash(hash) {
		return
	}
	if !r.claim(path) {
		return
	}
	defer r.release(path)

	log := r.log.WithField("file", path)

	cmd, err := r.store.Read(path)
	if err != nil {
		log.WithError(err).Debug("Skipping unreadable command file")
		return
	}
	log = log.WithFields(logrus.Fields{"id": cmd.ID, "type": cmd.Kind})

	if cmd.Expired(r.now(), StaleAfter) {
		if err := r.store.Remove(path); err != nil {
			log.WithError(err).Warn("Failed to remove stale command file")
			return
		}
		log.Info("Discarded stale command")
		return
	}

	exec := r.localExecutor()
	if exec == nil {
		log.Debug("No local executor, leaving command for later")
		return
	}
	if err := exec.Execute(ctx, cmd); err != nil {
		log.WithError(err).Warn("Handed-off command failed")
	}
	if err := r.store.Remove(path); err != nil {
		log.WithError(err).Warn("Failed to remove claimed command file")
	}
}

// Sweep deletes every command file older than StaleAfter, whatever
// workspace it targets, and reports how many it removed. Age comes from
// the command's own timestamp; the file's mtime is only a fallback for
// files that cannot be parsed.
func (r *Router) Sweep(ctx context.Context) int {
	paths, err := r.store.List()
	if err != nil {
		r.log.WithError(err).Warn("Failed to list command files")
		return 0
	}

	now := r.now()
	removed := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		if !r.stale(path, now) {
			continue
		}
		if err := r.store.Remove(path); err != nil {
			r.log.WithError(err).WithField("file", path).Warn("Failed to sweep command file")
			continue
		}
		removed++
	}
	removed += r.sweepLeftovers(ctx, now)
	if removed > 0 {
		r.log.WithField("count", removed).Info("Swept stale commands")
	}
	return removed
}

// sweepLeftovers removes temp files from interrupted writes once their
// mtime is past StaleAfter. They never hold a readable command.
func (r *Router) sweepLeftovers(ctx context.Context, now time.Time) int {
	paths, err := r.store.Leftovers()
	if err != nil {
		r.log.WithError(err).Warn("Failed to list leftover command files")
		return 0
	}
	removed := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		mtime, err := r.store.ModTime(path)
		if err != nil || now.Sub(mtime) <= StaleAfter {
			continue
		}
		if err := r.store.Remove(path); err != nil {
			r.log.WithError(err).WithField("file", path).Warn("Failed to sweep leftover file")
			continue
		}
		removed++
	}
	return removed
}

func (r *Router) stale(path string, now time.Time) bool {
	cmd, err := r.store.Read(path)
	if err == nil {
		return cmd.Expired(now, StaleAfter)
	}
	mtime, statErr := r.store.ModTime(path)
	if statErr != nil {
		return false
	}
	return now.Sub(mtime) > StaleAfter
}

// Run sweeps once, then watches the broker directory and sweeps every
// SweepInterval until ctx is cancelled. A failing watch is logged and
// retried with backoff; the sweep keeps running meanwhile. Run returns
// only when ctx is done.
func (r *Router) Run(ctx context.Context) {
	r.Sweep(ctx)

	go func() {
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()

	delay := r.retryMin
	for {
		err := r.store.Watch(ctx, r.OnDiscovered)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			delay = r.retryMin
		} else {
			r.log.WithError(err).WithField("retry_in", delay.String()).Error("Broker watch failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err != nil {
			delay = min(delay*2, r.retryMax)
		}
	}
}
