package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/1broseidon/gitshelf/internal/command"
	"github.com/1broseidon/gitshelf/internal/config"
	"github.com/1broseidon/gitshelf/internal/logging"
	"github.com/1broseidon/gitshelf/internal/repo"
	"github.com/1broseidon/gitshelf/internal/router"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrUnsupported      = errors.New("unsupported in this context")
	ErrInvalidURI       = errors.New("invalid resource URI")
)

// CommandRouter delivers UI commands produced by the open_* tools.
type CommandRouter interface {
	Route(ctx context.Context, cmd *command.Command) (router.Outcome, error)
}

// Ownership reports whether this process serves a workspace.
type Ownership interface {
	Owns(root string) bool
}

// ViewRefresher is an optional host capability.
type ViewRefresher interface {
	RefreshViews(ctx context.Context, repoRoot string) error
}

type operation struct {
	name        string
	description string
	schema      *jsonschema.Schema
	handle      func(ctx context.Context, args json.RawMessage) (any, error)
}

// Dispatcher maps tool names and resource URIs onto repository calls.
type Dispatcher struct {
	svc      repo.Service
	router   CommandRouter
	owners   Ownership
	host     any
	timeouts config.TimeoutConfig
	slow     time.Duration
	now      func() time.Time
	log      *logrus.Entry

	ops map[string]*operation
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRouter sets where UI commands go. Without one the open_* tools fail
// as unsupported.
func WithRouter(r CommandRouter) Option {
	return func(d *Dispatcher) { d.router = r }
}

// WithOwnership lets get_repository report whether this process owns the
// repository.
func WithOwnership(o Ownership) Option {
	return func(d *Dispatcher) { d.owners = o }
}

// WithHost provides optional host capabilities, currently ViewRefresher.
func WithHost(h any) Option {
	return func(d *Dispatcher) { d.host = h }
}

// WithTimeouts overrides the per-call timeouts.
func WithTimeouts(t config.TimeoutConfig) Option {
	return func(d *Dispatcher) { d.timeouts = t }
}

// WithSlowThreshold sets the duration at which a call is logged as slow.
func WithSlowThreshold(threshold time.Duration) Option {
	return func(d *Dispatcher) { d.slow = threshold }
}

// WithClock overrides the clock used for call timing.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger replaces the dispatcher's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(d *Dispatcher) { d.log = log }
}

// NewDispatcher builds the dispatcher and its fixed operation registry.
func NewDispatcher(svc repo.Service, opts ...Option) *Dispatcher {
	defaults := config.DefaultConfig()
	d := &Dispatcher{
		svc:      svc,
		timeouts: defaults.Timeouts,
		slow:     defaults.SlowCallThreshold(),
		now:      time.Now,
		log:      logging.NewLogger("mcp"),
		ops:      make(map[string]*operation),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.registerTools()
	return d
}

func register[In any](d *Dispatcher, name, description string, fn func(ctx context.Context, in In) (any, error)) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		panic(fmt.Sprintf("mcp: input schema for %s: %v", name, err))
	}
	d.ops[name] = &operation{
		name:        name,
		description: description,
		schema:      schema,
		handle: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var in In
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
				}
			}
			return fn(ctx, in)
		},
	}
}

// Operations returns the registered tool names, sorted.
func (d *Dispatcher) Operations() []string {
	names := make([]string, 0, len(d.ops))
	for name := range d.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named operation. The call is timed whether it succeeds
// or fails; timing never changes the result.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	op, ok := d.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownOperation, name)
	}
	start := d.now()
	defer d.observe("tool", name, start)
	return op.handle(ctx, args)
}

func (d *Dispatcher) observe(kind, name string, start time.Time) {
	elapsed := d.now().Sub(start)
	if elapsed < d.slow {
		return
	}
	d.log.WithFields(logrus.Fields{
		kind:          name,
		"duration_ms": elapsed.Milliseconds(),
	}).Warn("Slow call")
}

// CallTool is the protocol-facing entry point for tool calls. Failures are
// reported in the result, never as a protocol error.
func (d *Dispatcher) CallTool(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args json.RawMessage
	name := ""
	if req != nil && req.Params != nil {
		name = req.Params.Name
		args = req.Params.Arguments
	}
	res, err := d.Invoke(ctx, name, args)
	return toolResult(res, err), nil
}

func toolResult(res any, err error) *mcpsdk.CallToolResult {
	if err != nil {
		return errorResult(err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("failed to encode result: %w", err))
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}
}

func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "Error: " + err.Error()}},
	}
}

func (d *Dispatcher) listing() repo.Options { return repo.Options{Timeout: d.timeouts.Listing()} }
func (d *Dispatcher) details() repo.Options { return repo.Options{Timeout: d.timeouts.Details()} }
func (d *Dispatcher) general() repo.Options { return repo.Options{Timeout: d.timeouts.Default()} }
