package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/gitshelf/internal/command"
	"github.com/1broseidon/gitshelf/internal/config"
	"github.com/1broseidon/gitshelf/internal/repo"
	"github.com/1broseidon/gitshelf/internal/router"
)

func newTestDispatcher(svc repo.Service, opts ...Option) (*Dispatcher, *test.Hook) {
	logger, hook := test.NewNullLogger()
	all := append([]Option{WithLogger(logrus.NewEntry(logger))}, opts...)
	return NewDispatcher(svc, all...), hook
}

func call(t *testing.T, d *Dispatcher, name string, args any) *mcpsdk.CallToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	res, err := d.CallTool(context.Background(), &mcpsdk.CallToolRequest{
		Params: &mcpsdk.CallToolParamsRaw{Name: name, Arguments: raw},
	})
	require.NoError(t, err, "tool failures must not surface as protocol errors")
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcpsdk.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func decode[T any](t *testing.T, res *mcpsdk.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, resultText(t, res))
	var out T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func slowEntries(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Slow call" {
			out = append(out, e)
		}
	}
	return out
}

func TestOperationsRegistry(t *testing.T) {
	d, _ := newTestDispatcher(newFakeService())
	assert.Equal(t, []string{
		"get_commit",
		"get_file_history",
		"get_repository",
		"get_stash",
		"list_commits",
		"list_contributors",
		"list_stashes",
		"open_commit_details",
		"open_contributors_view",
		"open_file_history",
		"open_graph_view",
		"open_stash_view",
		"refresh_views",
	}, d.Operations())

	for _, name := range d.Operations() {
		assert.Equal(t, "object", d.ops[name].schema.Type, name)
	}
}

func TestUnknownOperation(t *testing.T) {
	d, hook := newTestDispatcher(newFakeService())

	_, err := d.Invoke(context.Background(), "drop_tables", nil)
	require.ErrorIs(t, err, ErrUnknownOperation)
	assert.EqualError(t, err, `unknown operation "drop_tables"`)

	res := call(t, d, "drop_tables", map[string]any{})
	assert.True(t, res.IsError)
	assert.Equal(t, `Error: unknown operation "drop_tables"`, resultText(t, res))
	assert.Empty(t, slowEntries(hook))
}

func TestResultIsIndentedJSON(t *testing.T) {
	d, _ := newTestDispatcher(newFakeService())
	res := call(t, d, "list_stashes", map[string]any{})

	text := resultText(t, res)
	assert.Contains(t, text, "\n  \"root\": \"/src/repo1\"")

	out := decode[ListStashesOutput](t, res)
	assert.Len(t, out.Stashes, 2)
}

func TestInvalidArguments(t *testing.T) {
	d, _ := newTestDispatcher(newFakeService())
	res, err := d.CallTool(context.Background(), &mcpsdk.CallToolRequest{
		Params: &mcpsdk.CallToolParamsRaw{Name: "list_commits", Arguments: json.RawMessage(`{"limit":"many"}`)},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Error: invalid arguments for list_commits")
}

func TestSlowCallThreshold(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		wantLog  bool
	}{
		{"just below", 1999 * time.Millisecond, false},
		{"at threshold", 2000 * time.Millisecond, true},
		{"above", 2500 * time.Millisecond, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			svc := newFakeService()
			svc.onListStashes = func() { clock.Advance(tt.duration) }
			d, hook := newTestDispatcher(svc,
				WithClock(clock.Now),
				WithSlowThreshold(2000*time.Millisecond))

			res := call(t, d, "list_stashes", map[string]any{})
			assert.False(t, res.IsError)

			entries := slowEntries(hook)
			if !tt.wantLog {
				assert.Empty(t, entries)
				return
			}
			require.Len(t, entries, 1)
			assert.Equal(t, logrus.WarnLevel, entries[0].Level)
			assert.Equal(t, "list_stashes", entries[0].Data["tool"])
			assert.Equal(t, tt.duration.Milliseconds(), entries[0].Data["duration_ms"])
		})
	}
}

func TestSlowCallTimingKeepsError(t *testing.T) {
	clock := newFakeClock()
	svc := newFakeService()
	svc.onListStashes = func() { clock.Advance(3 * time.Second) }
	d, hook := newTestDispatcher(svc, WithClock(clock.Now), WithSlowThreshold(2*time.Second))

	_, err := d.Invoke(context.Background(), "get_stash", json.RawMessage(`{"stash":"9"}`))
	assert.EqualError(t, err, `stash "9" not found`)
	assert.Len(t, slowEntries(hook), 1)
}

func TestToolsUseConfiguredTimeouts(t *testing.T) {
	svc := newFakeService()
	d, _ := newTestDispatcher(svc, WithTimeouts(config.TimeoutConfig{
		DefaultMs: 30000,
		ListingMs: 10000,
		DetailsMs: 5000,
	}))

	call(t, d, "get_stash", map[string]any{"stash": "0"})
	call(t, d, "get_commit", map[string]any{"sha": "c3c3c3c"})

	assert.Equal(t, 10*time.Second, svc.optsFor("ListStashes").Timeout)
	assert.Equal(t, 5*time.Second, svc.optsFor("StashFiles").Timeout)
	assert.Equal(t, 30*time.Second, svc.optsFor("GetCommit").Timeout)
	assert.Equal(t, 5*time.Second, svc.optsFor("CommitFiles").Timeout)
}

func TestGetRepository(t *testing.T) {
	svc := newFakeService()
	d, _ := newTestDispatcher(svc, WithOwnership(ownedRoots{testRoot: true}))

	out := decode[GetRepositoryOutput](t, call(t, d, "get_repository", map[string]any{}))
	assert.Equal(t, testRoot, out.Root)
	assert.True(t, out.Owned)
	require.NotNil(t, out.Head)
	assert.Equal(t, "main", out.Head.Branch)

	svc.head = nil
	out = decode[GetRepositoryOutput](t, call(t, d, "get_repository", map[string]any{}))
	assert.Nil(t, out.Head)
	assert.NotEmpty(t, out.Note)

	res := call(t, d, "get_repository", map[string]any{"repo": "/elsewhere"})
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: not found", resultText(t, res))
}

type ownedRoots map[string]bool

func (o ownedRoots) Owns(root string) bool { return o[root] }

func TestGetStash(t *testing.T) {
	d, _ := newTestDispatcher(newFakeService())

	for _, id := range []string{"0", "stash@{0}", "aaaa1111", "AAAA"} {
		out := decode[StashDetails](t, call(t, d, "get_stash", map[string]any{"stash": id}))
		assert.Equal(t, "half done", out.Stash.Message, id)
		assert.Len(t, out.Files, 1, id)
		assert.Empty(t, out.Note, id)
	}

	res := call(t, d, "get_stash", map[string]any{"stash": "7"})
	assert.True(t, res.IsError)
	assert.Equal(t, `Error: stash "7" not found`, resultText(t, res))

	res = call(t, d, "get_stash", map[string]any{})
	assert.Equal(t, "Error: stash is required", resultText(t, res))
}

func TestGetStashDegradesOnTimeout(t *testing.T) {
	svc := newFakeService()
	svc.stashFilesErr = fmt.Errorf("stash files timed out after 5s: %w", repo.ErrTimeout)
	d, _ := newTestDispatcher(svc)

	out := decode[StashDetails](t, call(t, d, "get_stash", map[string]any{"stash": "0"}))
	assert.Equal(t, "half done", out.Stash.Message)
	assert.NotNil(t, out.Files)
	assert.Empty(t, out.Files)
	assert.Contains(t, out.Note, "timed out")
}

func TestGetCommitDegradesOnTimeout(t *testing.T) {
	svc := newFakeService()
	d, _ := newTestDispatcher(svc)

	out := decode[CommitDetails](t, call(t, d, "get_commit", map[string]any{"sha": "c3c3c3c"}))
	assert.Equal(t, "third", out.Commit.Subject)
	assert.Len(t, out.Files, 1)

	svc.commitFilesErr = repo.ErrTimeout
	out = decode[CommitDetails](t, call(t, d, "get_commit", map[string]any{"sha": "c3c3c3c"}))
	assert.Equal(t, "third", out.Commit.Subject)
	assert.Empty(t, out.Files)
	assert.Contains(t, out.Note, "file list unavailable")

	res := call(t, d, "get_commit", map[string]any{"sha": "ffff"})
	assert.True(t, res.IsError)
}

func TestListTools(t *testing.T) {
	d, _ := newTestDispatcher(newFakeService())

	commits := decode[CommitsOutput](t, call(t, d, "list_commits", map[string]any{"limit": 1}))
	assert.Len(t, commits.Commits, 1)

	contributors := decode[ContributorsOutput](t, call(t, d, "list_contributors", map[string]any{"limit": 1}))
	require.Len(t, contributors.Contributors, 1)
	assert.Equal(t, "Alice", contributors.Contributors[0].Name)

	history := decode[CommitsOutput](t, call(t, d, "get_file_history", map[string]any{"file": "pkg/a.go"}))
	assert.Equal(t, "/src/repo1/pkg/a.go", history.File)
	assert.Equal(t, testRoot, history.Root)
	assert.Len(t, history.Commits, 2)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultCommitLimit, clampLimit(0))
	assert.Equal(t, defaultCommitLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, maxCommitLimit, clampLimit(100000))
}

func TestOpenToolsRouteCommands(t *testing.T) {
	r := &fakeRouter{outcome: router.OutcomeHandedOff}
	d, _ := newTestDispatcher(newFakeService(), WithRouter(r))

	index := 1
	tests := []struct {
		tool    string
		args    map[string]any
		kind    command.Kind
		payload map[string]any
	}{
		{"open_stash_view", map[string]any{"index": index}, command.KindOpenStashView, map[string]any{"index": 1}},
		{"open_graph_view", map[string]any{}, command.KindOpenGraphView, map[string]any{}},
		{"open_commit_details", map[string]any{"sha": "c3c3c3c"}, command.KindOpenCommitDetails, map[string]any{"sha": "c3c3c3c"}},
		{"open_file_history", map[string]any{"file": "a.txt"}, command.KindOpenFileHistory, map[string]any{"file": "/src/repo1/a.txt"}},
		{"open_contributors_view", map[string]any{}, command.KindOpenContributorsView, map[string]any{}},
	}
	for i, tt := range tests {
		out := decode[OpenResult](t, call(t, d, tt.tool, tt.args))
		assert.Equal(t, "handed off", out.Outcome, tt.tool)
		assert.Equal(t, string(tt.kind), out.Type, tt.tool)
		assert.Equal(t, testRoot, out.RepoRoot, tt.tool)

		require.Len(t, r.commands, i+1)
		cmd := r.commands[i]
		assert.Equal(t, out.CommandID, cmd.ID)
		assert.Equal(t, tt.kind, cmd.Kind)
		assert.Equal(t, tt.payload, cmd.Payload, tt.tool)
	}
}

func TestOpenToolSurfacesExecutorError(t *testing.T) {
	r := &fakeRouter{outcome: router.OutcomeLocal, err: errors.New("no window for repository")}
	d, _ := newTestDispatcher(newFakeService(), WithRouter(r))

	res := call(t, d, "open_graph_view", map[string]any{})
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: no window for repository", resultText(t, res))
}

func TestOpenToolsValidateArguments(t *testing.T) {
	r := &fakeRouter{}
	d, _ := newTestDispatcher(newFakeService(), WithRouter(r))

	assert.True(t, call(t, d, "open_commit_details", map[string]any{}).IsError)
	assert.True(t, call(t, d, "open_stash_view", map[string]any{"index": -1}).IsError)
	assert.Empty(t, r.commands)
}

func TestMissingCapabilitiesAreUnsupported(t *testing.T) {
	d, _ := newTestDispatcher(newFakeService())

	_, err := d.Invoke(context.Background(), "refresh_views", nil)
	require.ErrorIs(t, err, ErrUnsupported)
	assert.EqualError(t, err, "refresh_views is unsupported in this context")

	_, err = d.Invoke(context.Background(), "open_graph_view", nil)
	require.ErrorIs(t, err, ErrUnsupported)
	assert.EqualError(t, err, "open_graph_view is unsupported in this context")
}

func TestRefreshViews(t *testing.T) {
	host := &fakeRefresher{}
	d, _ := newTestDispatcher(newFakeService(), WithHost(host))

	out := decode[RefreshResult](t, call(t, d, "refresh_views", map[string]any{}))
	assert.True(t, out.Refreshed)
	assert.Equal(t, []string{testRoot}, host.roots)
}
