package mcp

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/1broseidon/gitshelf/internal/command"
	"github.com/1broseidon/gitshelf/internal/repo"
	"github.com/1broseidon/gitshelf/internal/router"
)

const testRoot = "/src/repo1"

// fakeService is an in-memory repo.Service. Hooks run before the matching
// method returns, so tests can fail or slow individual calls.
type fakeService struct {
	head         *repo.Head
	stashes      []repo.Stash
	stashFiles   map[string][]repo.FileChange
	commits      []repo.Commit
	commitFiles  map[string][]repo.FileChange
	contributors []repo.Contributor

	stashFilesErr  error
	commitFilesErr error
	onListStashes  func()

	mu   sync.Mutex
	opts map[string]repo.Options
}

func newFakeService() *fakeService {
	return &fakeService{
		head: &repo.Head{Branch: "main", SHA: "c3c3c3c3c3c3c3c3"},
		stashes: []repo.Stash{
			{Index: 0, Ref: "stash@{0}", SHA: "aaaa1111", Branch: "main", Message: "half done"},
			{Index: 1, Ref: "stash@{1}", SHA: "bbbb2222", Branch: "main", Message: "spike"},
		},
		stashFiles: map[string][]repo.FileChange{
			"aaaa1111": {{Path: "a.txt", Status: repo.StatusModified, Additions: 1}},
		},
		commits: []repo.Commit{
			{SHA: "c3c3c3c3c3c3c3c3", ShortSHA: "c3c3c3c", Subject: "third"},
			{SHA: "b2b2b2b2b2b2b2b2", ShortSHA: "b2b2b2b", Subject: "second"},
		},
		commitFiles: map[string][]repo.FileChange{
			"c3c3c3c3c3c3c3c3": {{Path: "main.go", Status: repo.StatusAdded, Additions: 10}},
		},
		contributors: []repo.Contributor{
			{Name: "Alice", Email: "alice@example.com", Commits: 5},
			{Name: "Bob", Email: "bob@example.com", Commits: 2},
		},
		opts: make(map[string]repo.Options),
	}
}

func (f *fakeService) record(op string, opts repo.Options) {
	f.mu.Lock()
	f.opts[op] = opts
	f.mu.Unlock()
}

func (f *fakeService) optsFor(op string) repo.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts[op]
}

func (f *fakeService) ResolveRoot(_ context.Context, path string, opts repo.Options) (string, error) {
	f.record("ResolveRoot", opts)
	if path == "" || path == testRoot || filepath.Dir(path) == testRoot {
		return testRoot, nil
	}
	if len(path) > len(testRoot) && path[:len(testRoot)+1] == testRoot+"/" {
		return testRoot, nil
	}
	return "", repo.ErrNotFound
}

func (f *fakeService) Head(_ context.Context, _ string, opts repo.Options) (*repo.Head, error) {
	f.record("Head", opts)
	if f.head == nil {
		return nil, repo.ErrNotFound
	}
	return f.head, nil
}

func (f *fakeService) ListStashes(_ context.Context, _ string, opts repo.Options) ([]repo.Stash, error) {
	f.record("ListStashes", opts)
	if f.onListStashes != nil {
		f.onListStashes()
	}
	return f.stashes, nil
}

func (f *fakeService) StashFiles(_ context.Context, _ string, ref string, opts repo.Options) ([]repo.FileChange, error) {
	f.record("StashFiles", opts)
	if f.stashFilesErr != nil {
		return nil, f.stashFilesErr
	}
	return f.stashFiles[ref], nil
}

func (f *fakeService) ListCommits(_ context.Context, _ string, q repo.CommitQuery, opts repo.Options) ([]repo.Commit, error) {
	f.record("ListCommits", opts)
	if q.Limit > 0 && q.Limit < len(f.commits) {
		return f.commits[:q.Limit], nil
	}
	return f.commits, nil
}

func (f *fakeService) GetCommit(_ context.Context, _ string, rev string, opts repo.Options) (*repo.Commit, error) {
	f.record("GetCommit", opts)
	for i := range f.commits {
		if f.commits[i].SHA == rev || f.commits[i].ShortSHA == rev {
			c := f.commits[i]
			return &c, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeService) CommitFiles(_ context.Context, _ string, sha string, opts repo.Options) ([]repo.FileChange, error) {
	f.record("CommitFiles", opts)
	if f.commitFilesErr != nil {
		return nil, f.commitFilesErr
	}
	return f.commitFiles[sha], nil
}

func (f *fakeService) ListContributors(_ context.Context, _ string, opts repo.Options) ([]repo.Contributor, error) {
	f.record("ListContributors", opts)
	return f.contributors, nil
}

func (f *fakeService) FileHistory(_ context.Context, _ string, _ string, limit int, opts repo.Options) ([]repo.Commit, error) {
	f.record("FileHistory", opts)
	if limit > 0 && limit < len(f.commits) {
		return f.commits[:limit], nil
	}
	return f.commits, nil
}

func (f *fakeService) ResolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	return filepath.Join(testRoot, path), nil
}

// fakeRouter records routed commands.
type fakeRouter struct {
	mu       sync.Mutex
	outcome  router.Outcome
	err      error
	commands []*command.Command
}

func (r *fakeRouter) Route(_ context.Context, cmd *command.Command) (router.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	return r.outcome, r.err
}

type fakeRefresher struct {
	roots []string
}

func (f *fakeRefresher) RefreshViews(_ context.Context, root string) error {
	f.roots = append(f.roots, root)
	return nil
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
