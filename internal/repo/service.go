// Package repo is the repository inspection service behind gitshelf's
// tools. Every call takes an explicit timeout so the agent-facing endpoint
// stays responsive when git is slow.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is wrapped by every error caused by an expired Options.Timeout.
	ErrTimeout = errors.New("operation timed out")
	// ErrNotFound is wrapped when a repository, revision or stash does not exist.
	ErrNotFound = errors.New("not found")
)

// Options carries per-call settings.
type Options struct {
	// Timeout bounds the call. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Head describes what HEAD points at.
type Head struct {
	Branch   string `json:"branch,omitempty"`
	SHA      string `json:"sha"`
	Detached bool   `json:"detached"`
}

// Person is a commit author or committer.
type Person struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"when"`
}

// Commit is a summarized commit.
type Commit struct {
	SHA       string   `json:"sha"`
	ShortSHA  string   `json:"shortSha"`
	Subject   string   `json:"subject"`
	Message   string   `json:"message"`
	Author    Person   `json:"author"`
	Committer Person   `json:"committer"`
	Parents   []string `json:"parents"`
}

// Stash is one entry of the stash list.
type Stash struct {
	Index   int       `json:"index"`
	Ref     string    `json:"ref"`
	SHA     string    `json:"sha"`
	Branch  string    `json:"branch,omitempty"`
	Message string    `json:"message"`
	Created time.Time `json:"created"`
}

// File change statuses.
const (
	StatusAdded    = "added"
	StatusModified = "modified"
	StatusDeleted  = "deleted"
	StatusRenamed  = "renamed"
)

// FileChange is one file touched by a commit or stash.
type FileChange struct {
	Path      string `json:"path"`
	OldPath   string `json:"oldPath,omitempty"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Contributor aggregates the commits of one author email.
type Contributor struct {
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Commits int       `json:"commits"`
	First   time.Time `json:"firstCommit"`
	Last    time.Time `json:"lastCommit"`
}

// CommitQuery selects commits from the log.
type CommitQuery struct {
	// Ref is the revision to start from; empty means HEAD.
	Ref string
	// Path restricts the log to commits touching this repo-relative path.
	Path string
	// Limit caps the number of commits; zero means no cap.
	Limit int
}

// Service is the repository surface the MCP tools consume.
type Service interface {
	ResolveRoot(ctx context.Context, path string, opts Options) (string, error)
	Head(ctx context.Context, root string, opts Options) (*Head, error)
	ListStashes(ctx context.Context, root string, opts Options) ([]Stash, error)
	StashFiles(ctx context.Context, root, ref string, opts Options) ([]FileChange, error)
	ListCommits(ctx context.Context, root string, q CommitQuery, opts Options) ([]Commit, error)
	GetCommit(ctx context.Context, root, rev string, opts Options) (*Commit, error)
	CommitFiles(ctx context.Context, root, sha string, opts Options) ([]FileChange, error)
	ListContributors(ctx context.Context, root string, opts Options) ([]Contributor, error)
	FileHistory(ctx context.Context, root, file string, limit int, opts Options) ([]Commit, error)
	// ResolvePath makes path absolute, resolving relative paths against the
	// default workspace.
	ResolvePath(path string) (string, error)
}

// withTimeout runs fn under opts.Timeout. fn keeps running in the
// background if it ignores ctx, but the caller is released on time.
func withTimeout[T any](ctx context.Context, op string, opts Options, fn func(context.Context) (T, error)) (T, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn(ctx)
		done <- result{val, err}
	}()

	timedOut := func() error {
		return fmt.Errorf("%s timed out after %s: %w", op, opts.Timeout, ErrTimeout)
	}

	select {
	case res := <-done:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && opts.Timeout > 0 {
			return res.val, timedOut()
		}
		return res.val, res.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && opts.Timeout > 0 {
			return zero, timedOut()
		}
		return zero, ctx.Err()
	}
}
