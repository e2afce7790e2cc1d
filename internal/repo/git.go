package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/sirupsen/logrus"

	"github.com/1broseidon/gitshelf/internal/logging"
)

const shortSHALength = 7

// Git implements Service over local repositories. Object access goes
// through go-git; stashes go through the git binary.
type Git struct {
	defaultRoot string
	gitBinary   string
	log         *logrus.Entry
}

var _ Service = (*Git)(nil)

// NewGit returns a service that resolves relative paths against
// defaultRoot (or the working directory when empty).
func NewGit(defaultRoot string) *Git {
	return &Git{
		defaultRoot: defaultRoot,
		gitBinary:   "git",
		log:         logging.NewLogger("repo"),
	}
}

// DefaultRoot returns the workspace relative paths resolve against.
func (g *Git) DefaultRoot() string {
	if g.defaultRoot != "" {
		return g.defaultRoot
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

func (g *Git) open(path string) (*git.Repository, error) {
	r, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("no git repository at %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open repository %s: %w", path, err)
	}
	return r, nil
}

// ResolveRoot returns the worktree root of the repository containing path.
func (g *Git) ResolveRoot(ctx context.Context, path string, opts Options) (string, error) {
	return withTimeout(ctx, "resolve root", opts, func(context.Context) (string, error) {
		if path == "" {
			path = g.DefaultRoot()
		}
		r, err := g.open(path)
		if err != nil {
			return "", err
		}
		wt, err := r.Worktree()
		if err != nil {
			return "", fmt.Errorf("repository at %s has no worktree: %w", path, err)
		}
		return filepath.Clean(wt.Filesystem.Root()), nil
	})
}

// Head reports the current branch and commit.
func (g *Git) Head(ctx context.Context, root string, opts Options) (*Head, error) {
	return withTimeout(ctx, "head", opts, func(context.Context) (*Head, error) {
		r, err := g.open(root)
		if err != nil {
			return nil, err
		}
		ref, err := r.Head()
		if err != nil {
			if errors.Is(err, plumbing.ErrReferenceNotFound) {
				return nil, fmt.Errorf("repository has no commits: %w", ErrNotFound)
			}
			return nil, err
		}
		head := &Head{SHA: ref.Hash().String()}
		if ref.Name().IsBranch() {
			head.Branch = ref.Name().Short()
		} else {
			head.Detached = true
		}
		return head, nil
	})
}

func (g *Git) resolveCommit(r *git.Repository, rev string) (*object.Commit, error) {
	if rev == "" {
		rev = "HEAD"
	}
	hash, err := r.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("unknown revision %q: %w", rev, ErrNotFound)
	}
	c, err := r.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("unknown commit %q: %w", rev, ErrNotFound)
	}
	return c, nil
}

// ListCommits walks the log newest first.
func (g *Git) ListCommits(ctx context.Context, root string, q CommitQuery, opts Options) ([]Commit, error) {
	return withTimeout(ctx, "list commits", opts, func(ctx context.Context) ([]Commit, error) {
		r, err := g.open(root)
		if err != nil {
			return nil, err
		}
		from, err := g.resolveCommit(r, q.Ref)
		if err != nil {
			return nil, err
		}
		logOpts := &git.LogOptions{From: from.Hash, Order: git.LogOrderCommitterTime}
		if q.Path != "" {
			p := filepath.ToSlash(q.Path)
			logOpts.FileName = &p
		}
		iter, err := r.Log(logOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to read log: %w", err)
		}
		defer iter.Close()

		var commits []Commit
		err = iter.ForEach(func(c *object.Commit) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			commits = append(commits, toCommit(c))
			if q.Limit > 0 && len(commits) >= q.Limit {
				return storer.ErrStop
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return commits, nil
	})
}

// GetCommit resolves rev to a single commit.
func (g *Git) GetCommit(ctx context.Context, root, rev string, opts Options) (*Commit, error) {
	return withTimeout(ctx, "get commit", opts, func(context.Context) (*Commit, error) {
		r, err := g.open(root)
		if err != nil {
			return nil, err
		}
		c, err := g.resolveCommit(r, rev)
		if err != nil {
			return nil, err
		}
		out := toCommit(c)
		return &out, nil
	})
}

// CommitFiles lists the files a commit changed relative to its first
// parent.
func (g *Git) CommitFiles(ctx context.Context, root, sha string, opts Options) ([]FileChange, error) {
	return withTimeout(ctx, "commit files", opts, func(ctx context.Context) ([]FileChange, error) {
		r, err := g.open(root)
		if err != nil {
			return nil, err
		}
		c, err := g.resolveCommit(r, sha)
		if err != nil {
			return nil, err
		}
		tree, err := c.Tree()
		if err != nil {
			return nil, fmt.Errorf("failed to read tree of %s: %w", c.Hash, err)
		}
		var parentTree *object.Tree
		if c.NumParents() > 0 {
			parent, err := c.Parent(0)
			if err != nil {
				return nil, fmt.Errorf("failed to read parent of %s: %w", c.Hash, err)
			}
			if parentTree, err = parent.Tree(); err != nil {
				return nil, fmt.Errorf("failed to read parent tree of %s: %w", c.Hash, err)
			}
		}

		changes, err := object.DiffTreeWithOptions(ctx, parentTree, tree, object.DefaultDiffTreeOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to diff %s: %w", c.Hash, err)
		}

		files := make([]FileChange, 0, len(changes))
		for _, change := range changes {
			fc, err := toFileChange(ctx, change)
			if err != nil {
				return nil, err
			}
			files = append(files, fc)
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
		return files, nil
	})
}

func toFileChange(ctx context.Context, change *object.Change) (FileChange, error) {
	action, err := change.Action()
	if err != nil {
		return FileChange{}, err
	}
	fc := FileChange{Path: change.To.Name}
	switch action {
	case merkletrie.Insert:
		fc.Status = StatusAdded
	case merkletrie.Delete:
		fc.Status = StatusDeleted
		fc.Path = change.From.Name
	default:
		fc.Status = StatusModified
		if change.From.Name != change.To.Name {
			fc.Status = StatusRenamed
			fc.OldPath = change.From.Name
		}
	}

	patch, err := change.PatchContext(ctx)
	if err != nil {
		return FileChange{}, fmt.Errorf("failed to diff %s: %w", fc.Path, err)
	}
	for _, stat := range patch.Stats() {
		fc.Additions += stat.Addition
		fc.Deletions += stat.Deletion
	}
	return fc, nil
}

// ListContributors aggregates HEAD's history by author email, busiest first.
func (g *Git) ListContributors(ctx context.Context, root string, opts Options) ([]Contributor, error) {
	return withTimeout(ctx, "list contributors", opts, func(ctx context.Context) ([]Contributor, error) {
		r, err := g.open(root)
		if err != nil {
			return nil, err
		}
		head, err := g.resolveCommit(r, "HEAD")
		if err != nil {
			return nil, err
		}
		iter, err := r.Log(&git.LogOptions{From: head.Hash})
		if err != nil {
			return nil, fmt.Errorf("failed to read log: %w", err)
		}
		defer iter.Close()

		byEmail := make(map[string]*Contributor)
		err = iter.ForEach(func(c *object.Commit) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := strings.ToLower(c.Author.Email)
			when := c.Author.When
			entry, ok := byEmail[key]
			if !ok {
				byEmail[key] = &Contributor{
					Name:    c.Author.Name,
					Email:   c.Author.Email,
					Commits: 1,
					First:   when,
					Last:    when,
				}
				return nil
			}
			entry.Commits++
			if when.Before(entry.First) {
				entry.First = when
			}
			if when.After(entry.Last) {
				entry.Last = when
				entry.Name = c.Author.Name
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		out := make([]Contributor, 0, len(byEmail))
		for _, c := range byEmail {
			out = append(out, *c)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Commits != out[j].Commits {
				return out[i].Commits > out[j].Commits
			}
			return out[i].Email < out[j].Email
		})
		return out, nil
	})
}

// FileHistory lists commits that touched file, which may be absolute or
// relative to root.
func (g *Git) FileHistory(ctx context.Context, root, file string, limit int, opts Options) ([]Commit, error) {
	rel := file
	if filepath.IsAbs(file) {
		var err error
		rel, err = filepath.Rel(root, file)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("%s is outside repository %s", file, root)
		}
	}
	return g.ListCommits(ctx, root, CommitQuery{Path: rel, Limit: limit}, opts)
}

// ResolvePath makes path absolute against the default workspace.
func (g *Git) ResolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	base := g.DefaultRoot()
	if base == "" {
		return "", fmt.Errorf("cannot resolve %q without a default workspace", path)
	}
	return filepath.Join(base, path), nil
}

func toCommit(c *object.Commit) Commit {
	sha := c.Hash.String()
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return Commit{
		SHA:      sha,
		ShortSHA: sha[:shortSHALength],
		Subject:  subject,
		Message:  strings.TrimRight(c.Message, "\n"),
		Author: Person{
			Name:  c.Author.Name,
			Email: c.Author.Email,
			When:  c.Author.When,
		},
		Committer: Person{
			Name:  c.Committer.Name,
			Email: c.Committer.Email,
			When:  c.Committer.When,
		},
		Parents: parents,
	}
}
