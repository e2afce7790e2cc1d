package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/1broseidon/gitshelf/internal/command"
	"github.com/1broseidon/gitshelf/internal/repo"
)

const (
	defaultCommitLimit = 50
	maxCommitLimit     = 500
)

func (d *Dispatcher) registerTools() {
	register(d, "get_repository",
		"Resolve the repository root and report the checked-out branch and HEAD commit.",
		d.getRepository)
	register(d, "list_stashes",
		"List the repository's stash entries, newest first.",
		d.listStashes)
	register(d, "get_stash",
		"Show one stash entry with the files it changes. The file list is best effort and may be empty with a note when git is slow.",
		d.getStash)
	register(d, "list_commits",
		"List commits reachable from a revision, newest first. Optionally restrict to a path.",
		d.listCommits)
	register(d, "get_commit",
		"Show a commit with the files it changes. The file list is best effort and may be empty with a note when git is slow.",
		d.getCommit)
	register(d, "list_contributors",
		"List commit authors with commit counts and first/last commit dates.",
		d.listContributors)
	register(d, "get_file_history",
		"List the commits that touched a file.",
		d.getFileHistory)
	register(d, "open_stash_view",
		"Open the stash view in the window that owns the repository, optionally revealing one stash.",
		d.openStashView)
	register(d, "open_graph_view",
		"Open the commit graph in the window that owns the repository, optionally selecting a commit.",
		d.openGraphView)
	register(d, "open_commit_details",
		"Open the details view for a commit in the window that owns the repository.",
		d.openCommitDetails)
	register(d, "open_file_history",
		"Open the history view for a file in the window that owns its repository.",
		d.openFileHistory)
	register(d, "open_contributors_view",
		"Open the contributors view in the window that owns the repository.",
		d.openContributorsView)
	register(d, "refresh_views",
		"Ask the host application to refresh its views of the repository.",
		d.refreshViews)
}

func (d *Dispatcher) root(ctx context.Context, path string) (string, error) {
	return d.svc.ResolveRoot(ctx, strings.TrimSpace(path), d.listing())
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultCommitLimit
	case limit > maxCommitLimit:
		return maxCommitLimit
	default:
		return limit
	}
}

func (d *Dispatcher) getRepository(ctx context.Context, in RepoInput) (any, error) {
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	out := GetRepositoryOutput{Root: root}
	if d.owners != nil {
		out.Owned = d.owners.Owns(root)
	}
	head, err := d.svc.Head(ctx, root, d.listing())
	switch {
	case err == nil:
		out.Head = head
	case errors.Is(err, repo.ErrNotFound):
		out.Note = "repository has no commits yet"
	default:
		return nil, err
	}
	return out, nil
}

func (d *Dispatcher) listStashes(ctx context.Context, in RepoInput) (any, error) {
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	stashes, err := d.svc.ListStashes(ctx, root, d.listing())
	if err != nil {
		return nil, err
	}
	if stashes == nil {
		stashes = []repo.Stash{}
	}
	return ListStashesOutput{Root: root, Stashes: stashes}, nil
}

func (d *Dispatcher) getStash(ctx context.Context, in GetStashInput) (any, error) {
	if strings.TrimSpace(in.Stash) == "" {
		return nil, errors.New("stash is required")
	}
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	details, err := d.stashDetails(ctx, root, in.Stash)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, fmt.Errorf("stash %q not found", in.Stash)
	}
	return details, nil
}

// stashDetails returns nil, nil when id matches no stash.
func (d *Dispatcher) stashDetails(ctx context.Context, root, id string) (*StashDetails, error) {
	stashes, err := d.svc.ListStashes(ctx, root, d.listing())
	if err != nil {
		return nil, err
	}
	stash, ok := findStash(stashes, id)
	if !ok {
		return nil, nil
	}

	out := &StashDetails{Root: root, Stash: stash, Files: []repo.FileChange{}}
	files, err := d.svc.StashFiles(ctx, root, stash.SHA, d.details())
	if err != nil {
		out.Note = "file list unavailable: " + err.Error()
		d.log.WithError(err).WithField("stash", stash.Ref).Debug("Returning stash without files")
		return out, nil
	}
	if files != nil {
		out.Files = files
	}
	return out, nil
}

func findStash(stashes []repo.Stash, id string) (repo.Stash, bool) {
	id = strings.TrimSpace(id)
	for _, s := range stashes {
		if s.Ref == id || fmt.Sprint(s.Index) == id {
			return s, true
		}
	}
	if len(id) >= 4 {
		for _, s := range stashes {
			if strings.HasPrefix(s.SHA, strings.ToLower(id)) {
				return s, true
			}
		}
	}
	return repo.Stash{}, false
}

func (d *Dispatcher) listCommits(ctx context.Context, in ListCommitsInput) (any, error) {
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	commits, err := d.svc.ListCommits(ctx, root, repo.CommitQuery{
		Ref:   in.Ref,
		Path:  in.Path,
		Limit: clampLimit(in.Limit),
	}, d.listing())
	if err != nil {
		return nil, err
	}
	if commits == nil {
		commits = []repo.Commit{}
	}
	return CommitsOutput{Root: root, Commits: commits}, nil
}

func (d *Dispatcher) getCommit(ctx context.Context, in GetCommitInput) (any, error) {
	if strings.TrimSpace(in.SHA) == "" {
		return nil, errors.New("sha is required")
	}
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	commit, err := d.svc.GetCommit(ctx, root, in.SHA, d.general())
	if err != nil {
		return nil, err
	}

	out := CommitDetails{Root: root, Commit: commit, Files: []repo.FileChange{}}
	files, err := d.svc.CommitFiles(ctx, root, commit.SHA, d.details())
	if err != nil {
		out.Note = "file list unavailable: " + err.Error()
		d.log.WithError(err).WithField("sha", commit.ShortSHA).Debug("Returning commit without files")
		return out, nil
	}
	if files != nil {
		out.Files = files
	}
	return out, nil
}

func (d *Dispatcher) listContributors(ctx context.Context, in ListContributorsInput) (any, error) {
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	contributors, err := d.svc.ListContributors(ctx, root, d.general())
	if err != nil {
		return nil, err
	}
	if in.Limit > 0 && len(contributors) > in.Limit {
		contributors = contributors[:in.Limit]
	}
	if contributors == nil {
		contributors = []repo.Contributor{}
	}
	return ContributorsOutput{Root: root, Contributors: contributors}, nil
}

// fileRoot resolves file against the default workspace and finds the
// repository that contains it.
func (d *Dispatcher) fileRoot(ctx context.Context, file string) (abs, root string, err error) {
	abs, err = d.svc.ResolvePath(file)
	if err != nil {
		return "", "", err
	}
	root, err = d.root(ctx, filepath.Dir(abs))
	if err != nil {
		return "", "", err
	}
	return abs, root, nil
}

func (d *Dispatcher) getFileHistory(ctx context.Context, in FileInput) (any, error) {
	abs, root, err := d.fileRoot(ctx, in.File)
	if err != nil {
		return nil, err
	}
	commits, err := d.svc.FileHistory(ctx, root, abs, clampLimit(in.Limit), d.general())
	if err != nil {
		return nil, err
	}
	if commits == nil {
		commits = []repo.Commit{}
	}
	return CommitsOutput{Root: root, File: abs, Commits: commits}, nil
}

// open routes a UI command for root and reports where it went.
func (d *Dispatcher) open(ctx context.Context, tool string, kind command.Kind, root string, payload map[string]any) (any, error) {
	if d.router == nil {
		return nil, fmt.Errorf("%s is %w", tool, ErrUnsupported)
	}
	cmd, err := command.New(kind, root, payload)
	if err != nil {
		return nil, err
	}
	outcome, err := d.router.Route(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return OpenResult{
		CommandID: cmd.ID,
		Type:      string(cmd.Kind),
		RepoRoot:  cmd.RepoRoot,
		Outcome:   outcome.String(),
	}, nil
}

func (d *Dispatcher) openStashView(ctx context.Context, in OpenStashViewInput) (any, error) {
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{}
	if in.Index != nil {
		if *in.Index < 0 {
			return nil, fmt.Errorf("stash index %d is negative", *in.Index)
		}
		payload["index"] = *in.Index
	}
	return d.open(ctx, "open_stash_view", command.KindOpenStashView, root, payload)
}

func (d *Dispatcher) openGraphView(ctx context.Context, in OpenGraphViewInput) (any, error) {
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{}
	if sha := strings.TrimSpace(in.SHA); sha != "" {
		payload["sha"] = sha
	}
	return d.open(ctx, "open_graph_view", command.KindOpenGraphView, root, payload)
}

func (d *Dispatcher) openCommitDetails(ctx context.Context, in GetCommitInput) (any, error) {
	sha := strings.TrimSpace(in.SHA)
	if sha == "" {
		return nil, errors.New("sha is required")
	}
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	return d.open(ctx, "open_commit_details", command.KindOpenCommitDetails, root, map[string]any{"sha": sha})
}

func (d *Dispatcher) openFileHistory(ctx context.Context, in FileInput) (any, error) {
	abs, root, err := d.fileRoot(ctx, in.File)
	if err != nil {
		return nil, err
	}
	return d.open(ctx, "open_file_history", command.KindOpenFileHistory, root, map[string]any{"file": abs})
}

func (d *Dispatcher) openContributorsView(ctx context.Context, in RepoInput) (any, error) {
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	return d.open(ctx, "open_contributors_view", command.KindOpenContributorsView, root, nil)
}

func (d *Dispatcher) refreshViews(ctx context.Context, in RepoInput) (any, error) {
	refresher, ok := d.host.(ViewRefresher)
	if !ok {
		return nil, fmt.Errorf("refresh_views is %w", ErrUnsupported)
	}
	root, err := d.root(ctx, in.Repo)
	if err != nil {
		return nil, err
	}
	if err := refresher.RefreshViews(ctx, root); err != nil {
		return nil, err
	}
	return RefreshResult{Root: root, Refreshed: true}, nil
}
