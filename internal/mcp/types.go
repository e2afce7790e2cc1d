package mcp

import "github.com/1broseidon/gitshelf/internal/repo"

// RepoInput selects a repository; every tool accepts it.
type RepoInput struct {
	Repo string `json:"repo,omitempty" jsonschema:"Path inside the repository (default: the server's workspace)"`
}

// GetRepositoryOutput is the output for the get_repository tool.
type GetRepositoryOutput struct {
	Root  string     `json:"root"`
	Head  *repo.Head `json:"head,omitempty"`
	Owned bool       `json:"owned"`
	Note  string     `json:"note,omitempty"`
}

// ListStashesOutput is the output for the list_stashes tool.
type ListStashesOutput struct {
	Root    string       `json:"root"`
	Stashes []repo.Stash `json:"stashes"`
}

// GetStashInput is the input for the get_stash tool.
type GetStashInput struct {
	Repo  string `json:"repo,omitempty" jsonschema:"Path inside the repository (default: the server's workspace)"`
	Stash string `json:"stash" jsonschema:"Stash index, stash@{n} ref, or stash commit SHA"`
}

// StashDetails is the output for the get_stash tool and the stash resource.
type StashDetails struct {
	Root  string            `json:"root"`
	Stash repo.Stash        `json:"stash"`
	Files []repo.FileChange `json:"files"`
	Note  string            `json:"note,omitempty"`
}

// ListCommitsInput is the input for the list_commits tool.
type ListCommitsInput struct {
	Repo  string `json:"repo,omitempty" jsonschema:"Path inside the repository (default: the server's workspace)"`
	Ref   string `json:"ref,omitempty" jsonschema:"Revision to start from (default: HEAD)"`
	Path  string `json:"path,omitempty" jsonschema:"Only commits touching this repository-relative path"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum commits to return (default: 50, max: 500)"`
}

// CommitsOutput is the output for the list_commits and get_file_history tools.
type CommitsOutput struct {
	Root    string        `json:"root"`
	File    string        `json:"file,omitempty"`
	Commits []repo.Commit `json:"commits"`
}

// GetCommitInput is the input for the get_commit tool.
type GetCommitInput struct {
	Repo string `json:"repo,omitempty" jsonschema:"Path inside the repository (default: the server's workspace)"`
	SHA  string `json:"sha" jsonschema:"Commit SHA or revision"`
}

// CommitDetails is the output for the get_commit tool.
type CommitDetails struct {
	Root   string            `json:"root"`
	Commit *repo.Commit      `json:"commit"`
	Files  []repo.FileChange `json:"files"`
	Note   string            `json:"note,omitempty"`
}

// ListContributorsInput is the input for the list_contributors tool.
type ListContributorsInput struct {
	Repo  string `json:"repo,omitempty" jsonschema:"Path inside the repository (default: the server's workspace)"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum contributors to return (default: all)"`
}

// ContributorsOutput is the output for the list_contributors tool.
type ContributorsOutput struct {
	Root         string             `json:"root"`
	Contributors []repo.Contributor `json:"contributors"`
}

// FileInput is the input for the file history tools.
type FileInput struct {
	File  string `json:"file" jsonschema:"File path, absolute or relative to the server's workspace"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum commits to return (default: 50, max: 500)"`
}

// OpenStashViewInput is the input for the open_stash_view tool.
type OpenStashViewInput struct {
	Repo  string `json:"repo,omitempty" jsonschema:"Path inside the repository (default: the server's workspace)"`
	Index *int   `json:"index,omitempty" jsonschema:"Stash index to reveal"`
}

// OpenGraphViewInput is the input for the open_graph_view tool.
type OpenGraphViewInput struct {
	Repo string `json:"repo,omitempty" jsonschema:"Path inside the repository (default: the server's workspace)"`
	SHA  string `json:"sha,omitempty" jsonschema:"Commit to select in the graph"`
}

// OpenResult is the output of every open_* tool.
type OpenResult struct {
	CommandID string `json:"commandId"`
	Type      string `json:"type"`
	RepoRoot  string `json:"repoRoot"`
	Outcome   string `json:"outcome"`
}

// RefreshResult is the output for the refresh_views tool.
type RefreshResult struct {
	Root      string `json:"root"`
	Refreshed bool   `json:"refreshed"`
}
