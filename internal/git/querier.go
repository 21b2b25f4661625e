package git

import "context"

// Querier is the read and checkout surface of a repository.
//
// Service re-reads the repository on every call; the interface lets a
// caching layer sit in front of it without changing callers.
type Querier interface {
	RepoPath() string

	CurrentBranch() (string, error)
	LocalBranches() ([]string, error)
	Tags() ([]string, error)
	Remotes() ([]string, error)
	RemoteBranches(ctx context.Context, remote string) ([]string, error)
	Checkout(branch string) error

	Commit(sha string) (Commit, error)
	ListCommits(ref, filter string) (CommitSeq, error)
	CommitPage(ref, filter string, page int) ([]Commit, bool, error)

	CommitDiff(sha string, ignoreWhitespace bool) ([]DiffFileItem, error)

	PathKind(sha, path string) (PathKind, error)
	FileContent(sha, path string) (string, error)
	FileList(sha, sub string) ([]CommitFile, error)
	Readme(sha string) (name, content string, ok bool, err error)
}

var _ Querier = (*Service)(nil)
