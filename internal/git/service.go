package git

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const DefaultRemoteTimeout = 10 * time.Second

type Service struct {
	// mu serializes every operation against the repository so a checkout is
	// never observed half-applied.
	mu sync.Mutex

	repo *gitlib.Repository
	path string

	remoteTimeout time.Duration
	matcher       Matcher
}

type Option func(*Service)

// WithRemoteTimeout bounds the network handshake done by RemoteBranches.
func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.remoteTimeout = d
		}
	}
}

// WithMatcher replaces the fuzzy matcher used to filter commit messages.
func WithMatcher(m Matcher) Option {
	return func(s *Service) {
		if m != nil {
			s.matcher = m
		}
	}
}

func Open(repoPath string, opts ...Option) (*Service, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepositoryOpen, err)
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrRepositoryOpen, abs, err)
	}
	svc := New(repo, opts...)
	if wt, err := repo.Worktree(); err == nil {
		svc.path = wt.Filesystem.Root()
	} else {
		svc.path = abs
	}
	return svc, nil
}

// New wraps an already opened repository.
func New(repo *gitlib.Repository, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		remoteTimeout: DefaultRemoteTimeout,
		matcher:       defaultMatcher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) RepoPath() string {
	return s.path
}

func (s *Service) resolveLocked(rev string) (*object.Commit, error) {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return nil, fmt.Errorf("%w: empty revision", ErrRevisionNotFound)
	}
	hash, err := s.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrRevisionNotFound, rev, err)
	}
	commit, err := s.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrCommitNotFound, hash, err)
	}
	return commit, nil
}

func (s *Service) commitLocked(sha string) (*object.Commit, error) {
	sha = strings.TrimSpace(sha)
	if sha == "" {
		return nil, fmt.Errorf("%w: commit not specified", ErrCommitNotFound)
	}
	hash, err := s.repo.ResolveRevision(plumbing.Revision(sha))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrCommitNotFound, sha, err)
	}
	commit, err := s.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrCommitNotFound, hash, err)
	}
	return commit, nil
}

// Commit returns the summary of a single commit.
func (s *Service) Commit(sha string) (Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.commitLocked(sha)
	if err != nil {
		return Commit{}, err
	}
	return newCommit(c), nil
}

func newCommit(c *object.Commit) Commit {
	message := c.Message
	if !utf8.ValidString(message) {
		message = UnreadableMessage
	}
	summary, body, _ := strings.Cut(strings.TrimSpace(message), "\n")
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return Commit{
		ID:        c.Hash.String(),
		Summary:   strings.TrimSpace(summary),
		Body:      strings.TrimSpace(body),
		Author:    formatSignature(c.Author),
		Date:      newCommitDate(c.Committer.When),
		ParentIDs: parents,
	}
}

func missingCommit(hash plumbing.Hash) Commit {
	return Commit{ID: hash.String(), Summary: MissingCommitMessage}
}

func formatSignature(sig object.Signature) string {
	switch {
	case sig.Email == "":
		return sig.Name
	case sig.Name == "":
		return "<" + sig.Email + ">"
	default:
		return fmt.Sprintf("%s <%s>", sig.Name, sig.Email)
	}
}
