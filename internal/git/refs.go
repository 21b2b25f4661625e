package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

const branchRefPrefix = "refs/heads/"

// CurrentBranch returns the short name of the branch HEAD points to.
func (s *Service) CurrentBranch() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", ErrDetachedHead
	}
	name := head.Target().Short()
	if name == "" || !utf8.ValidString(name) {
		return "", ErrDetachedHead
	}
	return name, nil
}

// LocalBranches returns the sorted short names of local branches. Names that
// are not valid UTF-8 are skipped.
func (s *Service) LocalBranches() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter, err := s.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer iter.Close()
	var branches []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if name == "" || !utf8.ValidString(name) {
			slog.Debug("skipping branch with invalid name", slog.String("ref", string(ref.Name())))
			return nil
		}
		branches = append(branches, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	slices.Sort(branches)
	return slices.Compact(branches), nil
}

// Tags returns the sorted short names of tags.
func (s *Service) Tags() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter, err := s.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer iter.Close()
	var tags []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if name := ref.Name().Short(); name != "" && utf8.ValidString(name) {
			tags = append(tags, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	slices.Sort(tags)
	return tags, nil
}

func (s *Service) Remotes() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remotes, err := s.repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("list remotes: %w", err)
	}
	names := make([]string, 0, len(remotes))
	for _, r := range remotes {
		names = append(names, r.Config().Name)
	}
	slices.Sort(names)
	return names, nil
}

// RemoteBranches connects to the named remote and returns the branch names it
// advertises. The repository lock is only held while the remote is looked
// up, so a slow remote does not stall other requests.
func (s *Service) RemoteBranches(ctx context.Context, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: remote not specified", ErrRemoteNotFound)
	}
	remote, err := func() (*gitlib.Remote, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.repo.Remote(name)
	}()
	if err != nil {
		if errors.Is(err, gitlib.ErrRemoteNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRemoteNotFound, name)
		}
		return nil, fmt.Errorf("lookup remote %s: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	slog.Debug("listing remote refs", slog.String("remote", name), slog.Duration("timeout", s.remoteTimeout))
	refs, err := remote.ListContext(ctx, &gitlib.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRemoteUnreachable, name, err)
	}
	return advertisedBranches(refs), nil
}

func advertisedBranches(refs []*plumbing.Reference) []string {
	var branches []string
	for _, ref := range refs {
		full := ref.Name().String()
		branch, ok := strings.CutPrefix(full, branchRefPrefix)
		if !ok || branch == "" {
			continue
		}
		branches = append(branches, branch)
	}
	slices.Sort(branches)
	return slices.Compact(branches)
}

// Checkout checks out the local branch name and points HEAD at it. HEAD is
// left untouched when the branch does not exist or the worktree is dirty.
func (s *Service) Checkout(name string) error {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, branchRefPrefix)
	if name == "" {
		return fmt.Errorf("%w: branch not specified", ErrRevisionNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	refName := plumbing.NewBranchReferenceName(name)
	if _, err := s.repo.Reference(refName, true); err != nil {
		return fmt.Errorf("%w: heads/%s: %w", ErrRevisionNotFound, name, err)
	}
	wt, err := s.repo.Worktree()
	if err != nil {
		if errors.Is(err, gitlib.ErrIsBareRepository) {
			return ErrNoWorktree
		}
		return fmt.Errorf("open worktree: %w", err)
	}
	dirty, err := hasTrackedChanges(wt)
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w: checkout %s", ErrDirtyWorktree, name)
	}
	prev, err := s.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	if err := wt.Checkout(&gitlib.CheckoutOptions{Branch: refName}); err != nil {
		// go-git moves HEAD before resetting the worktree.
		if restoreErr := s.repo.Storer.SetReference(prev); restoreErr != nil {
			slog.Error("restore HEAD after failed checkout", slog.Any("error", restoreErr))
		}
		if errors.Is(err, gitlib.ErrUnstagedChanges) {
			return fmt.Errorf("%w: checkout %s", ErrDirtyWorktree, name)
		}
		return fmt.Errorf("checkout %s: %w", name, err)
	}
	slog.Info("checked out branch", slog.String("branch", name))
	return nil
}

// hasTrackedChanges reports staged or unstaged changes to tracked files.
// Untracked files do not block a checkout.
func hasTrackedChanges(wt *gitlib.Worktree) (bool, error) {
	status, err := wt.Status()
	if err != nil {
		return false, err
	}
	for _, st := range status {
		if st.Worktree == gitlib.Untracked && st.Staging == gitlib.Untracked {
			continue
		}
		if st.Worktree != gitlib.Unmodified || st.Staging != gitlib.Unmodified {
			return true, nil
		}
	}
	return false, nil
}
