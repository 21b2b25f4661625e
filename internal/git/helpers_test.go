package git

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

type testRepo struct {
	t     *testing.T
	repo  *gitlib.Repository
	wt    *gitlib.Worktree
	clock time.Time
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	repo, err := gitlib.InitWithOptions(memory.NewStorage(), memfs.New(), gitlib.InitOptions{
		DefaultBranch: plumbing.NewBranchReferenceName("main"),
	})
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	return &testRepo{
		t:     t,
		repo:  repo,
		wt:    wt,
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("", 2*60*60)),
	}
}

func (r *testRepo) service() *Service {
	return New(r.repo)
}

func (r *testRepo) write(path, content string) {
	r.t.Helper()
	if err := util.WriteFile(r.wt.Filesystem, path, []byte(content), 0o644); err != nil {
		r.t.Fatalf("write %s: %v", path, err)
	}
	if _, err := r.wt.Add(path); err != nil {
		r.t.Fatalf("add %s: %v", path, err)
	}
}

func (r *testRepo) remove(path string) {
	r.t.Helper()
	if _, err := r.wt.Remove(path); err != nil {
		r.t.Fatalf("remove %s: %v", path, err)
	}
}

func (r *testRepo) signature() *object.Signature {
	r.clock = r.clock.Add(time.Minute)
	return &object.Signature{Name: "Alice", Email: "alice@example.com", When: r.clock}
}

func (r *testRepo) commit(message string) plumbing.Hash {
	r.t.Helper()
	sig := r.signature()
	hash, err := r.wt.Commit(message, &gitlib.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		r.t.Fatalf("commit %q: %v", message, err)
	}
	return hash
}

// rawCommit stores a commit object directly, bypassing the worktree, so tests
// can build merges, skewed clocks and dangling parents.
func (r *testRepo) rawCommit(message string, when time.Time, tree plumbing.Hash, parents ...plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	sig := object.Signature{Name: "Bob", Email: "bob@example.com", When: when}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := r.repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		r.t.Fatalf("encode commit: %v", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		r.t.Fatalf("store commit: %v", err)
	}
	return hash
}

func (r *testRepo) setBranch(name string, hash plumbing.Hash) {
	r.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		r.t.Fatalf("set branch %s: %v", name, err)
	}
}

func (r *testRepo) treeOf(hash plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	c, err := r.repo.CommitObject(hash)
	if err != nil {
		r.t.Fatalf("commit %s: %v", hash, err)
	}
	return c.TreeHash
}

func drain(t *testing.T, seq CommitSeq) []Commit {
	t.Helper()
	defer seq.Close()
	var out []Commit
	for {
		c, err := seq.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out
			}
			t.Fatalf("Next() error = %v", err)
		}
		out = append(out, c)
	}
}

func commitIDs(commits []Commit) []string {
	ids := make([]string, 0, len(commits))
	for _, c := range commits {
		ids = append(ids, c.ID)
	}
	return ids
}
