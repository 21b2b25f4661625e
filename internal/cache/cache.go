package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/thiagokokada/gitk-web/internal/git"
)

const DefaultSize = 512

// Querier memoizes a git.Querier in memory.
//
// Results addressed by a full commit hash never change and stay cached until
// evicted. Results that depend on where refs point are dropped by
// Invalidate, which the repository watcher calls on every change. Without a
// running watcher DisableRefCache must be called so those results are always
// read from the repository.
type Querier struct {
	next git.Querier

	objects *lru.Cache[string, any]
	refs    *lru.Cache[string, any]
	noRefs  atomic.Bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ git.Querier = (*Querier)(nil)

func New(next git.Querier, size int) (*Querier, error) {
	if size <= 0 {
		size = DefaultSize
	}
	objects, err := lru.New[string, any](size)
	if err != nil {
		return nil, fmt.Errorf("object cache: %w", err)
	}
	refs, err := lru.New[string, any](size)
	if err != nil {
		return nil, fmt.Errorf("ref cache: %w", err)
	}
	return &Querier{next: next, objects: objects, refs: refs}, nil
}

// Invalidate drops every ref dependent entry.
func (q *Querier) Invalidate() {
	n := q.refs.Len()
	q.refs.Purge()
	slog.Debug("cache invalidated", slog.Int("entries", n))
}

// DisableRefCache stops caching ref dependent results and drops the ones
// already cached. Hash addressed results are still cached.
func (q *Querier) DisableRefCache() {
	if q.noRefs.Swap(true) {
		return
	}
	q.refs.Purge()
	slog.Info("ref cache disabled")
}

// Stats returns the number of cache hits and misses so far.
func (q *Querier) Stats() (hits, misses uint64) {
	return q.hits.Load(), q.misses.Load()
}

type result[V any] struct {
	value V
}

func load[V any](q *Querier, c *lru.Cache[string, any], key string, fn func() (V, error)) (V, error) {
	if c == q.refs && q.noRefs.Load() {
		return fn()
	}
	if v, ok := c.Get(key); ok {
		q.hits.Add(1)
		return v.(result[V]).value, nil
	}
	q.misses.Add(1)
	v, err := fn()
	if err != nil {
		return v, err
	}
	c.Add(key, result[V]{value: v})
	return v, nil
}

// isFullHash reports whether sha names an object directly. Abbreviated
// hashes and ref names may resolve differently later.
func isFullHash(sha string) bool {
	if len(sha) != 40 {
		return false
	}
	for _, r := range sha {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

func key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

func (q *Querier) RepoPath() string {
	return q.next.RepoPath()
}

func (q *Querier) CurrentBranch() (string, error) {
	return load(q, q.refs, key("head"), q.next.CurrentBranch)
}

func (q *Querier) LocalBranches() ([]string, error) {
	return load(q, q.refs, key("branches"), q.next.LocalBranches)
}

func (q *Querier) Tags() ([]string, error) {
	return load(q, q.refs, key("tags"), q.next.Tags)
}

func (q *Querier) Remotes() ([]string, error) {
	return load(q, q.refs, key("remotes"), q.next.Remotes)
}

// RemoteBranches always asks the remote.
func (q *Querier) RemoteBranches(ctx context.Context, remote string) ([]string, error) {
	return q.next.RemoteBranches(ctx, remote)
}

func (q *Querier) Checkout(branch string) error {
	defer q.Invalidate()
	return q.next.Checkout(branch)
}

func (q *Querier) Commit(sha string) (git.Commit, error) {
	if !isFullHash(sha) {
		return q.next.Commit(sha)
	}
	return load(q, q.objects, key("commit", sha), func() (git.Commit, error) {
		return q.next.Commit(sha)
	})
}

// ListCommits is not cached; a sequence is consumed once.
func (q *Querier) ListCommits(ref, filter string) (git.CommitSeq, error) {
	return q.next.ListCommits(ref, filter)
}

func (q *Querier) CommitPage(ref, filter string, page int) ([]git.Commit, bool, error) {
	type pageResult struct {
		commits []git.Commit
		hasMore bool
	}
	c := q.refs
	if isFullHash(ref) {
		c = q.objects
	}
	r, err := load(q, c, key("page", ref, filter, fmt.Sprint(page)), func() (pageResult, error) {
		commits, hasMore, err := q.next.CommitPage(ref, filter, page)
		return pageResult{commits: commits, hasMore: hasMore}, err
	})
	return r.commits, r.hasMore, err
}

func (q *Querier) CommitDiff(sha string, ignoreWhitespace bool) ([]git.DiffFileItem, error) {
	if !isFullHash(sha) {
		return q.next.CommitDiff(sha, ignoreWhitespace)
	}
	return load(q, q.objects, key("diff", sha, fmt.Sprint(ignoreWhitespace)), func() ([]git.DiffFileItem, error) {
		return q.next.CommitDiff(sha, ignoreWhitespace)
	})
}

func (q *Querier) PathKind(sha, path string) (git.PathKind, error) {
	if !isFullHash(sha) {
		return q.next.PathKind(sha, path)
	}
	return load(q, q.objects, key("kind", sha, path), func() (git.PathKind, error) {
		return q.next.PathKind(sha, path)
	})
}

func (q *Querier) FileContent(sha, path string) (string, error) {
	if !isFullHash(sha) {
		return q.next.FileContent(sha, path)
	}
	return load(q, q.objects, key("blob", sha, path), func() (string, error) {
		return q.next.FileContent(sha, path)
	})
}

func (q *Querier) FileList(sha, sub string) ([]git.CommitFile, error) {
	if !isFullHash(sha) {
		return q.next.FileList(sha, sub)
	}
	return load(q, q.objects, key("tree", sha, sub), func() ([]git.CommitFile, error) {
		return q.next.FileList(sha, sub)
	})
}

func (q *Querier) Readme(sha string) (name, content string, ok bool, err error) {
	type readme struct {
		name, content string
		ok            bool
	}
	fetch := func() (readme, error) {
		name, content, ok, err := q.next.Readme(sha)
		return readme{name: name, content: content, ok: ok}, err
	}
	var r readme
	if isFullHash(sha) {
		r, err = load(q, q.objects, key("readme", sha), fetch)
	} else {
		r, err = fetch()
	}
	return r.name, r.content, r.ok, err
}
