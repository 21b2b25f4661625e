package git

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const DefaultPageSize = 100

// CommitSeq is a sequence of commits returned by ListCommits. Next returns
// io.EOF once the sequence is exhausted.
type CommitSeq interface {
	Next() (Commit, error)
	Close()
}

// ListCommits walks the history reachable from ref in reverse chronological
// topological order. An empty filter disables filtering: the commit graph is
// loaded up front and each Commit is built on Next. Otherwise only commits
// whose message fuzzy matches filter are returned, best match first.
func (s *Service) ListCommits(ref string, filter string) (CommitSeq, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, err := s.resolveLocked(ref)
	if err != nil {
		return nil, err
	}
	walk, err := newTopoWalk(s.repo, start.Hash)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		slog.Debug("ListCommits unfiltered",
			slog.String("ref", ref),
			slog.Int("reachable", len(walk.nodes)),
		)
		return &topoSeq{svc: s, walk: walk}, nil
	}
	ranked := s.rankLocked(walk, filter)
	slog.Debug("ListCommits filtered",
		slog.String("ref", ref),
		slog.String("filter", filter),
		slog.Int("matched", len(ranked)),
	)
	return &rankedSeq{commits: ranked}, nil
}

// rankLocked drains the walk keeping commits whose message matches filter.
// Missing commit objects and unreadable messages never match.
func (s *Service) rankLocked(walk *topoWalk, filter string) []Commit {
	var ranked []Commit
	for {
		node, ok := walk.pop()
		if !ok {
			break
		}
		if node.missing {
			continue
		}
		c, err := s.repo.CommitObject(node.hash)
		if err != nil {
			slog.Debug("dropping unreadable commit", slog.String("hash", node.hash.String()), slog.Any("error", err))
			continue
		}
		if !utf8.ValidString(c.Message) {
			continue
		}
		score, ok := s.matcher.Score(filter, c.Message)
		if !ok {
			continue
		}
		commit := newCommit(c)
		commit.Score = score
		ranked = append(ranked, commit)
	}
	slices.SortStableFunc(ranked, func(a, b Commit) int {
		return b.Score - a.Score
	})
	return ranked
}

type topoSeq struct {
	svc  *Service
	walk *topoWalk
}

func (t *topoSeq) Next() (Commit, error) {
	t.svc.mu.Lock()
	defer t.svc.mu.Unlock()

	if t.walk == nil {
		return Commit{}, io.EOF
	}
	node, ok := t.walk.pop()
	if !ok {
		return Commit{}, io.EOF
	}
	if node.missing {
		return missingCommit(node.hash), nil
	}
	c, err := t.svc.repo.CommitObject(node.hash)
	if err != nil {
		slog.Debug("placeholder for unreadable commit", slog.String("hash", node.hash.String()), slog.Any("error", err))
		return missingCommit(node.hash), nil
	}
	return newCommit(c), nil
}

func (t *topoSeq) Close() {
	t.walk = nil
}

type rankedSeq struct {
	commits []Commit
	pos     int
}

func (r *rankedSeq) Next() (Commit, error) {
	if r.pos >= len(r.commits) {
		return Commit{}, io.EOF
	}
	c := r.commits[r.pos]
	r.pos++
	return c, nil
}

func (r *rankedSeq) Close() {
	r.commits = nil
	r.pos = 0
}

type graphNode struct {
	hash    plumbing.Hash
	parents []plumbing.Hash
	when    int64
	// pending counts children in the reachable set not yet emitted.
	pending int
	missing bool
	seq     int
}

// topoWalk releases a commit only after all of its reachable children were
// released. Among ready commits the most recent committer time goes first.
type topoWalk struct {
	nodes map[plumbing.Hash]*graphNode
	ready *binaryheap.Heap
}

type commitLoader interface {
	CommitObject(plumbing.Hash) (*object.Commit, error)
}

func newTopoWalk(repo commitLoader, start plumbing.Hash) (*topoWalk, error) {
	nodes := make(map[plumbing.Hash]*graphNode)
	stack := []plumbing.Hash{start}
	for len(stack) > 0 {
		hash := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := nodes[hash]; ok {
			continue
		}
		node := &graphNode{hash: hash, seq: len(nodes)}
		nodes[hash] = node
		c, err := repo.CommitObject(hash)
		if err != nil {
			if hash == start {
				return nil, fmt.Errorf("%w %s: %w", ErrCommitNotFound, hash, err)
			}
			node.missing = true
			continue
		}
		node.when = c.Committer.When.Unix()
		for _, p := range c.ParentHashes {
			if slices.Contains(node.parents, p) {
				continue
			}
			node.parents = append(node.parents, p)
			stack = append(stack, p)
		}
	}
	for _, node := range nodes {
		for _, p := range node.parents {
			nodes[p].pending++
		}
	}
	ready := binaryheap.NewWith(func(a, b interface{}) int {
		x, y := a.(*graphNode), b.(*graphNode)
		switch {
		case x.when != y.when:
			if x.when > y.when {
				return -1
			}
			return 1
		default:
			return x.seq - y.seq
		}
	})
	ready.Push(nodes[start])
	return &topoWalk{nodes: nodes, ready: ready}, nil
}

func (w *topoWalk) pop() (*graphNode, bool) {
	v, ok := w.ready.Pop()
	if !ok {
		return nil, false
	}
	node := v.(*graphNode)
	for _, p := range node.parents {
		parent := w.nodes[p]
		parent.pending--
		if parent.pending == 0 {
			w.ready.Push(parent)
		}
	}
	return node, true
}

// Page consumes seq, skipping page*size commits and returning the next size
// commits. hasMore reports whether further commits follow. seq is closed.
func Page(seq CommitSeq, page, size int) (commits []Commit, hasMore bool, err error) {
	defer seq.Close()
	if size <= 0 {
		size = DefaultPageSize
	}
	if page < 0 {
		page = 0
	}
	if page > math.MaxInt/size {
		return []Commit{}, false, nil
	}
	for range page * size {
		if _, err := seq.Next(); err != nil {
			if err == io.EOF {
				return []Commit{}, false, nil
			}
			return nil, false, err
		}
	}
	commits = make([]Commit, 0, size)
	for len(commits) < size {
		c, err := seq.Next()
		if err != nil {
			if err == io.EOF {
				return commits, false, nil
			}
			return nil, false, err
		}
		commits = append(commits, c)
	}
	if _, err := seq.Next(); err == nil {
		hasMore = true
	} else if err != io.EOF {
		return nil, false, err
	}
	return commits, hasMore, nil
}

// ParsePage parses a zero-indexed page number. Invalid input yields page 0.
func ParsePage(raw string) int {
	page, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || page < 0 {
		return 0
	}
	return page
}

// CommitPage lists one page of commits reachable from ref.
func (s *Service) CommitPage(ref, filter string, page int) ([]Commit, bool, error) {
	seq, err := s.ListCommits(ref, filter)
	if err != nil {
		return nil, false, err
	}
	return Page(seq, page, DefaultPageSize)
}
