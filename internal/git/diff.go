package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	diffContextLines = 3
	noNewlineMarker  = `\ No newline at end of file`
)

// CommitDiff diffs sha against its first parent and folds the patch lines
// into files and hunks.
func (s *Service) CommitDiff(sha string, ignoreWhitespace bool) ([]DiffFileItem, error) {
	lines, err := s.DiffLines(sha, ignoreWhitespace)
	if err != nil {
		return nil, err
	}
	return Fold(lines), nil
}

// DiffLines renders the diff between sha and its first parent as a flat
// sequence of patch lines.
func (s *Service) DiffLines(sha string, ignoreWhitespace bool) ([]DiffLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commit, err := s.commitLocked(sha)
	if err != nil {
		return nil, err
	}
	if commit.NumParents() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoParentCommit, commit.Hash)
	}
	parent, err := commit.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("%w: parent of %s: %w", ErrCommitNotFound, commit.Hash, err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", parent.Hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", commit.Hash, err)
	}
	changes, err := object.DiffTreeWithOptions(context.Background(), parentTree, tree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", parent.Hash, commit.Hash, err)
	}
	slices.SortStableFunc(changes, func(a, b *object.Change) int {
		return strings.Compare(changePath(a), changePath(b))
	})
	copies := newCopyDetector(parentTree, tree)

	var lines []DiffLine
	for _, change := range changes {
		kind, oldPath, newPath, err := classifyChange(change, copies)
		if err != nil {
			return nil, err
		}
		lines = append(lines, DiffLine{
			Content: deltaLabel(kind, oldPath, newPath),
			Op:      OpFileHeader,
			Path:    newPath,
		})
		body, err := changeBody(change, oldPath, newPath, ignoreWhitespace)
		if err != nil {
			return nil, err
		}
		lines = append(lines, body...)
	}
	slog.Debug("DiffLines done",
		slog.String("commit", commit.Hash.String()),
		slog.Int("files", len(changes)),
		slog.Int("lines", len(lines)),
		slog.Bool("ignore_whitespace", ignoreWhitespace),
	)
	return lines, nil
}

func changePath(ch *object.Change) string {
	if ch.To.Name != "" {
		return ch.To.Name
	}
	return ch.From.Name
}

func classifyChange(ch *object.Change, copies *copyDetector) (kind DeltaKind, oldPath, newPath string, err error) {
	action, err := ch.Action()
	if err != nil {
		return DeltaUnknown, "", "", fmt.Errorf("classify change %s: %w", changePath(ch), err)
	}
	oldPath, newPath = ch.From.Name, ch.To.Name
	switch action {
	case merkletrie.Insert:
		oldPath = newPath
		src, ok, err := copies.source(ch.To)
		if err != nil {
			return DeltaUnknown, "", "", fmt.Errorf("detect copy of %s: %w", newPath, err)
		}
		if ok {
			return DeltaCopied, src, newPath, nil
		}
		return DeltaAdded, oldPath, newPath, nil
	case merkletrie.Delete:
		newPath = oldPath
		return DeltaDeleted, oldPath, newPath, nil
	case merkletrie.Modify:
		if oldPath != newPath {
			return DeltaRenamed, oldPath, newPath, nil
		}
		return DeltaModified, oldPath, newPath, nil
	default:
		return DeltaUnknown, oldPath, newPath, nil
	}
}

// deltaLabel is the human readable file header text for a change.
func deltaLabel(kind DeltaKind, oldPath, newPath string) string {
	switch kind {
	case DeltaAdded, DeltaDeleted, DeltaModified, DeltaIgnored, DeltaConflicted:
		return fmt.Sprintf("[%s] %s", kind, newPath)
	case DeltaRenamed, DeltaCopied:
		return fmt.Sprintf("[%s] %s -> %s", kind, oldPath, newPath)
	default:
		return newPath
	}
}

// copyDetector finds added files whose content already exists, unchanged, at
// another path of the parent tree.
type copyDetector struct {
	parent, current *object.Tree
	blobs           map[plumbing.Hash]string
}

func newCopyDetector(parent, current *object.Tree) *copyDetector {
	return &copyDetector{parent: parent, current: current}
}

func (c *copyDetector) source(entry object.ChangeEntry) (string, bool, error) {
	if c == nil || c.parent == nil || !entry.TreeEntry.Mode.IsFile() {
		return "", false, nil
	}
	if c.blobs == nil {
		blobs := make(map[plumbing.Hash]string)
		err := c.parent.Files().ForEach(func(f *object.File) error {
			if _, ok := blobs[f.Hash]; !ok {
				blobs[f.Hash] = f.Name
			}
			return nil
		})
		if err != nil {
			return "", false, fmt.Errorf("read parent tree: %w", err)
		}
		c.blobs = blobs
	}
	src, ok := c.blobs[entry.TreeEntry.Hash]
	if !ok || src == entry.Name {
		return "", false, nil
	}
	current, err := c.current.FindEntry(src)
	if errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find %s: %w", src, err)
	}
	return src, current.Hash == entry.TreeEntry.Hash, nil
}

func changeBody(ch *object.Change, oldPath, newPath string, ignoreWhitespace bool) ([]DiffLine, error) {
	if ch.From.TreeEntry.Mode == filemode.Submodule || ch.To.TreeEntry.Mode == filemode.Submodule {
		return nil, nil
	}
	from, to, err := ch.Files()
	if err != nil {
		return nil, fmt.Errorf("read files of %s: %w", changePath(ch), err)
	}
	if binary, err := anyBinary(from, to); err != nil {
		return nil, fmt.Errorf("inspect %s: %w", changePath(ch), err)
	} else if binary {
		return []DiffLine{{
			Content: fmt.Sprintf("Binary files a/%s and b/%s differ", oldPath, newPath),
			Op:      OpBinary,
		}}, nil
	}
	oldText, err := fileText(from)
	if err != nil {
		return nil, err
	}
	newText, err := fileText(to)
	if err != nil {
		return nil, err
	}
	return hunkLines(oldText, newText, ignoreWhitespace), nil
}

func anyBinary(files ...*object.File) (bool, error) {
	for _, f := range files {
		if f == nil {
			continue
		}
		bin, err := f.IsBinary()
		if err != nil {
			return false, err
		}
		if bin {
			return true, nil
		}
	}
	return false, nil
}

func fileText(f *object.File) (string, error) {
	if f == nil {
		return "", nil
	}
	content, err := f.Contents()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: %s", ErrInvalidUTF8, f.Name)
	}
	return content, nil
}

// hunkLines computes unified hunks between two texts. With ignoreWhitespace
// lines are compared with all whitespace removed but rendered verbatim.
func hunkLines(oldText, newText string, ignoreWhitespace bool) []DiffLine {
	a, b := splitLines(oldText), splitLines(newText)
	m := difflib.NewMatcherWithJunk(compareKeys(a, ignoreWhitespace), compareKeys(b, ignoreWhitespace), false, nil)

	var out []DiffLine
	emit := func(line DiffLine, raw string, last bool) {
		line.Content = strings.TrimSuffix(raw, "\n")
		out = append(out, line)
		if last && !strings.HasSuffix(raw, "\n") {
			out = append(out, DiffLine{Content: noNewlineMarker, Op: eofOp(line.Op)})
		}
	}
	for _, group := range m.GetGroupedOpCodes(diffContextLines) {
		if onlyEqual(group) {
			continue
		}
		first, last := group[0], group[len(group)-1]
		out = append(out, DiffLine{
			Content: fmt.Sprintf("@@ -%s +%s @@", unifiedRange(first.I1, last.I2), unifiedRange(first.J1, last.J2)),
			Op:      OpHunkHeader,
		})
		for _, op := range group {
			switch op.Tag {
			case 'e':
				for k := 0; k < op.I2-op.I1; k++ {
					i, j := op.I1+k, op.J1+k
					// Context shows the new side; both sides end together only
					// when both lines are the last ones.
					raw := b[j]
					lastLine := i == len(a)-1 && j == len(b)-1
					if lastLine && strings.HasSuffix(a[i], "\n") != strings.HasSuffix(b[j], "\n") {
						lastLine = false
					}
					emit(DiffLine{Op: OpContext, OldLine: i + 1, NewLine: j + 1}, raw, lastLine)
				}
			case 'r', 'd', 'i':
				for i := op.I1; i < op.I2; i++ {
					emit(DiffLine{Op: OpDeletion, OldLine: i + 1}, a[i], i == len(a)-1)
				}
				for j := op.J1; j < op.J2; j++ {
					emit(DiffLine{Op: OpAddition, NewLine: j + 1}, b[j], j == len(b)-1)
				}
			}
		}
	}
	return out
}

// eofOp mirrors git's origin for the "no newline" marker, which depends on
// the line it follows.
func eofOp(prev DiffOp) DiffOp {
	switch prev {
	case OpAddition:
		return OpDeletionEOF
	case OpDeletion:
		return OpAdditionEOF
	default:
		return OpContextEOF
	}
}

func onlyEqual(group []difflib.OpCode) bool {
	for _, op := range group {
		if op.Tag != 'e' {
			return false
		}
	}
	return true
}

func unifiedRange(start, stop int) string {
	beginning := start + 1
	length := stop - start
	if length == 1 {
		return strconv.Itoa(beginning)
	}
	if length == 0 {
		beginning--
	}
	return fmt.Sprintf("%d,%d", beginning, length)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func compareKeys(lines []string, ignoreWhitespace bool) []string {
	keys := make([]string, len(lines))
	for i, line := range lines {
		if ignoreWhitespace {
			line = strings.Map(func(r rune) rune {
				if unicode.IsSpace(r) {
					return -1
				}
				return r
			}, line)
		}
		keys[i] = line
	}
	return keys
}
