package git

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var readmeNames = []string{"README.md", "README.markdown", "readme.md", "README"}

func cleanTreePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

func (s *Service) treeLocked(sha string) (*object.Tree, error) {
	commit, err := s.commitLocked(sha)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", commit.Hash, err)
	}
	return tree, nil
}

// PathKind reports whether p names a file or a directory in the tree of sha.
// The empty path is the root directory.
func (s *Service) PathKind(sha, p string) (PathKind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.treeLocked(sha)
	if err != nil {
		return PathDir, err
	}
	p = cleanTreePath(p)
	if p == "" {
		return PathDir, nil
	}
	entry, err := tree.FindEntry(p)
	if err != nil {
		return PathDir, fmt.Errorf("%w: %s", ErrPathNotFound, p)
	}
	if entry.Mode == filemode.Dir {
		return PathDir, nil
	}
	return PathFile, nil
}

// FileContent returns the UTF-8 content of the blob at p in the tree of sha.
func (s *Service) FileContent(sha, p string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.treeLocked(sha)
	if err != nil {
		return "", err
	}
	return blobText(tree, cleanTreePath(p))
}

func blobText(tree *object.Tree, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: tree root", ErrNotABlob)
	}
	entry, err := tree.FindEntry(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathNotFound, p)
	}
	if !entry.Mode.IsFile() {
		return "", fmt.Errorf("%w: %s", ErrNotABlob, p)
	}
	file, err := tree.File(p)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	content, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: %s", ErrInvalidUTF8, p)
	}
	return content, nil
}

// FileList lists the immediate entries of the directory sub in the tree of
// sha, directories first.
func (s *Service) FileList(sha, sub string) ([]CommitFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.treeLocked(sha)
	if err != nil {
		return nil, err
	}
	sub = cleanTreePath(sub)
	if sub != "" {
		entry, err := tree.FindEntry(sub)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, sub)
		}
		if entry.Mode != filemode.Dir {
			return nil, fmt.Errorf("%w: %s", ErrNotATree, sub)
		}
		tree, err = tree.Tree(sub)
		if err != nil {
			if errors.Is(err, object.ErrDirectoryNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, sub)
			}
			return nil, fmt.Errorf("read tree %s: %w", sub, err)
		}
	}
	files := make([]CommitFile, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		file := CommitFile{
			Name:        entry.Name,
			Path:        path.Join(sub, entry.Name),
			IsDir:       entry.Mode == filemode.Dir,
			IsSubmodule: entry.Mode == filemode.Submodule,
			Mode:        entry.Mode.String(),
			Hash:        entry.Hash.String(),
		}
		if entry.Mode.IsFile() {
			if size, err := tree.Size(entry.Name); err == nil {
				file.Size = size
				file.SizeHuman = humanize.IBytes(uint64(size))
			}
		}
		files = append(files, file)
	}
	slices.SortStableFunc(files, func(a, b CommitFile) int {
		if a.IsDir != b.IsDir {
			if a.IsDir {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return files, nil
}

// Readme returns the path and content of the README at the root of the tree
// of sha. ok is false when there is none.
func (s *Service) Readme(sha string) (name, content string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.treeLocked(sha)
	if err != nil {
		return "", "", false, err
	}
	for _, candidate := range readmeNames {
		content, err := blobText(tree, candidate)
		if err == nil {
			return candidate, content, true, nil
		}
		if !errors.Is(err, ErrPathNotFound) && !errors.Is(err, ErrNotABlob) {
			return "", "", false, err
		}
	}
	return "", "", false, nil
}
