package git

import "errors"

var (
	ErrRepositoryOpen    = errors.New("open repository")
	ErrRevisionNotFound  = errors.New("revision not found")
	ErrCommitNotFound    = errors.New("commit not found")
	ErrNoParentCommit    = errors.New("commit has no parent")
	ErrPathNotFound      = errors.New("path not found")
	ErrNotABlob          = errors.New("path is not a file")
	ErrNotATree          = errors.New("path is not a directory")
	ErrInvalidUTF8       = errors.New("content is not valid UTF-8")
	ErrDetachedHead      = errors.New("HEAD is detached or has an invalid name")
	ErrDirtyWorktree     = errors.New("worktree has uncommitted changes")
	ErrNoWorktree        = errors.New("repository has no worktree")
	ErrRemoteNotFound    = errors.New("remote not found")
	ErrRemoteUnreachable = errors.New("remote unreachable")
	ErrInvalidDate       = errors.New("invalid commit date")
)
