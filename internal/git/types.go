package git

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// MissingCommitMessage is the summary reported for commits whose object
	// could not be loaded during an unfiltered walk.
	MissingCommitMessage = "Error Finding Commit"
	// UnreadableMessage replaces commit messages that are not valid UTF-8.
	UnreadableMessage = "UNKNOWN"
)

type Commit struct {
	ID        string     `json:"id"`
	Summary   string     `json:"summary"`
	Body      string     `json:"body,omitempty"`
	Author    string     `json:"author"`
	Date      CommitDate `json:"date"`
	ParentIDs []string   `json:"parent_ids,omitempty"`

	// Score is the fuzzy relevance against the active filter. It is zero when
	// no filter is applied.
	Score int `json:"score,omitempty"`
}

// CommitDate is a commit timestamp together with the UTC offset recorded by
// the committer.
type CommitDate struct {
	Unix          int64
	OffsetMinutes int
}

func newCommitDate(when time.Time) CommitDate {
	_, offset := when.Zone()
	return CommitDate{Unix: when.Unix(), OffsetMinutes: offset / 60}
}

// Time returns the timestamp in the commit's own zone.
func (d CommitDate) Time() (time.Time, error) {
	if d.OffsetMinutes <= -24*60 || d.OffsetMinutes >= 24*60 {
		return time.Time{}, fmt.Errorf("%w: offset %d minutes", ErrInvalidDate, d.OffsetMinutes)
	}
	zone := time.FixedZone("", d.OffsetMinutes*60)
	t := time.Unix(d.Unix, 0).In(zone)
	if y := t.Year(); y < 0 || y > 9999 {
		return time.Time{}, fmt.Errorf("%w: timestamp %d out of range", ErrInvalidDate, d.Unix)
	}
	return t, nil
}

// Format renders the date as RFC 2822.
func (d CommitDate) Format() (string, error) {
	t, err := d.Time()
	if err != nil {
		return "", err
	}
	return t.Format(time.RFC1123Z), nil
}

func (d CommitDate) MarshalJSON() ([]byte, error) {
	formatted, _ := d.Format()
	return json.Marshal(struct {
		Unix          int64  `json:"unix"`
		OffsetMinutes int    `json:"offset_minutes"`
		RFC2822       string `json:"rfc2822,omitempty"`
	}{d.Unix, d.OffsetMinutes, formatted})
}

func (d CommitDate) String() string {
	s, err := d.Format()
	if err != nil {
		return "invalid date"
	}
	return s
}

// DiffOp is the origin of a rendered patch line.
type DiffOp uint8

const (
	OpContext DiffOp = iota
	OpAddition
	OpDeletion
	OpContextEOF
	OpAdditionEOF
	OpDeletionEOF
	OpFileHeader
	OpHunkHeader
	OpBinary
)

func (o DiffOp) String() string {
	switch o {
	case OpContext:
		return "context"
	case OpAddition:
		return "addition"
	case OpDeletion:
		return "deletion"
	case OpContextEOF:
		return "context_eof"
	case OpAdditionEOF:
		return "addition_eof"
	case OpDeletionEOF:
		return "deletion_eof"
	case OpFileHeader:
		return "file_header"
	case OpHunkHeader:
		return "hunk_header"
	case OpBinary:
		return "binary"
	default:
		return fmt.Sprintf("DiffOp(%d)", uint8(o))
	}
}

// Origin returns the single byte marker git uses for the line in patch output.
func (o DiffOp) Origin() byte {
	switch o {
	case OpContext:
		return ' '
	case OpAddition:
		return '+'
	case OpDeletion:
		return '-'
	case OpContextEOF:
		return '='
	case OpAdditionEOF:
		return '>'
	case OpDeletionEOF:
		return '<'
	case OpFileHeader:
		return 'F'
	case OpHunkHeader:
		return 'H'
	case OpBinary:
		return 'B'
	default:
		return '?'
	}
}

func (o DiffOp) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

type DiffLine struct {
	Content string `json:"content"`
	Op      DiffOp `json:"op"`
	// OldLine and NewLine are 1-based; zero means the line has no number on
	// that side.
	OldLine int `json:"old_line,omitempty"`
	NewLine int `json:"new_line,omitempty"`
	// Path is only set on file headers.
	Path string `json:"path,omitempty"`
}

type DeltaKind uint8

const (
	DeltaUnknown DeltaKind = iota
	DeltaAdded
	DeltaDeleted
	DeltaModified
	DeltaRenamed
	DeltaCopied
	DeltaIgnored
	DeltaConflicted
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaAdded:
		return "Added"
	case DeltaDeleted:
		return "Deleted"
	case DeltaModified:
		return "Modified"
	case DeltaRenamed:
		return "Renamed"
	case DeltaCopied:
		return "Copied"
	case DeltaIgnored:
		return "Ignored"
	case DeltaConflicted:
		return "Conflicted"
	default:
		return "Unknown"
	}
}

func (k DeltaKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type DiffFileItem struct {
	Header DiffLine       `json:"header"`
	Kind   DeltaKind      `json:"kind"`
	Hunks  []DiffHunkItem `json:"hunks"`
}

type DiffHunkItem struct {
	Header DiffLine   `json:"header"`
	Lines  []DiffLine `json:"lines"`
}

type CommitFile struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDir       bool   `json:"is_dir"`
	IsSubmodule bool   `json:"is_submodule,omitempty"`
	Mode        string `json:"mode"`
	Hash        string `json:"hash"`
	Size        int64  `json:"size,omitempty"`
	SizeHuman   string `json:"size_human,omitempty"`
}

// PathKind tells whether a path inside a commit tree is a file or a directory.
type PathKind uint8

const (
	PathDir PathKind = iota
	PathFile
)
