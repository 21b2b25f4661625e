package git

import (
	"fmt"
	"strings"
)

type foldState uint8

const (
	foldNoFile foldState = iota
	foldInFile
	foldInHunk
)

// Fold nests a flat patch line stream into files and hunks. A file header
// opens a file, a hunk header opens a hunk in the current file, binary
// markers are dropped and every other line belongs to the current hunk.
//
// Fold panics when a hunk header or content line arrives without an
// enclosing file or hunk; the diff renderer never emits such a stream.
func Fold(lines []DiffLine) []DiffFileItem {
	var files []DiffFileItem
	state := foldNoFile
	for _, line := range lines {
		switch line.Op {
		case OpFileHeader:
			files = append(files, DiffFileItem{Header: line, Kind: kindFromHeader(line)})
			state = foldInFile
		case OpHunkHeader:
			if state == foldNoFile {
				panic(fmt.Sprintf("git: hunk header %q before any file header", line.Content))
			}
			file := &files[len(files)-1]
			file.Hunks = append(file.Hunks, DiffHunkItem{Header: line})
			state = foldInHunk
		case OpBinary:
		case OpContext, OpAddition, OpDeletion, OpContextEOF, OpAdditionEOF, OpDeletionEOF:
			if state != foldInHunk {
				panic(fmt.Sprintf("git: %s line %q outside of a hunk", line.Op, line.Content))
			}
			file := &files[len(files)-1]
			hunk := &file.Hunks[len(file.Hunks)-1]
			hunk.Lines = append(hunk.Lines, line)
		default:
			panic(fmt.Sprintf("git: unknown diff op %s", line.Op))
		}
	}
	return files
}

func kindFromHeader(line DiffLine) DeltaKind {
	for _, kind := range []DeltaKind{
		DeltaAdded, DeltaDeleted, DeltaModified, DeltaRenamed,
		DeltaCopied, DeltaIgnored, DeltaConflicted,
	} {
		if strings.HasPrefix(line.Content, "["+kind.String()+"] ") {
			return kind
		}
	}
	return DeltaUnknown
}
