package domain

import (
	"io/fs"
	"strings"
	"time"
)

// Kind is the type of a filesystem entry
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
)

// String returns the lowercase name of the kind
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// PermMask reduces platform mode bits to the portable owner/group/other rwx subset
const PermMask fs.FileMode = 0o777

// Entry is a snapshot of one filesystem object, taken during a single run
type Entry struct {
	// Path is the slash-separated path relative to the root
	Path string

	// Kind tells whether this is a file, directory or symlink
	Kind Kind

	// Size in bytes (files only)
	Size int64

	// ModTime is the last modification time
	ModTime time.Time

	// Mode holds the permission bits, masked with PermMask
	Mode fs.FileMode

	// LinkTarget is the destination text of a symlink
	LinkTarget string

	// Fingerprint is the hex SHA-256 of the content.
	// Empty until the differ asks for it; never set for directories or symlinks.
	Fingerprint string
}

// IsDir returns true if this is a directory
func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// IsFile returns true if this is a regular file
func (e Entry) IsFile() bool {
	return e.Kind == KindFile
}

// IsSymlink returns true if this is a symbolic link
func (e Entry) IsSymlink() bool {
	return e.Kind == KindSymlink
}

// ComparePaths orders relative paths segment by segment.
//
// A parent sorts before its children and siblings sort by name, which is the
// order a depth-first walk over name-sorted directories produces. Plain string
// comparison does not have this property: "a.txt" < "a/b" although a walk
// yields "a/b" first.
func ComparePaths(a, b string) int {
	for {
		if a == b {
			return 0
		}
		if a == "" {
			return -1
		}
		if b == "" {
			return 1
		}
		var sa, sb string
		sa, a = cutSegment(a)
		sb, b = cutSegment(b)
		if c := strings.Compare(sa, sb); c != 0 {
			return c
		}
	}
}

func cutSegment(p string) (string, string) {
	head, rest, _ := strings.Cut(p, "/")
	return head, rest
}

// ParentPath returns the relative path of the parent directory, "" for top-level entries
func ParentPath(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// IsWithin reports whether p equals dir or lies below it
func IsWithin(p, dir string) bool {
	if dir == "" {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}
