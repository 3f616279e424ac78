package zipstream

import "strings"

// entryKind distinguishes the two ways a path can be claimed in a
// PathSet.
type entryKind int

const (
	kindFile entryKind = iota
	kindDir
)

// PathSet tracks the paths added to an archive so Streamer can reject
// additions that would produce a self-inconsistent tree: a file and a
// directory claiming the same name, or a file used as if it were a
// directory prefix of another entry. Adding a path also implicitly
// claims every one of its ancestor directories, the way a real
// filesystem tree grows one entry at a time.
//
// Directories may be (re-)claimed any number of times, since every
// deeper path implicitly claims its ancestors, but adding the same
// file path twice is itself a conflict; see Deduplicator for turning
// that into an automatic rename instead.
type PathSet struct {
	entries map[string]entryKind
}

// NewPathSet returns an empty PathSet.
func NewPathSet() *PathSet {
	return &PathSet{entries: make(map[string]entryKind)}
}

// Add records name as a file (or, when name ends in "/", a directory),
// implicitly claiming every ancestor directory along the way, and
// reports a conflict if doing so is inconsistent with a path already
// recorded.
func (s *PathSet) Add(name string) error {
	if strings.HasSuffix(name, "/") {
		return s.AddDirectory(name)
	}
	return s.AddFile(name)
}

// AddFile records name as a file, implicitly adding its parent
// directory chain. Returns a *WriteError with Kind
// ErrFileClobbersDirectory if name was already recorded as a directory,
// ErrDirectoryClobbersFile if one of its ancestors was already recorded
// as a file, and ErrPathConflict if name was already added as a file.
func (s *PathSet) AddFile(name string) error {
	return s.add(name, kindFile)
}

// AddDirectory records name (and its parent directory chain) as
// directories. Returns a *WriteError with Kind ErrDirectoryClobbersFile if
// name, or one of its ancestors, was already recorded as a file.
func (s *PathSet) AddDirectory(name string) error {
	return s.add(name, kindDir)
}

func (s *PathSet) add(name string, kind entryKind) error {
	segments := normalizeSegments(name)
	if len(segments) == 0 {
		return &WriteError{Kind: ErrPathConflict, Name: name, msg: "empty path"}
	}

	for i := 1; i < len(segments); i++ {
		prefix := strings.Join(segments[:i], "/")
		if existing, ok := s.entries[prefix]; ok {
			if existing == kindFile {
				return &WriteError{Kind: ErrDirectoryClobbersFile, Name: name, msg: "parent path already added as a file"}
			}
			continue
		}
		s.entries[prefix] = kindDir
	}

	full := strings.Join(segments, "/")
	if existing, ok := s.entries[full]; ok {
		switch {
		case existing == kind && kind == kindDir:
			// Directories may be claimed repeatedly, explicitly or as an
			// ancestor implied by another path; nothing to do.
			return nil
		case existing == kind:
			return &WriteError{Kind: ErrPathConflict, Name: name, msg: "file already added"}
		case kind == kindDir:
			return &WriteError{Kind: ErrDirectoryClobbersFile, Name: name, msg: "directory name already used by a file"}
		default:
			return &WriteError{Kind: ErrFileClobbersDirectory, Name: name, msg: "file name already used by a directory"}
		}
	}

	s.entries[full] = kind
	return nil
}

// normalizeSegments splits name on "/", dropping empty segments so
// stray leading/trailing slashes and runs of adjacent separators
// collapse to the same path.
func normalizeSegments(name string) []string {
	raw := strings.Split(name, "/")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		segments = append(segments, s)
	}
	return segments
}

// Contains reports whether name (file or directory, "/" suffix
// ignored) has already been added, either directly or as an implicit
// ancestor of another entry.
func (s *PathSet) Contains(name string) bool {
	segments := normalizeSegments(name)
	if len(segments) == 0 {
		return false
	}
	_, ok := s.entries[strings.Join(segments, "/")]
	return ok
}

// Len returns the number of distinct paths recorded, including
// implicitly-added ancestor directories.
func (s *PathSet) Len() int {
	return len(s.entries)
}
