package zipstream

import (
	"fmt"
	"strings"
)

// doubleExtensions lists the compound extensions that must be treated
// as a single unit when inserting a numbered suffix, so
// "archive.tar.gz" renames to "archive (1).tar.gz" rather than
// "archive.tar (1).gz".
var doubleExtensions = []string{".tar.gz", ".tar.zip"}

// Deduplicator rewrites colliding entry names into unique ones by
// appending a numbered suffix before the file extension, the way
// desktop file managers handle "copy of copy of" situations. It is
// optional: Streamer never deduplicates on its own unless configured
// to via Config.AutoRenameDuplicates.
type Deduplicator struct {
	seen map[string]int
}

// NewDeduplicator returns an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]int)}
}

// Resolve returns a name guaranteed not to have been returned before
// by this Deduplicator: name itself the first time it is seen, then
// "name (1)", "name (2)", and so on, with the numbered suffix inserted
// before the extension when one is present — a recognized double
// extension such as ".tar.gz" or ".tar.zip" is kept intact rather than
// split at its inner ".". Directory names (trailing "/") get the
// suffix inserted before the trailing slash.
func (d *Deduplicator) Resolve(name string) string {
	count := d.seen[name]
	d.seen[name] = count + 1
	if count == 0 {
		return name
	}

	isDir := strings.HasSuffix(name, "/")
	base := strings.TrimSuffix(name, "/")
	stem, ext := splitExtension(base)
	base = stem

	for {
		candidate := fmt.Sprintf("%s (%d)%s", base, count, ext)
		if isDir {
			candidate += "/"
		}
		if _, exists := d.seen[candidate]; !exists {
			d.seen[candidate] = 1
			return candidate
		}
		count++
	}
}

// splitExtension splits base into a stem and an extension suitable for
// inserting a numbered suffix between them. A recognized double
// extension (see doubleExtensions) is matched against the final path
// segment first; otherwise the split falls back to the last "."
// within that segment, if any.
func splitExtension(base string) (stem, ext string) {
	lastSlash := strings.LastIndexByte(base, '/')
	segment := base[lastSlash+1:]

	for _, de := range doubleExtensions {
		if strings.HasSuffix(segment, de) {
			return base[:len(base)-len(de)], de
		}
	}

	if i := strings.LastIndexByte(segment, '.'); i > 0 {
		cut := lastSlash + 1 + i
		return base[:cut], base[cut:]
	}
	return base, ""
}
