package zipstream

import "os"

// EntryOption customizes an Entry before its local file header is
// written, for callers that need more than a name and a modification
// time — Unix permissions, a central-directory comment, or additional
// extra-field bytes.
type EntryOption func(*Entry)

// WithMode sets an entry's Unix permission and file-type bits, mirrored
// into both the Unix and MS-DOS external-attribute conventions via
// Entry.SetMode. Applying it to a directory entry overrides the
// default 0755 external attributes.
func WithMode(mode os.FileMode) EntryOption {
	return func(e *Entry) { e.SetMode(mode) }
}

// WithComment sets an entry's central-directory-only comment.
func WithComment(comment string) EntryOption {
	return func(e *Entry) { e.Comment = comment }
}

// WithExtra appends additional extra-field bytes beyond the ones this
// package generates on its own (Zip64, extended timestamp).
func WithExtra(extra []byte) EntryOption {
	return func(e *Entry) { e.Extra = append(e.Extra, extra...) }
}

// WithNonUTF8 marks an entry's name and comment as not UTF-8, so the
// EFS general-purpose flag bit is never set even if the bytes happen
// to decode as valid UTF-8.
func WithNonUTF8() EntryOption {
	return func(e *Entry) { e.NonUTF8 = true }
}

func applyEntryOptions(e *Entry, opts []EntryOption) {
	for _, opt := range opts {
		opt(e)
	}
}
