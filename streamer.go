package zipstream

import (
	"fmt"
	"io"
	"time"
)

// defaultWriteBufferSize is how many bytes StoredSink/WriteBuffer
// accumulate before forwarding a chunk to the underlying Appendable,
// the default for Config.WriteBufferSize.
const defaultWriteBufferSize = 8 * 1024

// defaultDeflateLevel is the compression level new entries use unless
// Config.DeflateLevel overrides it.
const defaultDeflateLevel = 6 // a fixed mid-range level, not the flate.DefaultCompression (-1) sentinel

// Config holds the tunables for a Streamer. The zero Config is not
// directly usable; call DefaultConfig and adjust fields on the result.
type Config struct {
	// WriteBufferSize is the chunk size entrysink buffering coalesces
	// writes into before handing them to the destination Appendable.
	WriteBufferSize int

	// AutoRenameDuplicates, when true, silently renames an entry whose
	// path collides with one already added instead of returning a
	// path-conflict error.
	AutoRenameDuplicates bool

	// Comment is the archive-level comment written into the end of
	// central directory record.
	Comment string

	// DefaultModTime is used for entries added without an explicit
	// modification time (the zero time.Time).
	DefaultModTime time.Time

	// DeflateLevel is the compression level (1-9, or -1/-2 for the
	// flate package's special values) used by AddDeflatedEntry.
	DeflateLevel int

	// DeflateBlockSize is the number of uncompressed bytes between
	// SYNC_FLUSH boundaries in a deflated entry's stream.
	DeflateBlockSize int
}

// DefaultConfig returns a Config with the package defaults: an 8 KiB
// write buffer, no auto-renaming, a producer-identification archive
// comment, entries timestamped with the current time if unset, and
// default-level DEFLATE with a 5 MiB block size.
func DefaultConfig() Config {
	return Config{
		WriteBufferSize:  defaultWriteBufferSize,
		Comment:          defaultComment,
		DefaultModTime:   time.Now(),
		DeflateLevel:     defaultDeflateLevel,
		DeflateBlockSize: defaultDeflateBlockSize,
	}
}

// openEntry tracks the Entry currently accepting payload bytes. sink
// is nil for an externally-driven entry (one opened with its size and
// CRC32 already known, whose payload bytes bypass the Streamer
// entirely, e.g. via sendfile); such an entry is finished by
// UpdateLastEntryAndWriteDataDescriptor instead of closeCurrent's
// normal sink-draining path.
type openEntry struct {
	entry    *Entry
	sink     entrySink
	external bool
}

// Streamer is the stateful driver of the append-only ZIP format: it
// tracks the single entry currently open for writing, enforces that
// entries are closed in order before the next one opens, and at Close
// emits the central directory and end-of-central-directory records
// that summarize everything written. It never seeks: every byte it
// produces is appended once, in order, to the underlying io.Writer.
//
// A Streamer is not safe for concurrent use.
type Streamer struct {
	cfg     Config
	wt      *WriteAndTell
	zw      ZipWriter
	paths   *PathSet
	dedup   *Deduplicator
	entries []*Entry
	last    *openEntry
	closed  bool
	metrics *streamerMetrics
}

// NewStreamer returns a Streamer that appends ZIP data to w.
func NewStreamer(w io.Writer, cfg Config) *Streamer {
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = defaultWriteBufferSize
	}
	return &Streamer{
		cfg:     cfg,
		wt:      NewWriteAndTell(w),
		paths:   NewPathSet(),
		dedup:   NewDeduplicator(),
		metrics: globalStreamerMetrics(),
	}
}

func (s *Streamer) modTimeOrDefault(t time.Time) time.Time {
	if t.IsZero() {
		return s.cfg.DefaultModTime
	}
	return t
}

func (s *Streamer) resolveName(name string) (string, error) {
	if s.cfg.AutoRenameDuplicates {
		for {
			candidate := s.dedup.Resolve(name)
			if err := s.paths.Add(candidate); err != nil {
				continue
			}
			return candidate, nil
		}
	}
	if err := s.paths.Add(name); err != nil {
		return "", err
	}
	return name, nil
}

// closeCurrent finishes whatever sink is currently open: flushes it,
// records the final CRC32 and sizes onto its Entry, and writes the
// trailing data descriptor if the entry was opened with one.
func (s *Streamer) closeCurrent() error {
	if s.last == nil {
		return nil
	}
	oe := s.last
	if oe.external {
		// An externally-driven entry's final CRC32/sizes arrive via
		// UpdateLastEntryAndWriteDataDescriptor, not here. If the
		// caller never called it (e.g. use_data_descriptor was false
		// and the values supplied at open time are already final),
		// there is nothing left to do but clear the open slot.
		s.last = nil
		s.metrics.entriesWritten.Inc()
		s.metrics.bytesWritten.Add(float64(oe.entry.CompressedSize64))
		return nil
	}
	s.last = nil

	if err := oe.sink.Close(); err != nil {
		return err
	}
	oe.entry.CRC32 = oe.sink.CRC32()
	oe.entry.CompressedSize64 = oe.sink.CompressedSize()
	oe.entry.UncompressedSize64 = oe.sink.UncompressedSize()

	if oe.entry.UseDataDescriptor {
		if err := s.zw.WriteDataDescriptor(s.wt, oe.entry); err != nil {
			return err
		}
	}

	s.metrics.entriesWritten.Inc()
	s.metrics.bytesWritten.Add(float64(oe.entry.CompressedSize64))
	return nil
}

func (s *Streamer) beginEntry(name string, modTime time.Time, method uint16, opts []EntryOption) (*Entry, error) {
	if s.closed {
		return nil, &WriteError{Kind: ErrEntryAlreadyClosed, Name: name, msg: "streamer already closed"}
	}
	if err := s.closeCurrent(); err != nil {
		return nil, err
	}

	resolved, err := s.resolveName(name)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		Name:              resolved,
		Method:            method,
		Modified:          s.modTimeOrDefault(modTime),
		UseDataDescriptor: true,
	}
	applyEntryOptions(e, opts)
	e.offset = s.wt.Tell()
	s.zw.PrepareEntry(e)

	if err := s.zw.WriteLocalFileHeader(s.wt, e); err != nil {
		return nil, err
	}

	s.entries = append(s.entries, e)
	return e, nil
}

// AddStoredEntry opens a new entry stored without compression and
// returns a writer for its payload bytes. Any entry previously opened
// via AddStoredEntry, AddDeflatedEntry, or AddEmptyDirectory is closed
// first. opts may set per-entry Unix permissions, a comment, or extra
// extra-field bytes.
func (s *Streamer) AddStoredEntry(name string, modTime time.Time, opts ...EntryOption) (io.Writer, error) {
	e, err := s.beginEntry(name, modTime, Store, opts)
	if err != nil {
		return nil, err
	}
	sink := NewStoredSink(s.wt, s.cfg.WriteBufferSize)
	s.last = &openEntry{entry: e, sink: sink}
	return s, nil
}

// AddDeflatedEntry opens a new DEFLATE-compressed entry and returns a
// writer for its uncompressed payload bytes.
func (s *Streamer) AddDeflatedEntry(name string, modTime time.Time, opts ...EntryOption) (io.Writer, error) {
	e, err := s.beginEntry(name, modTime, Deflate, opts)
	if err != nil {
		return nil, err
	}
	sink, err := NewDeflatedSink(s.wt, s.cfg.DeflateLevel, s.cfg.DeflateBlockSize)
	if err != nil {
		return nil, err
	}
	s.last = &openEntry{entry: e, sink: sink}
	return s, nil
}

// AddEmptyDirectory adds a directory entry with no payload. name is
// given a trailing "/" if it lacks one.
func (s *Streamer) AddEmptyDirectory(name string, modTime time.Time, opts ...EntryOption) error {
	if len(name) == 0 || name[len(name)-1] != '/' {
		name += "/"
	}
	e, err := s.beginEntryDirectory(name, modTime, opts)
	if err != nil {
		return err
	}
	_ = e
	return nil
}

func (s *Streamer) beginEntryDirectory(name string, modTime time.Time, opts []EntryOption) (*Entry, error) {
	if s.closed {
		return nil, &WriteError{Kind: ErrEntryAlreadyClosed, Name: name, msg: "streamer already closed"}
	}
	if err := s.closeCurrent(); err != nil {
		return nil, err
	}
	resolved, err := s.resolveName(name)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Name:     resolved,
		Modified: s.modTimeOrDefault(modTime),
	}
	applyEntryOptions(e, opts)
	e.offset = s.wt.Tell()
	s.zw.PrepareEntry(e)
	s.zw.PrepareDirectoryEntry(e)
	if err := s.zw.WriteLocalFileHeader(s.wt, e); err != nil {
		return nil, err
	}
	s.entries = append(s.entries, e)
	s.metrics.entriesWritten.Inc()
	return e, nil
}

// AddStoredEntryWithSize opens a stored entry whose size and CRC32 are
// already known (for example because the payload was hashed and
// measured out of band before this call), bypassing the Streamer's
// own CRC/size tracking. If useDataDescriptor is false, the supplied
// values are written straight into the local file header and are
// final; if true, the header is emitted with zeroed CRC/sizes and the
// caller must follow up with UpdateLastEntryAndWriteDataDescriptor
// once the payload has actually reached the sink. Either way, payload
// bytes themselves must be pushed through Append or accounted for via
// SimulateWrite; this method only writes the header.
func (s *Streamer) AddStoredEntryWithSize(name string, modTime time.Time, size int64, crc32 uint32, useDataDescriptor bool, opts ...EntryOption) (uint64, error) {
	return s.beginExternalEntry(name, modTime, Store, uint64(size), uint64(size), crc32, useDataDescriptor, opts)
}

// AddDeflatedEntryWithSize is AddStoredEntryWithSize's deflated-mode
// counterpart: the caller supplies the already-known compressed and
// uncompressed sizes and CRC32 (computed over the uncompressed
// bytes), and is responsible for pushing already-compressed payload
// bytes through Append or SimulateWrite.
func (s *Streamer) AddDeflatedEntryWithSize(name string, modTime time.Time, compressedSize, uncompressedSize int64, crc32 uint32, useDataDescriptor bool, opts ...EntryOption) (uint64, error) {
	return s.beginExternalEntry(name, modTime, Deflate, uint64(compressedSize), uint64(uncompressedSize), crc32, useDataDescriptor, opts)
}

func (s *Streamer) beginExternalEntry(name string, modTime time.Time, method uint16, compressedSize, uncompressedSize uint64, crc32 uint32, useDataDescriptor bool, opts []EntryOption) (uint64, error) {
	if s.closed {
		return 0, &WriteError{Kind: ErrEntryAlreadyClosed, Name: name, msg: "streamer already closed"}
	}
	if err := s.closeCurrent(); err != nil {
		return 0, err
	}
	resolved, err := s.resolveName(name)
	if err != nil {
		return 0, err
	}

	e := &Entry{
		Name:               resolved,
		Method:             method,
		Modified:           s.modTimeOrDefault(modTime),
		UseDataDescriptor:  useDataDescriptor,
		CRC32:              crc32,
		CompressedSize64:   compressedSize,
		UncompressedSize64: uncompressedSize,
	}
	applyEntryOptions(e, opts)
	e.offset = s.wt.Tell()
	s.zw.PrepareEntry(e)
	if err := s.zw.WriteLocalFileHeader(s.wt, e); err != nil {
		return 0, err
	}

	s.entries = append(s.entries, e)
	s.last = &openEntry{entry: e, external: true}
	return s.wt.Tell(), nil
}

// SimulateWrite advances the tracked output offset by n bytes without
// writing anything, for callers that push an externally-driven
// entry's payload to the underlying transport through some path this
// package never sees (a kernel sendfile call, for instance).
func (s *Streamer) SimulateWrite(n uint64) {
	s.wt.AdvancePosition(n)
}

// UpdateLastEntryAndWriteDataDescriptor finalizes the entry most
// recently opened via AddStoredEntryWithSize or
// AddDeflatedEntryWithSize: it records the given CRC32 and sizes onto
// that entry and, if it was opened with useDataDescriptor, emits the
// trailing data descriptor record. It returns ErrNoCurrentEntry if no
// externally-driven entry is open.
func (s *Streamer) UpdateLastEntryAndWriteDataDescriptor(crc32 uint32, compressedSize, uncompressedSize uint64) error {
	if s.last == nil || !s.last.external {
		return &WriteError{Kind: ErrNoCurrentEntry}
	}
	oe := s.last
	s.last = nil

	oe.entry.CRC32 = crc32
	oe.entry.CompressedSize64 = compressedSize
	oe.entry.UncompressedSize64 = uncompressedSize

	if oe.entry.UseDataDescriptor {
		if err := s.zw.WriteDataDescriptor(s.wt, oe.entry); err != nil {
			return err
		}
	}

	s.metrics.entriesWritten.Inc()
	s.metrics.bytesWritten.Add(float64(oe.entry.CompressedSize64))
	return nil
}

// Append forwards p to the currently open entry's destination
// unmodified, for externally-driven entries whose payload bytes
// travel the normal path rather than bypassing the Streamer entirely.
// It does not update CRC32/size bookkeeping; use
// UpdateLastEntryAndWriteDataDescriptor for that once the full
// payload has been appended.
func (s *Streamer) Append(p []byte) (int, error) {
	if s.last == nil {
		return 0, &WriteError{Kind: ErrNoCurrentEntry}
	}
	return s.wt.Append(p)
}

// Write appends p to the currently open entry's payload. It returns
// ErrNoCurrentEntry if no entry is open.
func (s *Streamer) Write(p []byte) (int, error) {
	if s.last == nil {
		return 0, &WriteError{Kind: ErrNoCurrentEntry}
	}
	if s.last.external {
		return s.wt.Append(p)
	}
	return s.last.sink.Write(p)
}

// WriteStoredFile is a convenience that opens a stored entry, copies
// all of r into it, and closes it before returning.
func (s *Streamer) WriteStoredFile(name string, modTime time.Time, r io.Reader, opts ...EntryOption) error {
	w, err := s.AddStoredEntry(name, modTime, opts...)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		return err
	}
	return s.closeCurrent()
}

// WriteDeflatedFile is a convenience that opens a deflated entry,
// copies all of r into it, and closes it before returning.
func (s *Streamer) WriteDeflatedFile(name string, modTime time.Time, r io.Reader, opts ...EntryOption) error {
	w, err := s.AddDeflatedEntry(name, modTime, opts...)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		return err
	}
	return s.closeCurrent()
}

// Close finishes the currently open entry (if any) and writes the
// central directory and end-of-central-directory records. It must be
// called exactly once, after every entry has been added; the Streamer
// must not be used afterwards.
func (s *Streamer) Close() error {
	if s.closed {
		return &WriteError{Kind: ErrEntryAlreadyClosed, msg: "streamer already closed"}
	}
	if err := s.closeCurrent(); err != nil {
		return err
	}
	s.closed = true

	cdStart := s.wt.Tell()
	for _, e := range s.entries {
		if err := s.zw.WriteCentralDirectoryEntry(s.wt, e); err != nil {
			return fmt.Errorf("zipstream: writing central directory entry for %q: %w", e.Name, err)
		}
	}
	cdSize := s.wt.Tell() - cdStart

	comment := s.cfg.Comment
	return s.zw.WriteEndOfCentralDirectory(s.wt, EOCDParams{
		CentralDirectoryOffset: cdStart,
		CentralDirectorySize:   cdSize,
		NumEntries:             uint64(len(s.entries)),
		Comment:                comment,
	})
}

// EntryCount returns the number of entries added so far, including
// any currently open entry.
func (s *Streamer) EntryCount() int {
	return len(s.entries)
}

// Offset returns the current absolute write position, i.e. how many
// bytes have been appended to the underlying writer so far.
func (s *Streamer) Offset() uint64 {
	return s.wt.Tell()
}
