package zipstream_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go4.org/readerutil"

	"github.com/go-zipstream/zipstream"
)

func buildTestArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	cfg := zipstream.DefaultConfig()
	cfg.DefaultModTime = time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
	s := zipstream.NewStreamer(&buf, cfg)

	require.NoError(t, s.AddEmptyDirectory("logs/", time.Time{}))
	require.NoError(t, s.WriteStoredFile("logs/a.log", time.Time{}, bytes.NewReader([]byte("stored payload"))))
	require.NoError(t, s.WriteDeflatedFile("logs/b.log", time.Time{}, bytes.NewReader(bytes.Repeat([]byte("xy"), 4096))))
	require.NoError(t, s.Close())
	return buf.Bytes()
}

func TestFileReaderReadDirectory(t *testing.T) {
	data := buildTestArchive(t)
	r := zipstream.NewFileReader(bytes.NewReader(data))

	entries, err := r.ReadDirectory()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byName := map[string]zipstream.DirectoryEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	_, ok := byName["logs/"]
	require.True(t, ok)

	a, ok := byName["logs/a.log"]
	require.True(t, ok)
	require.Equal(t, zipstream.Store, a.Method)

	rc, err := r.Open(a)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "stored payload", string(got))

	b, ok := byName["logs/b.log"]
	require.True(t, ok)
	require.Equal(t, zipstream.Deflate, b.Method)

	rc, err = r.Open(b)
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, bytes.Repeat([]byte("xy"), 4096), got)
}

func TestFileReaderOverComposedMultiPartSource(t *testing.T) {
	data := buildTestArchive(t)
	mid := len(data) / 2

	// Compose the archive out of two backing byte slices without
	// copying them into one contiguous buffer, the way a caller
	// storing an archive across multiple backing chunks would. As
	// long as the result satisfies ReaderSource (ReadAt + Size),
	// FileReader neither knows nor cares that it isn't one slice.
	src := readerutil.NewMultiReaderAt(
		bytes.NewReader(data[:mid]),
		bytes.NewReader(data[mid:]),
	)

	r := zipstream.NewFileReader(src)
	entries, err := r.ReadDirectory()
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestFileReaderRejectsEOCDWithBadCommentLength(t *testing.T) {
	data := buildTestArchive(t)

	// Append a bogus EOCD signature plus two stray bytes after the real
	// EOCD's comment, so it sits closer to the tail than the genuine
	// record. The bogus match is too close to the end to hold a whole
	// record, and the genuine record's declared comment length no
	// longer accounts for the appended bytes, so neither validates:
	// ReadDirectory must fail rather than blindly accept "the last
	// match in the tail."
	eocdSig := []byte{0x50, 0x4b, 0x05, 0x06}
	idx := bytes.LastIndex(data, eocdSig)
	require.GreaterOrEqual(t, idx, 0)

	corrupted := append([]byte{}, data...)
	corrupted = append(corrupted, 0x50, 0x4b, 0x05, 0x06, 0xAA, 0xAA)

	r := zipstream.NewFileReader(bytes.NewReader(corrupted))
	_, err := r.ReadDirectory()
	require.Error(t, err)

	var readErr *zipstream.ReadError
	require.ErrorAs(t, err, &readErr)
	require.Equal(t, zipstream.ErrMissingEOCD, readErr.Kind)
}

func TestFileReaderLocalHeaderPendingUntilResolved(t *testing.T) {
	data := buildTestArchive(t)
	r := zipstream.NewFileReader(bytes.NewReader(data))

	entries, err := r.ReadDirectory()
	require.NoError(t, err)

	var file zipstream.DirectoryEntry
	for _, e := range entries {
		if e.Name == "logs/a.log" {
			file = e
		}
	}
	require.Equal(t, "logs/a.log", file.Name)

	_, err = file.DataOffset()
	require.Error(t, err)
	var readErr *zipstream.ReadError
	require.ErrorAs(t, err, &readErr)
	require.Equal(t, zipstream.ErrLocalHeaderPending, readErr.Kind)

	require.NoError(t, r.ResolveDataOffset(&file))
	off, err := file.DataOffset()
	require.NoError(t, err)
	require.Greater(t, off, file.LocalHeaderOffset)
}

func TestFileReaderFallsBackOnTruncatedArchive(t *testing.T) {
	data := buildTestArchive(t)

	// Cut off the end of central directory record (this small archive
	// has no Zip64 records), keeping the full central directory and
	// every local entry intact. ReadDirectory must fall
	// back to a forward scan of local file headers, using the central
	// directory's own header signatures as end-of-payload markers.
	eocdSig := []byte{0x50, 0x4b, 0x05, 0x06}
	idx := bytes.LastIndex(data, eocdSig)
	require.GreaterOrEqual(t, idx, 0)
	truncated := data[:idx]

	r := zipstream.NewFileReader(bytes.NewReader(truncated))
	entries, err := r.ReadDirectory()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.ElementsMatch(t, []string{"logs/", "logs/a.log", "logs/b.log"}, names)
}
