package zipstream_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-zipstream/zipstream"
)

func TestWriteHeadersSetsExpectedFields(t *testing.T) {
	rec := httptest.NewRecorder()
	zipstream.WriteHeaders(rec, "archive.zip")

	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="archive.zip"`, rec.Header().Get("Content-Disposition"))
}

func TestFlushingWriterWritesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	fw := zipstream.NewFlushingWriter(rec)

	n, err := fw.Write([]byte("payload"))
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, "payload", rec.Body.String())
}
