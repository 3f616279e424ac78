package zipstream

import (
	"fmt"
	"net/http"
)

// WriteHeaders sets the response headers appropriate for streaming a
// freshly-produced ZIP archive named filename to an HTTP client: a
// generic octet-stream content type, a content-disposition attachment
// header, and X-Content-Type-Options: nosniff. It sets no
// Content-Length (the size isn't known until Streamer.Close runs,
// since entries may use data descriptors).
//
// This package does not otherwise integrate with net/http: building a
// request handler, choosing entries, or deciding on authentication is
// a caller concern. WriteHeaders only spares callers from
// re-deriving the three headers every streamed ZIP download needs.
func WriteHeaders(w http.ResponseWriter, filename string) {
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	h.Set("X-Content-Type-Options", "nosniff")
}

// An http.ResponseWriter needs no adapter (it already satisfies
// io.Writer, so the ordinary NewStreamer accepts it), but it does not
// flush automatically the way some other Appendable destinations
// might need. FlushingWriter wraps w so that every Write triggers a
// flush, useful for long-running
// archives a client wants to see progress on as entries complete.
type FlushingWriter struct {
	w http.ResponseWriter
}

// NewFlushingWriter wraps w so each Write also flushes, when w
// supports flushing (i.e. implements http.Flusher). If it doesn't,
// Write behaves exactly like w.Write.
func NewFlushingWriter(w http.ResponseWriter) *FlushingWriter {
	return &FlushingWriter{w: w}
}

func (f *FlushingWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}
