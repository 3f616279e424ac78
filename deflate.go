package zipstream

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// defaultDeflateBlockSize is the default number of uncompressed input
// bytes DeflateFramer accumulates before inserting a SYNC_FLUSH
// boundary, capping how much state the compressor needs to hold
// in-flight.
const defaultDeflateBlockSize = 5 * 1024 * 1024

// deflateTerminator is the two bytes that close a raw DEFLATE stream
// built entirely out of SYNC_FLUSH-terminated blocks: a fixed-Huffman
// final block containing only the end-of-block symbol. Flush() always
// leaves the bit writer byte-aligned, so appending these two bytes
// right after any flushed block is always a valid way to end the
// stream.
var deflateTerminator = []byte{0x03, 0x00}

// DeflateFramer produces a raw DEFLATE bitstream (no zlib or gzip
// wrapper) suitable for ZIP storage mode 8, writing compressed output
// to dst as data arrives. It is built on klauspost/compress/flate
// rather than the standard library's compress/flate: every pack
// repository doing flush-sensitive compression (bb-storage's blob
// pipelines, the vendored pgzip/sgzip forks) reaches for klauspost's
// implementation instead.
type DeflateFramer struct {
	fw                *flate.Writer
	dst               io.Writer
	blockSize         int
	sinceFlush        int
	wroteAnySyncBlock bool
}

// NewDeflateFramer returns a DeflateFramer writing compressed bytes to
// dst, compressing at level and inserting a SYNC_FLUSH boundary every
// blockSize uncompressed bytes (defaultDeflateBlockSize if blockSize
// is <= 0).
func NewDeflateFramer(dst io.Writer, level int, blockSize int) (*DeflateFramer, error) {
	if blockSize <= 0 {
		blockSize = defaultDeflateBlockSize
	}
	fw, err := flate.NewWriter(dst, level)
	if err != nil {
		return nil, err
	}
	return &DeflateFramer{fw: fw, dst: dst, blockSize: blockSize}, nil
}

// Write compresses p, flushing to a byte-aligned SYNC_FLUSH boundary
// whenever blockSize uncompressed bytes have accumulated since the
// last flush.
func (f *DeflateFramer) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		room := f.blockSize - f.sinceFlush
		n := len(p)
		if n > room {
			n = room
		}
		nn, err := f.fw.Write(p[:n])
		written += nn
		f.sinceFlush += nn
		if err != nil {
			return written, err
		}
		p = p[n:]
		if f.sinceFlush >= f.blockSize {
			if err := f.fw.Flush(); err != nil {
				return written, err
			}
			f.sinceFlush = 0
			f.wroteAnySyncBlock = true
		}
	}
	return written, nil
}

// Finish emits the final DEFLATE block, terminating the stream. The
// underlying flate.Writer is not reusable afterwards.
func (f *DeflateFramer) Finish() error {
	return f.fw.Close()
}

// DeflateChunk compresses data into a single self-contained DEFLATE
// sub-block: a fresh compressor, flushed (not closed) so the result is
// byte-aligned but the stream is left open. Any number of such
// sub-blocks may be concatenated — each carries its own Huffman
// tables, so they need no shared compressor state — and the result is
// a valid DEFLATE stream once DeflateTerminator is appended after the
// last one. This is the mode size estimation and simple one-shot
// producers use instead of holding a live DeflateFramer.
func DeflateChunk(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := fw.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeflateTerminator returns the two bytes that close a DEFLATE stream
// assembled from DeflateChunk sub-blocks.
func DeflateTerminator() []byte {
	t := make([]byte, len(deflateTerminator))
	copy(t, deflateTerminator)
	return t
}
