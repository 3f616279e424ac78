package zipstream

import "io"

// entrySink is the common interface Streamer drives while an entry's
// payload is being written: accept uncompressed bytes, then report the
// final CRC32 and compressed/uncompressed sizes once the entry is
// done. StoredSink and DeflatedSink are the two implementations; they
// mirror apkEditor's fileWriter but split cleanly by storage mode
// instead of branching on method internally.
type entrySink interface {
	io.Writer
	Close() error
	CRC32() uint32
	CompressedSize() uint64
	UncompressedSize() uint64
}

// countingAppendable wraps an Appendable and counts bytes passed
// through it, so a sink can report how many compressed bytes it
// actually emitted without the caller needing a separate countWriter.
type countingAppendable struct {
	dst   Appendable
	count uint64
}

func (c *countingAppendable) Append(p []byte) (int, error) {
	n, err := c.dst.Append(p)
	c.count += uint64(n)
	return n, err
}

// StoredSink writes an entry's bytes through to dst unmodified (ZIP
// storage mode 0), computing its CRC32 and size as the bytes pass
// through.
type StoredSink struct {
	buf  *WriteBuffer
	crc  *CRC32Accumulator
	dst  *countingAppendable
	size uint64
}

// NewStoredSink returns a StoredSink writing to dst, buffering writes
// in chunks of bufSize bytes (defaultWriteBufferSize if bufSize <= 0).
func NewStoredSink(dst Appendable, bufSize int) *StoredSink {
	crc := NewCRC32Accumulator()
	ca := &countingAppendable{dst: dst}
	return &StoredSink{
		buf: NewWriteBuffer(ca, crc, bufSize),
		crc: crc,
		dst: ca,
	}
}

func (s *StoredSink) Write(p []byte) (int, error) {
	n, err := s.buf.Write(p)
	s.size += uint64(n)
	return n, err
}

// Close flushes any buffered bytes. It does not close dst.
func (s *StoredSink) Close() error {
	return s.buf.Flush()
}

func (s *StoredSink) CRC32() uint32            { return s.crc.Value() }
func (s *StoredSink) CompressedSize() uint64   { return s.size }
func (s *StoredSink) UncompressedSize() uint64 { return s.size }

// DeflatedSink compresses an entry's bytes with DEFLATE (ZIP storage
// mode 8) as they are written, computing the CRC32 and both sizes
// needed for the local/central headers or trailing data descriptor.
type DeflatedSink struct {
	framer *DeflateFramer
	crc    *CRC32Accumulator
	dst    *countingAppendable
	raw    uint64
}

// NewDeflatedSink returns a DeflatedSink compressing at level
// (flate.DefaultCompression is a reasonable choice) and writing
// compressed output to dst, flushing a SYNC_FLUSH boundary every
// blockSize uncompressed bytes (defaultDeflateBlockSize if blockSize
// is <= 0).
func NewDeflatedSink(dst Appendable, level, blockSize int) (*DeflatedSink, error) {
	crc := NewCRC32Accumulator()
	ca := &countingAppendable{dst: dst}
	framer, err := NewDeflateFramer(&appendableWriter{a: ca}, level, blockSize)
	if err != nil {
		return nil, err
	}
	return &DeflatedSink{framer: framer, crc: crc, dst: ca}, nil
}

func (s *DeflatedSink) Write(p []byte) (int, error) {
	s.crc.Update(p)
	n, err := s.framer.Write(p)
	s.raw += uint64(n)
	return n, err
}

// Close finishes the DEFLATE stream, flushing the final block to dst.
func (s *DeflatedSink) Close() error {
	return s.framer.Finish()
}

func (s *DeflatedSink) CRC32() uint32            { return s.crc.Value() }
func (s *DeflatedSink) CompressedSize() uint64   { return s.dst.count }
func (s *DeflatedSink) UncompressedSize() uint64 { return s.raw }

// appendableWriter adapts an Appendable back to io.Writer, the
// direction DeflateFramer (which predates Appendable and just wants an
// io.Writer) needs.
type appendableWriter struct {
	a Appendable
}

func (w *appendableWriter) Write(p []byte) (int, error) {
	return w.a.Append(p)
}
