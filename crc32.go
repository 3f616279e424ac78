package zipstream

import (
	"hash/crc32"
	"io"
)

// crcCombineBufSize is the scratch buffer size CRC32Accumulator uses
// to batch small Update calls before touching the underlying table
// based checksum, amortizing the per-call overhead of hash/crc32.
const crcCombineBufSize = 64 * 1024

// CRC32Accumulator computes a running IEEE CRC32 (the polynomial the
// ZIP format mandates) over data that may arrive in many small
// writes, and can combine two independently-computed CRC32s the way
// zlib's crc32_combine does — useful when a payload's CRC was
// computed out of band (e.g. by a remote worker) and needs folding
// into a running total without rereading the bytes.
type CRC32Accumulator struct {
	crc uint32
	buf []byte
}

// NewCRC32Accumulator returns an accumulator starting from zero.
func NewCRC32Accumulator() *CRC32Accumulator {
	return &CRC32Accumulator{buf: make([]byte, 0, crcCombineBufSize)}
}

// Update folds p into the running checksum. Short writes are batched
// into the internal buffer and only flushed to the IEEE table
// implementation once crcCombineBufSize bytes have accumulated or
// Value/Combine is called.
func (c *CRC32Accumulator) Update(p []byte) {
	for len(p) > 0 {
		room := cap(c.buf) - len(c.buf)
		n := len(p)
		if n > room {
			n = room
		}
		c.buf = append(c.buf, p[:n]...)
		p = p[n:]
		if len(c.buf) == cap(c.buf) {
			c.flush()
		}
	}
}

func (c *CRC32Accumulator) flush() {
	if len(c.buf) == 0 {
		return
	}
	c.crc = crc32.Update(c.crc, crc32.IEEETable, c.buf)
	c.buf = c.buf[:0]
}

// Value returns the CRC32 of every byte passed to Update so far.
func (c *CRC32Accumulator) Value() uint32 {
	c.flush()
	return c.crc
}

// Combine folds in a CRC32 that was computed independently over
// otherLen bytes that logically follow what this accumulator has seen
// so far, without needing those bytes again.
func (c *CRC32Accumulator) Combine(otherCRC uint32, otherLen int64) {
	c.crc = crc32Combine(c.Value(), otherCRC, otherLen)
}

// CRC32FromReader drains r and returns the IEEE CRC32 of everything
// read, the way a caller would precompute a CRC32 for an entry whose
// bytes are available up front.
func CRC32FromReader(r io.Reader) (uint32, error) {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}

// crc32Combine implements the standard GF(2) polynomial-matrix CRC32
// combine algorithm (the same one zlib's crc32_combine uses): given
// crc1 over a byte stream and crc2 over a second stream of length
// len2 that is logically appended after the first, it returns the
// CRC32 of the concatenation without rereading either stream.
func crc32Combine(crc1, crc2 uint32, len2 int64) uint32 {
	if len2 == 0 {
		return crc1
	}

	var even, odd [32]uint32

	// odd[n] = CRC32 polynomial matrix row n, representing
	// multiplication by x (CRC shifted by one bit).
	odd[0] = 0xedb88320 // the CRC-32 polynomial
	row := uint32(1)
	for n := 1; n < 32; n++ {
		odd[n] = row
		row <<= 1
	}

	gf2MatrixSquare(&even, &odd) // even = odd^2 = squares
	gf2MatrixSquare(&odd, &even) // odd = even^2 = squares of squares

	for {
		gf2MatrixSquare(&even, &odd)
		if len2&1 != 0 {
			crc1 = gf2MatrixTimes(&even, crc1)
		}
		len2 >>= 1
		if len2 == 0 {
			break
		}

		gf2MatrixSquare(&odd, &even)
		if len2&1 != 0 {
			crc1 = gf2MatrixTimes(&odd, crc1)
		}
		len2 >>= 1
		if len2 == 0 {
			break
		}
	}

	return crc1 ^ crc2
}

func gf2MatrixTimes(mat *[32]uint32, vec uint32) uint32 {
	var sum uint32
	for i := 0; vec != 0; i++ {
		if vec&1 != 0 {
			sum ^= mat[i]
		}
		vec >>= 1
	}
	return sum
}

func gf2MatrixSquare(square, mat *[32]uint32) {
	for n := 0; n < 32; n++ {
		square[n] = gf2MatrixTimes(mat, mat[n])
	}
}

// WriteBuffer coalesces many small appends into fewer, larger calls
// to an underlying Appendable, so that CRC32 updates and syscalls both
// amortize over a useful chunk size instead of firing once per small
// caller write. Writes that are already at least as large as the
// buffer bypass it entirely.
type WriteBuffer struct {
	dst  Appendable
	crc  *CRC32Accumulator
	buf  []byte
	size int
}

// NewWriteBuffer returns a WriteBuffer of the given size (the default,
// per Config.WriteBufferSize, is a small multiple of a typical syscall
// size) that forwards coalesced writes to dst and folds every byte
// written into crc.
func NewWriteBuffer(dst Appendable, crc *CRC32Accumulator, size int) *WriteBuffer {
	if size <= 0 {
		size = defaultWriteBufferSize
	}
	return &WriteBuffer{dst: dst, crc: crc, size: size}
}

// Write appends p, coalescing it with any previously buffered bytes
// and flushing to dst whenever the buffer fills or p alone is at least
// as large as the buffer.
func (b *WriteBuffer) Write(p []byte) (int, error) {
	b.crc.Update(p)
	written := len(p)

	if len(p) >= b.size {
		if err := b.Flush(); err != nil {
			return 0, err
		}
		if _, err := b.dst.Append(p); err != nil {
			return 0, err
		}
		return written, nil
	}

	for len(p) > 0 {
		room := b.size - len(b.buf)
		n := len(p)
		if n > room {
			n = room
		}
		b.buf = append(b.buf, p[:n]...)
		p = p[n:]
		if len(b.buf) == b.size {
			if err := b.Flush(); err != nil {
				return 0, err
			}
		}
	}
	return written, nil
}

// Flush forces any buffered bytes out to dst.
func (b *WriteBuffer) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	_, err := b.dst.Append(b.buf)
	b.buf = b.buf[:0]
	return err
}
