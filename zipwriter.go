// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipstream

import (
	"encoding/binary"
	"io"
	"strings"
	"unicode/utf8"
)

// ZipWriter is the stateless ZIP byte-layout encoder. Every method
// takes an io.Writer plus the exact field values to emit; ZipWriter
// itself holds nothing between calls. Streamer is the stateful driver
// that decides when to call each of these and with what values.
type ZipWriter struct{}

type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

// countWriter wraps an io.Writer and counts bytes written through it,
// the way zipserve's and apkEditor's forks of archive/zip both do to
// track the central directory's offset and size as they write it.
type countWriter struct {
	w     io.Writer
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}

// PrepareEntry fills in the fields an Entry needs before its local
// file header can be written: the UTF-8 general purpose flag bit, the
// creator/reader version bytes, and an extended-timestamp extra field.
// It must be called exactly once per entry, before WriteLocalFileHeader.
func (ZipWriter) PrepareEntry(e *Entry) {
	utf8Valid1, utf8Require1 := detectUTF8(e.Name)
	utf8Valid2, utf8Require2 := detectUTF8(e.Comment)
	switch {
	case e.NonUTF8:
		e.Flags &^= 0x800
	case (utf8Require1 || utf8Require2) && (utf8Valid1 && utf8Valid2):
		e.Flags |= 0x800
	}

	e.CreatorVersion = e.CreatorVersion&0xff00 | zipVersion20
	e.ReaderVersion = zipVersion20

	// Extended timestamp extra. This format is identical for local
	// and central headers when modification time is the only
	// timestamp encoded, so the same bytes are reused for both.
	var mbuf [extTimeExtraLen]byte
	mt := uint32(e.Modified.Unix())
	eb := writeBuf(mbuf[:])
	eb.uint16(extTimeExtraID)
	eb.uint16(5) // flag byte + 4 byte mtime
	eb.uint8(1)  // flags: ModTime present
	eb.uint32(mt)
	e.Extra = append(e.Extra, mbuf[:]...)

	if strings.HasSuffix(e.Name, "/") {
		e.Method = Store
		e.UseDataDescriptor = false
		e.CompressedSize64 = 0
		e.UncompressedSize64 = 0
	}

	if e.UseDataDescriptor {
		e.Flags |= 0x8
	} else {
		e.Flags &^= 0x8
	}
}

// WriteLocalFileHeader writes e's local file header (and, when e's own
// sizes overflow 32 bits, a Zip64 extra field ahead of any other extra
// bytes, for Windows Explorer compatibility) to w. If e.UseDataDescriptor
// is set the CRC32 and size fields are written as zero, to be filled in
// later by a data descriptor.
func (ZipWriter) WriteLocalFileHeader(w io.Writer, e *Entry) error {
	const maxUint16 = 1<<16 - 1
	if len(e.Name) > maxUint16 {
		return &WriteError{Kind: ErrFilenameTooLong}
	}
	if len(e.Extra) > maxUint16 {
		return &WriteError{Kind: ErrFilenameTooLong, msg: "extra field too long"}
	}

	extra := e.Extra
	if e.isZip64() {
		var z [4 + zip64ExtraLen]byte
		zb := writeBuf(z[:])
		zb.uint16(zip64ExtraID)
		zb.uint16(zip64ExtraLen)
		zb.uint64(e.UncompressedSize64)
		zb.uint64(e.CompressedSize64)
		extra = append(z[:], extra...)
		e.ReaderVersion = zipVersion45
	}

	date, dosTime := timeToMsDosTime(e.Modified)

	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(fileHeaderSignature)
	b.uint16(e.ReaderVersion)
	b.uint16(e.Flags)
	b.uint16(e.Method)
	b.uint16(dosTime)
	b.uint16(date)
	if e.UseDataDescriptor {
		b.uint32(0) // crc32
		b.uint32(0) // compressed size
		b.uint32(0) // uncompressed size
	} else {
		b.uint32(e.CRC32)
		if e.isZip64() {
			b.uint32(uint32max)
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(e.CompressedSize64))
			b.uint32(uint32(e.UncompressedSize64))
		}
	}
	b.uint16(uint16(len(e.Name)))
	b.uint16(uint16(len(extra)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Name); err != nil {
		return err
	}
	_, err := w.Write(extra)
	return err
}

// WriteDataDescriptor writes a post-payload data descriptor record
// carrying e's final CRC32 and sizes. The sizes are encoded as 8 bytes
// each iff either exceeds the 4 byte maximum — independent of whether
// the local header carried a Zip64 extra.
func (ZipWriter) WriteDataDescriptor(w io.Writer, e *Entry) error {
	wide := e.CompressedSize64 > uint32max || e.UncompressedSize64 > uint32max

	var buf []byte
	if wide {
		buf = make([]byte, dataDescriptor64Len)
	} else {
		buf = make([]byte, dataDescriptorLen)
	}
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature)
	b.uint32(e.CRC32)
	if wide {
		b.uint64(e.CompressedSize64)
		b.uint64(e.UncompressedSize64)
	} else {
		b.uint32(uint32(e.CompressedSize64))
		b.uint32(uint32(e.UncompressedSize64))
	}
	_, err := w.Write(buf)
	return err
}

// WriteCentralDirectoryEntry writes e's central directory entry to w,
// including a Zip64 extra (sizes, local header offset, disk number)
// whenever any of those three values overflows 4 bytes.
func (ZipWriter) WriteCentralDirectoryEntry(w io.Writer, e *Entry) error {
	if len(e.Comment) > uint16max {
		return &WriteError{Kind: ErrFilenameTooLong, Name: e.Name, msg: "comment too long"}
	}
	date, dosTime := timeToMsDosTime(e.Modified)

	extra := e.Extra
	diskNumberStart := uint16(0)

	var buf [directoryHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryHeaderSignature)
	b.uint16(e.CreatorVersion)
	b.uint16(e.ReaderVersion)
	b.uint16(e.Flags)
	b.uint16(e.Method)
	b.uint16(dosTime)
	b.uint16(date)
	b.uint32(e.CRC32)

	if e.requiresZip64() {
		b.uint32(uint32max)
		b.uint32(uint32max)

		var z [4 + zip64ExtraCDLen]byte
		zb := writeBuf(z[:])
		zb.uint16(zip64ExtraID)
		zb.uint16(zip64ExtraCDLen)
		zb.uint64(e.UncompressedSize64)
		zb.uint64(e.CompressedSize64)
		zb.uint64(e.offset)
		zb.uint32(0) // disk number
		extra = append(append([]byte{}, z[:]...), extra...)

		diskNumberStart = uint16max
	} else {
		b.uint32(uint32(e.CompressedSize64))
		b.uint32(uint32(e.UncompressedSize64))
	}

	b.uint16(uint16(len(e.Name)))
	b.uint16(uint16(len(extra)))
	b.uint16(uint16(len(e.Comment)))
	b.uint16(diskNumberStart)
	b.uint16(0) // internal attrs
	b.uint32(e.ExternalAttrs)
	if e.offset > uint32max {
		b.uint32(uint32max)
	} else {
		b.uint32(uint32(e.offset))
	}

	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Name); err != nil {
		return err
	}
	if _, err := w.Write(extra); err != nil {
		return err
	}
	_, err := io.WriteString(w, e.Comment)
	return err
}

// EOCDParams carries the values WriteEndOfCentralDirectory needs: the
// absolute offset and byte size of the central directory that
// precedes it, the number of entries it contains, and the archive
// comment to trail the record with.
type EOCDParams struct {
	CentralDirectoryOffset uint64
	CentralDirectorySize   uint64
	NumEntries             uint64
	Comment                string
}

// WriteEndOfCentralDirectory writes the end-of-central-directory
// record to w, preceded by a Zip64 EOCD record and locator whenever
// the directory's size, offset, combined end offset, or entry count
// overflow their classical 32/16-bit fields.
func (ZipWriter) WriteEndOfCentralDirectory(w io.Writer, p EOCDParams) error {
	records := p.NumEntries
	size := p.CentralDirectorySize
	offset := p.CentralDirectoryOffset
	end := offset + size

	if records > uint16max || size > uint32max || offset > uint32max || end > uint32max {
		var buf [directory64EndLen + directory64LocLen]byte
		b := writeBuf(buf[:])

		b.uint32(directory64EndSignature)
		b.uint64(directory64EndLen - 12)
		b.uint16(zipVersion45)
		b.uint16(zipVersion45)
		b.uint32(0) // number of this disk
		b.uint32(0) // disk with start of central directory
		b.uint64(records)
		b.uint64(records)
		b.uint64(size)
		b.uint64(offset)

		b.uint32(directory64LocSignature)
		b.uint32(0) // disk with start of zip64 EOCD
		b.uint64(end)
		b.uint32(1) // total number of disks

		if _, err := w.Write(buf[:]); err != nil {
			return err
		}

		records = uint16max
		size = uint32max
		offset = uint32max
	}

	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryEndSignature)
	b.uint16(0) // number of this disk
	b.uint16(0) // disk with start of central directory
	b.uint16(uint16(records))
	b.uint16(uint16(records))
	b.uint32(uint32(size))
	b.uint32(uint32(offset))
	b.uint16(uint16(len(p.Comment)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, p.Comment)
	return err
}

// PrepareDirectoryEntry is a convenience that sets external
// attributes and method/size fields appropriate for an empty
// directory entry. Callers must still ensure Name ends with "/".
func (ZipWriter) PrepareDirectoryEntry(e *Entry) {
	e.Method = Store
	e.UseDataDescriptor = false
	e.CompressedSize64 = 0
	e.UncompressedSize64 = 0
	if e.ExternalAttrs == 0 {
		e.ExternalAttrs = defaultDirExternalAttrs
	}
}

// detectUTF8 reports whether s is valid UTF-8, and whether it must be
// considered UTF-8 encoded (i.e. not compatible with CP-437, ASCII, or
// any other common single-byte encoding).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		// Officially ZIP uses CP-437, but many readers use the
		// system's local encoding instead. Forbid 0x7e and 0x5c
		// since EUC-KR and Shift-JIS replace those bytes with
		// localized currency and overline characters.
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}
