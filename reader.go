package zipstream

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// ReaderSource is what FileReader needs from its backing storage: the
// ability to read any byte range, and to report the archive's total
// size up front so the end-of-central-directory record can be found
// by searching backwards from the tail. *os.File and bytes.Reader
// both satisfy it once wrapped appropriately; an HTTP range-request
// adapter is a caller concern, not something this package provides.
type ReaderSource interface {
	io.ReaderAt
	Size() int64
}

// DirectoryEntry is a single file or directory decoded from an
// archive's central directory, together with the information needed
// to fetch and decompress its payload.
type DirectoryEntry struct {
	Entry
	// LocalHeaderOffset is the absolute offset of the entry's local
	// file header, i.e. Entry's private offset field made visible to
	// readers.
	LocalHeaderOffset uint64

	// dataOffset and dataOffsetResolved implement step 6 of the tail
	// parse: the true start of an entry's compressed payload is only
	// known once its local file header has actually been read back (the
	// central directory's name/extra lengths aren't guaranteed to match
	// the local header's). DataOffset reports ErrLocalHeaderPending
	// until that has happened.
	dataOffset         uint64
	dataOffsetResolved bool
}

// DataOffset returns the absolute offset of de's compressed payload
// within the source, previously computed by ResolveDataOffset (or by
// Open, which resolves lazily). It returns a *ReadError wrapping
// ErrLocalHeaderPending if the local file header hasn't been read yet.
func (de *DirectoryEntry) DataOffset() (uint64, error) {
	if !de.dataOffsetResolved {
		return 0, &ReadError{Kind: ErrLocalHeaderPending, Offset: int64(de.LocalHeaderOffset), msg: "local file header not yet read for this entry"}
	}
	return de.dataOffset, nil
}

// FileReader parses an append-only ZIP archive from the tail inward:
// it locates the end of central directory record by scanning backward
// from the end of the source, follows it (and, if present, a Zip64
// locator and Zip64 end record) to the central directory, and decodes
// every entry from there. If the tail holds no end of central directory
// signature at all, it falls back to a straight-ahead forward scan of
// local file headers, recovering whatever a truncated archive still
// contains; a signature that is present but does not validate is an
// error instead (see ReadDirectory).
type FileReader struct {
	src     ReaderSource
	metrics *readerMetrics
}

// NewFileReader returns a FileReader over src.
func NewFileReader(src ReaderSource) *FileReader {
	return &FileReader{src: src, metrics: globalReaderMetrics()}
}

// maxEOCDSearch bounds how far back from the end of the source
// ReadDirectory searches for the end of central directory signature:
// the record is at most 22 bytes plus a comment of at most 65535
// bytes.
const maxEOCDSearch = directoryEndLen + uint16max

// ReadDirectory locates and decodes the central directory, returning
// every entry it describes. If the tail holds end of central directory
// signature bytes but none of them validate against a matching comment
// length, it returns a *ReadError wrapping ErrMissingEOCD rather than
// guessing; if the tail holds no such signature at all, it falls back
// to a forward scan and returns a *ReadError wrapping
// ErrTruncatedArchive only if that scan recovers nothing either.
func (r *FileReader) ReadDirectory() ([]DirectoryEntry, error) {
	r.metrics.archivesOpened.Inc()

	size := r.src.Size()
	searchLen := int64(maxEOCDSearch)
	if searchLen > size {
		searchLen = size
	}

	tail := make([]byte, searchLen)
	if _, err := r.src.ReadAt(tail, size-searchLen); err != nil && err != io.EOF {
		return nil, &ReadError{Kind: ErrUnknown, Offset: size - searchLen, Err: err}
	}

	eocdIdx, sawSignature := findEOCDCandidate(tail, directoryEndSignature)
	if eocdIdx < 0 {
		if sawSignature {
			// At least one 4-byte signature match exists in the tail,
			// but none of them had a comment length accounting exactly
			// for the remaining bytes: the source is corrupt or
			// adversarially crafted rather than merely missing its
			// end of central directory record, so fail outright
			// instead of guessing via a forward scan.
			return nil, &ReadError{Kind: ErrMissingEOCD, Offset: size - searchLen, msg: "end of central directory signature present but no candidate validated"}
		}
		r.metrics.fallbackScans.Inc()
		return r.scanForward()
	}
	eocdOffset := size - searchLen + int64(eocdIdx)

	records, cdOffset, cdSize, err := r.readDirectoryEnd(tail[eocdIdx:], eocdOffset)
	if err != nil {
		return nil, err
	}

	// A Zip64 archive encodes uint16max/uint32max sentinels in the
	// classic record and puts the real values in a Zip64 end record,
	// reached through a locator that immediately precedes the EOCD.
	if records == uint64(uint16max) || cdOffset == uint64(uint32max) || cdSize == uint64(uint32max) {
		locOffset := eocdOffset - directory64LocLen
		if locOffset >= 0 {
			locBuf := make([]byte, directory64LocLen)
			if _, err := r.src.ReadAt(locBuf, locOffset); err == nil {
				if rb := readBuf(locBuf); len(rb) >= 4 && le32(rb) == directory64LocSignature {
					records, cdOffset, cdSize, err = r.readDirectory64End(locBuf)
					if err != nil {
						return nil, err
					}
				}
			}
		}
	}

	return r.readCentralDirectoryEntries(cdOffset, cdSize, records)
}

// readDirectoryEnd parses the classic (non-Zip64) end of central
// directory record starting at buf[0], returning the entry count and
// central directory location it encodes (which may be Zip64
// sentinels).
func (r *FileReader) readDirectoryEnd(buf []byte, offset int64) (records, cdOffset, cdSize uint64, err error) {
	if len(buf) < directoryEndLen {
		return 0, 0, 0, &ReadError{Kind: ErrTruncatedArchive, Offset: offset, msg: "end of central directory record truncated"}
	}
	b := readBuf(buf)
	if sig := b.uint32(); sig != directoryEndSignature {
		return 0, 0, 0, &ReadError{Kind: ErrBadSignature, Offset: offset}
	}
	b.uint16() // number of this disk
	b.uint16() // disk with start of central directory
	b.uint16() // entries on this disk
	totalEntries := b.uint16()
	size := b.uint32()
	start := b.uint32()
	return uint64(totalEntries), uint64(start), uint64(size), nil
}

// readDirectory64End parses a Zip64 end-of-central-directory locator
// (already read into buf) by following it to the Zip64 end record and
// decoding the 64-bit fields from there.
func (r *FileReader) readDirectory64End(locBuf []byte) (records, cdOffset, cdSize uint64, err error) {
	b := readBuf(locBuf)
	b.uint32() // locator signature, already checked by caller
	b.uint32() // disk with start of zip64 EOCD
	endOffset := b.uint64()

	endBuf := make([]byte, directory64EndLen)
	if _, err := r.src.ReadAt(endBuf, int64(endOffset)); err != nil && err != io.EOF {
		return 0, 0, 0, &ReadError{Kind: ErrUnknown, Offset: int64(endOffset), Err: err}
	}
	eb := readBuf(endBuf)
	if sig := eb.uint32(); sig != directory64EndSignature {
		return 0, 0, 0, &ReadError{Kind: ErrBadSignature, Offset: int64(endOffset)}
	}
	eb.uint64() // size of zip64 end record
	eb.uint16() // version made by
	eb.uint16() // version needed to extract
	eb.uint32() // number of this disk
	eb.uint32() // disk with start of central directory
	eb.uint64() // entries on this disk
	totalEntries := eb.uint64()
	size := eb.uint64()
	start := eb.uint64()
	return totalEntries, start, size, nil
}

// readCentralDirectoryEntries decodes entries one after another from
// the cdSize bytes of central directory data located at cdOffset until
// those bytes are used up. count is not consulted: the walk is bounded
// by cdSize alone.
func (r *FileReader) readCentralDirectoryEntries(cdOffset, cdSize, count uint64) ([]DirectoryEntry, error) {
	buf := make([]byte, cdSize)
	if _, err := r.src.ReadAt(buf, int64(cdOffset)); err != nil && err != io.EOF {
		return nil, &ReadError{Kind: ErrUnknown, Offset: int64(cdOffset), Err: err}
	}

	var entries []DirectoryEntry
	rb := readBuf(buf)
	for len(rb) > 0 {
		de, consumed, err := decodeCentralDirectoryEntry(rb)
		if err != nil {
			return entries, err
		}
		entries = append(entries, de)
		rb = rb[consumed:]
		r.metrics.entriesListed.Inc()
	}
	return entries, nil
}

func decodeCentralDirectoryEntry(buf []byte) (DirectoryEntry, int, error) {
	if len(buf) < directoryHeaderLen {
		return DirectoryEntry{}, 0, &ReadError{Kind: ErrTruncatedArchive, Offset: -1, msg: "central directory entry truncated"}
	}
	b := readBuf(buf)
	if sig := b.uint32(); sig != directoryHeaderSignature {
		return DirectoryEntry{}, 0, &ReadError{Kind: ErrBadSignature, Offset: -1}
	}

	var e Entry
	e.CreatorVersion = b.uint16()
	e.ReaderVersion = b.uint16()
	e.Flags = b.uint16()
	e.Method = b.uint16()
	dosTime := b.uint16()
	dosDate := b.uint16()
	e.Modified = msDosTimeToTime(dosDate, dosTime)
	e.CRC32 = b.uint32()
	compressedSize := uint64(b.uint32())
	uncompressedSize := uint64(b.uint32())
	nameLen := b.uint16()
	extraLen := b.uint16()
	commentLen := b.uint16()
	b.uint16() // disk number start
	b.uint16() // internal attrs
	e.ExternalAttrs = b.uint32()
	offset := uint64(b.uint32())

	e.NonUTF8 = e.Flags&0x800 == 0

	rest := buf[directoryHeaderLen:]
	if len(rest) < int(nameLen)+int(extraLen)+int(commentLen) {
		return DirectoryEntry{}, 0, &ReadError{Kind: ErrTruncatedArchive, Offset: -1, msg: "central directory entry name/extra/comment truncated"}
	}
	e.Name = string(rest[:nameLen])
	extra := rest[nameLen : nameLen+extraLen]
	e.Comment = string(rest[nameLen+extraLen : nameLen+extraLen+commentLen])

	e.CompressedSize64 = compressedSize
	e.UncompressedSize64 = uncompressedSize

	for len(extra) >= 4 {
		id := uint16(extra[0]) | uint16(extra[1])<<8
		size := uint16(extra[2]) | uint16(extra[3])<<8
		if len(extra) < 4+int(size) {
			break
		}
		field := extra[4 : 4+int(size)]
		if id == zip64ExtraID {
			fb := readBuf(field)
			if uncompressedSize == uint64(uint32max) && len(fb) >= 8 {
				e.UncompressedSize64 = fb.uint64()
			}
			if compressedSize == uint64(uint32max) && len(fb) >= 8 {
				e.CompressedSize64 = fb.uint64()
			}
			if offset == uint64(uint32max) && len(fb) >= 8 {
				offset = fb.uint64()
			}
		}
		extra = extra[4+int(size):]
	}
	e.Extra = append([]byte{}, rest[nameLen:nameLen+extraLen]...)
	e.offset = offset

	total := directoryHeaderLen + int(nameLen) + int(extraLen) + int(commentLen)
	return DirectoryEntry{Entry: e, LocalHeaderOffset: offset}, total, nil
}

// scanForward recovers entries from an archive with no usable end of
// central directory record by reading local file headers one after
// another from the start. An entry with a known size (no data
// descriptor bit set, as directories always are) is skipped over
// directly; one written with a data descriptor has its real size and
// CRC32 recovered by scanning ahead for the next record signature and
// checking whether a data descriptor sits immediately before it.
func (r *FileReader) scanForward() ([]DirectoryEntry, error) {
	var entries []DirectoryEntry
	var offset int64
	size := r.src.Size()

	for offset+fileHeaderLen <= size {
		hdr := make([]byte, fileHeaderLen)
		if _, err := r.src.ReadAt(hdr, offset); err != nil && err != io.EOF {
			return entries, &ReadError{Kind: ErrUnknown, Offset: offset, Err: err}
		}
		b := readBuf(hdr)
		if b.uint32() != fileHeaderSignature {
			break
		}

		var e Entry
		e.ReaderVersion = b.uint16()
		e.Flags = b.uint16()
		e.Method = b.uint16()
		dosTime := b.uint16()
		dosDate := b.uint16()
		e.Modified = msDosTimeToTime(dosDate, dosTime)
		e.CRC32 = b.uint32()
		e.CompressedSize64 = uint64(b.uint32())
		e.UncompressedSize64 = uint64(b.uint32())
		nameLen := b.uint16()
		extraLen := b.uint16()

		nameBuf := make([]byte, int(nameLen)+int(extraLen))
		if _, err := r.src.ReadAt(nameBuf, offset+fileHeaderLen); err != nil && err != io.EOF {
			return entries, &ReadError{Kind: ErrUnknown, Offset: offset + fileHeaderLen, Err: err}
		}
		e.Name = string(nameBuf[:nameLen])
		e.NonUTF8 = e.Flags&0x800 == 0
		e.offset = uint64(offset)
		payloadStart := offset + fileHeaderLen + int64(nameLen) + int64(extraLen)

		if e.Flags&0x8 == 0 {
			entries = append(entries, DirectoryEntry{Entry: e, LocalHeaderOffset: uint64(offset)})
			offset = payloadStart + int64(e.CompressedSize64)
			continue
		}

		// No size up front: scan ahead for the next record signature
		// and recover the payload length (and, when present, the
		// trailing data descriptor's CRC32) from what precedes it.
		next, descStart, err := r.findNextRecord(payloadStart, size)
		if err != nil {
			return entries, err
		}
		compressedSize := next - payloadStart
		if descStart >= 0 {
			compressedSize = descStart - payloadStart
			descBuf := make([]byte, next-descStart)
			if _, err := r.src.ReadAt(descBuf, descStart); err != nil && err != io.EOF {
				return entries, &ReadError{Kind: ErrUnknown, Offset: descStart, Err: err}
			}
			db := readBuf(descBuf)
			db.uint32() // data descriptor signature
			e.CRC32 = db.uint32()
			if len(db) >= 16 {
				e.CompressedSize64 = db.uint64()
				e.UncompressedSize64 = db.uint64()
			} else {
				e.CompressedSize64 = uint64(db.uint32())
				e.UncompressedSize64 = uint64(db.uint32())
			}
		} else {
			e.CompressedSize64 = uint64(compressedSize)
		}

		entries = append(entries, DirectoryEntry{Entry: e, LocalHeaderOffset: uint64(offset)})
		offset = next
	}

	if len(entries) == 0 {
		return nil, &ReadError{Kind: ErrTruncatedArchive, Offset: -1, msg: "no recoverable local file headers found"}
	}
	return entries, nil
}

// findNextRecord scans forward from start for the next local file
// header or central directory header signature, returning its offset
// and, if an optional data descriptor signature is found immediately
// before it, that descriptor's start offset too (-1 if none is
// found).
func (r *FileReader) findNextRecord(start, size int64) (recordOffset, descStart int64, err error) {
	const scanChunk = 1 << 20
	const overlap = 3 // a 4 byte signature may straddle a chunk boundary
	pos := start

	for pos < size {
		chunkLen := int64(scanChunk)
		if pos+chunkLen > size {
			chunkLen = size - pos
		}
		buf := make([]byte, chunkLen)
		if _, rerr := r.src.ReadAt(buf, pos); rerr != nil && rerr != io.EOF {
			return 0, -1, &ReadError{Kind: ErrUnknown, Offset: pos, Err: rerr}
		}
		for i := 0; i+4 <= len(buf); i++ {
			sig := le32(buf[i:])
			if sig == fileHeaderSignature || sig == directoryHeaderSignature {
				recordOffset = pos + int64(i)
				descStart = -1
				descBuf := make([]byte, dataDescriptor64Len)
				if recordOffset-dataDescriptor64Len >= start {
					if _, rerr := r.src.ReadAt(descBuf, recordOffset-dataDescriptor64Len); rerr == nil || rerr == io.EOF {
						if le32(descBuf) == dataDescriptorSignature {
							descStart = recordOffset - dataDescriptor64Len
						}
					}
				}
				if descStart < 0 && recordOffset-dataDescriptorLen >= start {
					if _, rerr := r.src.ReadAt(descBuf[:dataDescriptorLen], recordOffset-dataDescriptorLen); rerr == nil || rerr == io.EOF {
						if le32(descBuf) == dataDescriptorSignature {
							descStart = recordOffset - dataDescriptorLen
						}
					}
				}
				return recordOffset, descStart, nil
			}
		}
		if chunkLen <= overlap {
			break
		}
		pos += chunkLen - overlap
	}
	return 0, -1, &ReadError{Kind: ErrTruncatedArchive, Offset: start, msg: "no terminating record found while scanning for entry end"}
}

// ResolveDataOffset implements step 6 of the tail parse: it seeks to
// de's local file header, re-reads it, and computes the true absolute
// start of the compressed payload (local_header_offset + 30 +
// filename_len + extra_len). The central directory's own name/extra
// lengths are not trustworthy for this since some producers pad or
// otherwise diverge between the two copies. Once resolved,
// de.DataOffset() returns the computed offset instead of
// ErrLocalHeaderPending.
func (r *FileReader) ResolveDataOffset(de *DirectoryEntry) error {
	hdr := make([]byte, fileHeaderLen)
	if _, err := r.src.ReadAt(hdr, int64(de.LocalHeaderOffset)); err != nil && err != io.EOF {
		return &ReadError{Kind: ErrUnknown, Offset: int64(de.LocalHeaderOffset), Err: err}
	}
	b := readBuf(hdr)
	if b.uint32() != fileHeaderSignature {
		return &ReadError{Kind: ErrBadSignature, Offset: int64(de.LocalHeaderOffset)}
	}
	b.uint16() // version needed
	b.uint16() // flags
	b.uint16() // method (already known from central directory)
	b.uint16() // mod time
	b.uint16() // mod date
	b.uint32() // crc32
	b.uint32() // compressed size
	b.uint32() // uncompressed size
	nameLen := b.uint16()
	extraLen := b.uint16()

	de.dataOffset = de.LocalHeaderOffset + fileHeaderLen + uint64(nameLen) + uint64(extraLen)
	de.dataOffsetResolved = true
	return nil
}

// Open returns a reader over de's decompressed payload, reading the
// compressed bytes directly from the source at the offset the local
// file header reports. It resolves de's data offset first if that
// hasn't already been done via ResolveDataOffset.
func (r *FileReader) Open(de DirectoryEntry) (io.ReadCloser, error) {
	if !de.dataOffsetResolved {
		if err := r.ResolveDataOffset(&de); err != nil {
			return nil, err
		}
	}

	payload := make([]byte, de.CompressedSize64)
	if _, err := r.src.ReadAt(payload, int64(de.dataOffset)); err != nil && err != io.EOF {
		return nil, &ReadError{Kind: ErrUnknown, Offset: int64(de.dataOffset), Err: err}
	}

	switch de.Method {
	case Store:
		return io.NopCloser(bytes.NewReader(payload)), nil
	case Deflate:
		return flate.NewReader(bytes.NewReader(payload)), nil
	default:
		return nil, &ReadError{Kind: ErrUnsupportedMethod, Offset: int64(de.LocalHeaderOffset)}
	}
}

// readBuf is the reader-side counterpart to writeBuf: a byte-slice
// cursor that consumes little-endian integers from the front,
// grounded on the same idiom minio's zipindex reader uses.
type readBuf []byte

func (b *readBuf) uint16() uint16 {
	v := uint16(le16(*b))
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := le32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := le64(*b)
	*b = (*b)[8:]
	return v
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}

// findEOCDCandidate searches buf for the end of central directory
// signature, scanning backward from the end of buf. A raw 4-byte
// signature match is only accepted as the record's true start if the
// 2-byte comment length field 20 bytes past it exactly accounts for
// every remaining byte of buf — a comment that happens to embed
// signature-like bytes closer to the tail than the real record fails
// this check and is skipped in favor of an earlier match. idx is -1
// if no match validates; sawSignature reports whether any raw 4-byte
// match was found at all, so the caller can distinguish "no EOCD
// signature anywhere in the tail" from "signature present but every
// candidate's comment length was wrong."
func findEOCDCandidate(buf []byte, sig uint32) (idx int, sawSignature bool) {
	for i := len(buf) - 4; i >= 0; i-- {
		if le32(buf[i:]) != sig {
			continue
		}
		sawSignature = true
		if i+directoryEndLen > len(buf) {
			continue
		}
		commentLen := le16(buf[i+20:])
		if int(commentLen) == len(buf)-(i+directoryEndLen) {
			return i, true
		}
	}
	return -1, sawSignature
}
