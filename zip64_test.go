package zipstream

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// These tests assert on the raw bytes ZipWriter emits once a Zip64
// trigger fires, the way the teacher's own zip_test.go cross-checks
// byte layout directly rather than only the boolean trigger helpers
// (see TestZip64TriggerMatrix). Sizes are set directly on Entry so no
// actual multi-gigabyte payload has to be produced or scanned.

func TestWriteLocalFileHeaderEmitsZip64ExtraForOversizedSizes(t *testing.T) {
	const size = uint64(uint32max) + 2048 // spec scenario: 4 294 969 343

	e := &Entry{
		Name:               "huge.bin",
		Method:             Store,
		CompressedSize64:   size,
		UncompressedSize64: size,
		Modified:           time.Date(2016, time.July, 17, 13, 48, 0, 0, time.UTC),
	}
	zw := ZipWriter{}
	zw.PrepareEntry(e)

	var buf bytes.Buffer
	require.NoError(t, zw.WriteLocalFileHeader(&buf, e))
	b := buf.Bytes()

	require.Equal(t, uint32(fileHeaderSignature), le32(b))
	require.Equal(t, uint16(zipVersion45), le16(b[4:]))
	require.Equal(t, uint32(uint32max), le32(b[18:]), "compressed size slot must be saturated")
	require.Equal(t, uint32(uint32max), le32(b[22:]), "uncompressed size slot must be saturated")

	nameLen := le16(b[26:])
	extraLen := le16(b[28:])
	require.Equal(t, uint16(len(e.Name)), nameLen)
	require.Equal(t, uint16(4+zip64ExtraLen+extTimeExtraLen), extraLen)

	extra := b[fileHeaderLen+int(nameLen) : fileHeaderLen+int(nameLen)+int(extraLen)]
	require.Equal(t, uint16(zip64ExtraID), le16(extra))
	require.Equal(t, uint16(zip64ExtraLen), le16(extra[2:]), "declared Zip64 payload length must be the real payload size, not the header-inclusive one")
	require.Equal(t, size, le64(extra[4:]), "uncompressed size comes first")
	require.Equal(t, size, le64(extra[12:]), "compressed size comes second")
}

func TestWriteCentralDirectoryEntryEmitsZip64ExtraForOversizedSizes(t *testing.T) {
	const size = uint64(uint32max) + 2048

	e := &Entry{
		Name:               "huge.bin",
		Method:             Store,
		CompressedSize64:   size,
		UncompressedSize64: size,
		Modified:           time.Date(2016, time.July, 17, 13, 48, 0, 0, time.UTC),
	}
	zw := ZipWriter{}
	zw.PrepareEntry(e)
	e.offset = 1234 // small, fits in 32 bits on its own

	var buf bytes.Buffer
	require.NoError(t, zw.WriteCentralDirectoryEntry(&buf, e))
	b := buf.Bytes()

	require.Equal(t, uint32(directoryHeaderSignature), le32(b))
	require.Equal(t, uint32(uint32max), le32(b[20:]), "compressed size slot must be saturated")
	require.Equal(t, uint32(uint32max), le32(b[24:]), "uncompressed size slot must be saturated")

	nameLen := le16(b[28:])
	extraLen := le16(b[30:])
	require.Equal(t, uint16(4+zip64ExtraCDLen+extTimeExtraLen), extraLen, "the Zip64 field sits ahead of the extended-timestamp extra PrepareEntry already added")

	extra := b[directoryHeaderLen+int(nameLen) : directoryHeaderLen+int(nameLen)+int(extraLen)]
	require.Equal(t, uint16(zip64ExtraID), le16(extra))
	require.Equal(t, uint16(zip64ExtraCDLen), le16(extra[2:]))
	require.Equal(t, size, le64(extra[4:]), "uncompressed size")
	require.Equal(t, size, le64(extra[12:]), "compressed size")
	require.Equal(t, e.offset, le64(extra[20:]), "local header offset")

	offsetField := le32(b[42:])
	require.Equal(t, uint32(e.offset), offsetField, "offset itself fits in 32 bits so the CDE's own offset slot is left untouched")
}

func TestWriteCentralDirectoryEntryZip64OnlyFromOffsetOverflow(t *testing.T) {
	// Scenario: two stored files straddling the 4 GiB offset boundary.
	// Neither file's own sizes overflow, so neither gets a Zip64 extra
	// in its local file header, but the second file's local header
	// offset alone forces its central directory entry to carry one.
	first := &Entry{Name: "first.bin", Method: Store, CompressedSize64: 100, UncompressedSize64: 100, Modified: time.Now()}
	second := &Entry{Name: "second.bin", Method: Store, CompressedSize64: 100, UncompressedSize64: 100, Modified: time.Now()}
	zw := ZipWriter{}
	zw.PrepareEntry(first)
	zw.PrepareEntry(second)
	first.offset = 0
	second.offset = uint64(uint32max) + 4096

	require.False(t, first.isZip64())
	require.False(t, first.requiresZip64())
	require.False(t, second.isZip64())
	require.True(t, second.requiresZip64())

	var lfhBuf bytes.Buffer
	require.NoError(t, zw.WriteLocalFileHeader(&lfhBuf, second))
	lfhExtraLen := le16(lfhBuf.Bytes()[28:])
	require.Equal(t, uint16(extTimeExtraLen), lfhExtraLen, "no Zip64 extra belongs in the LFH when only the offset overflows")

	var firstBuf, secondBuf bytes.Buffer
	require.NoError(t, zw.WriteCentralDirectoryEntry(&firstBuf, first))
	require.NoError(t, zw.WriteCentralDirectoryEntry(&secondBuf, second))

	fb := firstBuf.Bytes()
	firstExtraLen := le16(fb[30:])
	require.Equal(t, uint16(extTimeExtraLen), firstExtraLen, "first file's CDE carries no Zip64 extra")
	require.Equal(t, uint16(0), le16(fb[34:]), "disk number start stays 0 when Zip64 isn't triggered")

	sb := secondBuf.Bytes()
	secondNameLen := le16(sb[28:])
	secondExtraLen := le16(sb[30:])
	require.Equal(t, uint16(4+zip64ExtraCDLen+extTimeExtraLen), secondExtraLen)
	require.Equal(t, uint16(uint16max), le16(sb[34:]), "disk number start is saturated once Zip64 triggers")

	extra := sb[directoryHeaderLen+int(secondNameLen) : directoryHeaderLen+int(secondNameLen)+int(secondExtraLen)]
	require.Equal(t, uint16(zip64ExtraID), le16(extra))
	require.Equal(t, second.offset, le64(extra[20:]), "offset is the field that actually overflowed")
}

func TestWriteEndOfCentralDirectoryEmitsZip64RecordForOversizedDirectory(t *testing.T) {
	p := EOCDParams{
		CentralDirectoryOffset: uint64(uint32max) + 1,
		CentralDirectorySize:   1000,
		NumEntries:             2,
		Comment:                "produced by zipstream",
	}
	zw := ZipWriter{}
	var buf bytes.Buffer
	require.NoError(t, zw.WriteEndOfCentralDirectory(&buf, p))
	b := buf.Bytes()

	require.Equal(t, uint32(directory64EndSignature), le32(b))
	require.Equal(t, p.NumEntries, le64(b[24:]), "entries on this disk")
	require.Equal(t, p.NumEntries, le64(b[32:]), "total entries")
	require.Equal(t, p.CentralDirectorySize, le64(b[40:]))
	require.Equal(t, p.CentralDirectoryOffset, le64(b[48:]))

	locOffset := directory64EndLen
	require.Equal(t, uint32(directory64LocSignature), le32(b[locOffset:]))
	require.Equal(t, p.CentralDirectoryOffset+p.CentralDirectorySize, le64(b[locOffset+8:]), "locator points at the zip64 end record, i.e. the end of the central directory")

	eocdOffset := locOffset + directory64LocLen
	eocd := b[eocdOffset:]
	require.Equal(t, uint32(directoryEndSignature), le32(eocd))
	require.Equal(t, uint16(uint16max), le16(eocd[8:]), "entries on this disk, classical slot saturated")
	require.Equal(t, uint16(uint16max), le16(eocd[10:]), "total entries, classical slot saturated")
	require.Equal(t, uint32(uint32max), le32(eocd[12:]))
	require.Equal(t, uint32(uint32max), le32(eocd[16:]))
	require.Equal(t, uint16(len(p.Comment)), le16(eocd[20:]))
	require.Equal(t, p.Comment, string(eocd[directoryEndLen:]))
}

func TestWriteEndOfCentralDirectorySkipsZip64WhenEverythingFits(t *testing.T) {
	p := EOCDParams{CentralDirectoryOffset: 500, CentralDirectorySize: 200, NumEntries: 3, Comment: "ok"}
	zw := ZipWriter{}
	var buf bytes.Buffer
	require.NoError(t, zw.WriteEndOfCentralDirectory(&buf, p))
	b := buf.Bytes()

	require.Equal(t, uint32(directoryEndSignature), le32(b))
	require.Equal(t, uint16(p.NumEntries), le16(b[10:]))
	require.Equal(t, uint32(p.CentralDirectorySize), le32(b[12:]))
	require.Equal(t, uint32(p.CentralDirectoryOffset), le32(b[16:]))
}
