// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipstream

import (
	"os"
	"time"
)

// Storage modes. ZIP calls these "compression methods"; this package
// only ever emits or reads these two.
const (
	Store   uint16 = 0 // no compression
	Deflate uint16 = 8 // DEFLATE compressed
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50 // de-facto standard; required by OS X Finder
	fileHeaderLen            = 30         // + filename + extra
	directoryHeaderLen       = 46         // + filename + extra + comment
	directoryEndLen          = 22         // + comment
	dataDescriptorLen        = 16         // four uint32: descriptor signature, crc32, compressed size, size
	dataDescriptor64Len      = 24         // descriptor with 8 byte sizes
	directory64LocLen        = 20
	directory64EndLen        = 56 // + extra
	zip64ExtraLen            = 16 // local file header zip64 extra: 2x uint64
	zip64ExtraCDLen          = 28 // central directory zip64 extra: 3x uint64 + uint32
	extTimeExtraLen          = 9  // 2*SizeOf(uint16) + SizeOf(uint8) + SizeOf(uint32)

	// Constants for the first byte in CreatorVersion / version-made-by.
	creatorFAT  = 0
	creatorUnix = 3
	creatorNTFS = 11
	creatorVFAT = 14
	creatorMac  = 19

	// Version numbers.
	zipVersion20 = 20 // 2.0
	zipVersion45 = 45 // 4.5 (reads and writes zip64 archives)

	// Limits for non zip64 fields.
	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	// Extra header IDs.
	//
	// IDs 0..31 are reserved for official use by PKWARE. IDs above
	// that range are defined by third-party vendors. See
	// http://mdfs.net/Docs/Comp/Archiving/Zip/ExtraField
	zip64ExtraID   = 0x0001 // Zip64 extended information
	extTimeExtraID = 0x5455 // Extended timestamp

	defaultComment = "produced by zipstream"
)

// Unix mode constants. The ZIP specification doesn't mention these,
// but they are the values every major implementation agrees on.
const (
	sIFMT   = 0xf000
	sIFSOCK = 0xc000
	sIFLNK  = 0xa000
	sIFREG  = 0x8000
	sIFBLK  = 0x6000
	sIFDIR  = 0x4000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sISUID  = 0x800
	sISGID  = 0x400
	sISVTX  = 0x200

	msdosDir      = 0x10
	msdosReadOnly = 0x01

	// defaultFileExternalAttrs encodes unix mode 0644 regular file,
	// shifted into the high 16 bits the way creatorUnix does it.
	defaultFileExternalAttrs = uint32(sIFREG|0o644) << 16
	// defaultDirExternalAttrs encodes unix mode 0755 directory, plus
	// the MS-DOS directory attribute bit for FAT-era unzippers.
	defaultDirExternalAttrs = uint32(sIFDIR|0o755)<<16 | msdosDir
)

// Entry describes a single file (or directory) being added to a
// Streamer. Most fields mirror the ZIP local/central header fields;
// see the ZIP APPNOTE for their exact meaning.
type Entry struct {
	// Name is the entry's path within the archive. It must use
	// forward slashes and must not contain backslashes; a trailing
	// slash marks a directory entry.
	Name string

	// Comment is a per-entry comment, stored only in the central
	// directory.
	Comment string

	// NonUTF8 indicates Name and Comment are not UTF-8 and the EFS
	// (UTF-8) general purpose flag bit must not be set even if the
	// bytes happen to decode as valid UTF-8.
	NonUTF8 bool

	CreatorVersion uint16
	ReaderVersion  uint16
	Flags          uint16

	// Method is the storage mode: Store or Deflate.
	Method uint16

	// Modified is the entry's modification time. An extended
	// timestamp extra field is always emitted in addition to the
	// legacy MS-DOS date/time fields.
	Modified time.Time

	CRC32              uint32
	CompressedSize64   uint64
	UncompressedSize64 uint64
	ExternalAttrs      uint32

	// Extra carries any extra field bytes beyond the ones this
	// package generates (Zip64, extended timestamp). It is appended
	// to, not replaced, by the encoder.
	Extra []byte

	// UseDataDescriptor indicates the local header is written with a
	// zero CRC32 and zero sizes, to be followed after the payload by
	// a data descriptor record carrying the real values. Directory
	// entries never use a data descriptor: their size is always zero
	// and known up front.
	UseDataDescriptor bool

	// offset is the absolute byte offset of this entry's local file
	// header within the output stream. It is filled in by the
	// Streamer when the entry is added.
	offset uint64
}

// isZip64 reports whether this entry's own sizes require a Zip64
// extra field in its local file header, independent of its offset.
func (e *Entry) isZip64() bool {
	return e.CompressedSize64 > uint32max || e.UncompressedSize64 > uint32max
}

// requiresZip64 reports whether any of the fields that can force
// Zip64 in the central directory entry — sizes or offset — overflow a
// 4 byte field. This is the central-directory-side rule; it is a
// superset of isZip64 because offset can also force it.
func (e *Entry) requiresZip64() bool {
	return e.isZip64() || e.offset > uint32max
}

// timeToMsDosTime converts a time.Time to an MS-DOS date and time.
// The resolution is 2s. See
// https://msdn.microsoft.com/en-us/library/ms724274(v=VS.85).aspx
func timeToMsDosTime(t time.Time) (date, dosTime uint16) {
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	dosTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

// msDosTimeToTime converts an MS-DOS date and time to a time.Time in
// UTC. The resolution is 2s.
func msDosTimeToTime(date, dosTime uint16) time.Time {
	return time.Date(
		int(date>>9)+1980,
		time.Month(date>>5&0xf),
		int(date&0x1f),

		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f)*2,
		0,

		time.UTC,
	)
}

// Mode returns the permission and mode bits this entry's external
// attributes encode, assuming they were written by a unix-flavored
// creator version. A trailing slash in Name always reports ModeDir.
func (e *Entry) Mode() (mode os.FileMode) {
	switch e.CreatorVersion >> 8 {
	case creatorUnix, creatorMac:
		mode = unixModeToFileMode(e.ExternalAttrs >> 16)
	case creatorNTFS, creatorVFAT, creatorFAT:
		mode = msdosModeToFileMode(e.ExternalAttrs)
	}
	if len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/' {
		mode |= os.ModeDir
	}
	return mode
}

// SetMode encodes mode into ExternalAttrs and CreatorVersion, mirroring
// both the unix and MS-DOS attribute conventions so either family of
// unzipper can recover useful permission bits.
func (e *Entry) SetMode(mode os.FileMode) {
	e.CreatorVersion = e.CreatorVersion&0xff | creatorUnix<<8
	e.ExternalAttrs = fileModeToUnixMode(mode) << 16

	if mode&os.ModeDir != 0 {
		e.ExternalAttrs |= msdosDir
	}
	if mode&0o200 == 0 {
		e.ExternalAttrs |= msdosReadOnly
	}
}

func msdosModeToFileMode(m uint32) (mode os.FileMode) {
	if m&msdosDir != 0 {
		mode = os.ModeDir | 0o777
	} else {
		mode = 0o666
	}
	if m&msdosReadOnly != 0 {
		mode &^= 0o222
	}
	return mode
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	var m uint32
	switch mode & os.ModeType {
	default:
		m = sIFREG
	case os.ModeDir:
		m = sIFDIR
	case os.ModeSymlink:
		m = sIFLNK
	case os.ModeNamedPipe:
		m = sIFIFO
	case os.ModeSocket:
		m = sIFSOCK
	case os.ModeDevice:
		if mode&os.ModeCharDevice != 0 {
			m = sIFCHR
		} else {
			m = sIFBLK
		}
	}
	if mode&os.ModeSetuid != 0 {
		m |= sISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= sISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= sISVTX
	}
	return m | uint32(mode&0o777)
}

func unixModeToFileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0o777)
	switch m & sIFMT {
	case sIFBLK:
		mode |= os.ModeDevice
	case sIFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case sIFDIR:
		mode |= os.ModeDir
	case sIFIFO:
		mode |= os.ModeNamedPipe
	case sIFLNK:
		mode |= os.ModeSymlink
	case sIFREG:
		// nothing to do
	case sIFSOCK:
		mode |= os.ModeSocket
	}
	if m&sISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&sISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&sISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// NewEntryFromFileInfo creates a partially-populated Entry from an
// os.FileInfo, the way a caller walking a filesystem tree typically
// does. The caller still needs to set Method, CRC32, and the size
// fields (or rely on UseDataDescriptor) for regular files; directories
// need only a trailing slash appended to Name.
func NewEntryFromFileInfo(fi os.FileInfo) *Entry {
	e := &Entry{
		Name:               fi.Name(),
		UncompressedSize64: uint64(fi.Size()),
		Modified:           fi.ModTime(),
	}
	e.SetMode(fi.Mode())
	return e
}
