package zipstream

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDOSTimeRoundTrip(t *testing.T) {
	// MS-DOS date/time has 2 second resolution, so round to an even
	// second before comparing.
	want := time.Date(2023, time.November, 5, 14, 32, 18, 0, time.UTC)
	date, dosTime := timeToMsDosTime(want)
	got := msDosTimeToTime(date, dosTime)
	require.Equal(t, want.Truncate(2*time.Second), got)
}

func TestZip64TriggerMatrix(t *testing.T) {
	tests := []struct {
		name              string
		compressedSize    uint64
		uncompressedSize  uint64
		offset            uint64
		wantLocalZip64    bool
		wantRequiresZip64 bool
	}{
		{"small entry", 100, 200, 0, false, false},
		{"large compressed size", uint32max + 1, 200, 0, true, true},
		{"large uncompressed size", 100, uint32max + 1, 0, true, true},
		{"large offset only", 100, 200, uint32max + 1, false, true},
		{"exactly at boundary", uint32max, uint32max, uint32max, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := &Entry{CompressedSize64: tc.compressedSize, UncompressedSize64: tc.uncompressedSize}
			e.offset = tc.offset
			require.Equal(t, tc.wantLocalZip64, e.isZip64())
			require.Equal(t, tc.wantRequiresZip64, e.requiresZip64())
		})
	}
}

func TestModeRoundTrip(t *testing.T) {
	e := &Entry{Name: "bin/tool"}
	e.SetMode(0o755)
	require.Equal(t, os.FileMode(0o755), e.Mode())

	dir := &Entry{Name: "pkg/"}
	dir.SetMode(os.ModeDir | 0o755)
	require.True(t, dir.Mode().IsDir())
}

func TestNewEntryFromFileInfo(t *testing.T) {
	fi, err := os.Stat("struct.go")
	require.NoError(t, err)

	e := NewEntryFromFileInfo(fi)
	require.Equal(t, "struct.go", e.Name)
	require.Equal(t, uint64(fi.Size()), e.UncompressedSize64)
	require.False(t, e.Mode().IsDir())
}
