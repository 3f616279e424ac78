package zipstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeduplicatorRenamesCollisions(t *testing.T) {
	d := NewDeduplicator()
	require.Equal(t, "report.pdf", d.Resolve("report.pdf"))
	require.Equal(t, "report (1).pdf", d.Resolve("report.pdf"))
	require.Equal(t, "report (2).pdf", d.Resolve("report.pdf"))
}

func TestDeduplicatorHandlesDirectories(t *testing.T) {
	d := NewDeduplicator()
	require.Equal(t, "photos/", d.Resolve("photos/"))
	require.Equal(t, "photos (1)/", d.Resolve("photos/"))
}

func TestDeduplicatorHandlesExtensionlessNames(t *testing.T) {
	d := NewDeduplicator()
	require.Equal(t, "README", d.Resolve("README"))
	require.Equal(t, "README (1)", d.Resolve("README"))
}

func TestDeduplicatorHandlesDoubleExtensions(t *testing.T) {
	d := NewDeduplicator()
	require.Equal(t, "archive.tar.gz", d.Resolve("archive.tar.gz"))
	require.Equal(t, "archive (1).tar.gz", d.Resolve("archive.tar.gz"))

	d2 := NewDeduplicator()
	require.Equal(t, "bundle.tar.zip", d2.Resolve("bundle.tar.zip"))
	require.Equal(t, "bundle (1).tar.zip", d2.Resolve("bundle.tar.zip"))
}

func TestDeduplicatorSkipsAlreadyTakenNumberedName(t *testing.T) {
	d := NewDeduplicator()
	require.Equal(t, "a.txt", d.Resolve("a.txt"))
	require.Equal(t, "a (1).txt", d.Resolve("a (1).txt"))
	// The next collision on "a.txt" must skip over "a (1).txt", which
	// was independently claimed above.
	require.Equal(t, "a (2).txt", d.Resolve("a.txt"))
}
