// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package zipstream produces and parses ZIP archives whose defining
constraint is that the output sink is append-only: nothing written is
ever seeked back over, rewound, or patched. That makes a Streamer
suitable for piping straight into an HTTP response body, a socket, or
any other one-shot transport.

The write side is driven by Streamer, which sequences entries, tracks
absolute output offsets, and decides per entry whether Zip64 is
required. StoredSink and DeflatedSink compute CRC32 and sizes on the
fly so that a data descriptor can be emitted once the payload has
passed through. ZipWriter is the stateless encoder underneath all of
that: every method takes the exact field values to emit and carries no
state of its own.

The read side is FileReader, which locates the end-of-central-directory
record near the tail of a seekable source, follows the Zip64 locator
when present, and decodes central directory entries into DirectoryEntry
values.

See https://www.pkware.com/appnote for the format this package
implements (the subset described in the package-level components'
doc comments: local file headers, data descriptors, central directory
entries, end-of-central-directory records, Zip64 variants, and the
extended-timestamp extra field). Disk spanning, encryption, and
storage modes other than stored (0) and deflated (8) are not
supported.
*/
package zipstream
