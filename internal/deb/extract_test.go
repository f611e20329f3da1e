package deb

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// tarEntry describes one payload member for test archives.
type tarEntry struct {
	name     string
	typeflag byte
	linkname string
	mode     int64
	body     []byte
}

// buildDeb assembles a minimal debian 2.0 archive with a gzipped data member.
func buildDeb(t *testing.T, entries []tarEntry) string {
	t.Helper()

	var data bytes.Buffer

	gz := gzip.NewWriter(&data)
	tw := tar.NewWriter(gz)

	for _, entry := range entries {
		mode := entry.mode
		if mode == 0 {
			mode = 0o644
		}

		header := &tar.Header{
			Name:     entry.name,
			Typeflag: entry.typeflag,
			Linkname: entry.linkname,
			Mode:     mode,
			Size:     int64(len(entry.body)),
			ModTime:  time.Now(),
		}

		require.NoError(t, tw.WriteHeader(header))

		if len(entry.body) > 0 {
			_, err := tw.Write(entry.body)
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	var archive bytes.Buffer

	aw := ar.NewWriter(&archive)
	require.NoError(t, aw.WriteGlobalHeader())

	writeMember := func(name string, body []byte) {
		header := &ar.Header{
			Name:    name,
			ModTime: time.Now(),
			Mode:    0o644,
			Size:    int64(len(body)),
		}
		require.NoError(t, aw.WriteHeader(header))

		_, err := aw.Write(body)
		require.NoError(t, err)
	}

	writeMember("debian-binary", []byte("2.0\n"))
	writeMember("control.tar.gz", []byte("ignored"))
	writeMember("data.tar.gz", data.Bytes())

	path := filepath.Join(t.TempDir(), "test.deb")
	require.NoError(t, os.WriteFile(path, archive.Bytes(), 0o644))

	return path
}

// TestExtract unpacks dirs, files, modes and relative symlinks.
func TestExtract(t *testing.T) {
	t.Parallel()

	debPath := buildDeb(t, []tarEntry{
		{name: "./usr/", typeflag: tar.TypeDir},
		{name: "./usr/share/spotify/", typeflag: tar.TypeDir},
		{name: "./usr/share/spotify/spotify", typeflag: tar.TypeReg, mode: 0o755, body: []byte("#!/bin/sh\necho player\n")},
		{name: "./usr/share/spotify/spotify.desktop", typeflag: tar.TypeReg, body: []byte("[Desktop Entry]\nName=Spotify\n")},
		{name: "./usr/bin/spotify", typeflag: tar.TypeSymlink, linkname: "../share/spotify/spotify"},
	})

	dest := t.TempDir()
	require.NoError(t, Extract(context.Background(), debPath, dest))

	info, err := os.Stat(filepath.Join(dest, "usr", "share", "spotify", "spotify"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	linkTarget, err := os.Readlink(filepath.Join(dest, "usr", "bin", "spotify"))
	require.NoError(t, err)
	require.Equal(t, "../share/spotify/spotify", linkTarget)

	// The symlink resolves to the real binary.
	resolved, err := os.Stat(filepath.Join(dest, "usr", "bin", "spotify"))
	require.NoError(t, err)
	require.False(t, resolved.IsDir())
}

// TestExtractHardlinkWithoutParentEntry creates hardlinks whose parent
// directory has no tar entry of its own.
func TestExtractHardlinkWithoutParentEntry(t *testing.T) {
	t.Parallel()

	debPath := buildDeb(t, []tarEntry{
		{name: "./usr/share/spotify/licenses.txt", typeflag: tar.TypeReg, body: []byte("MIT\n")},
		{name: "./usr/share/doc/spotify/licenses.txt", typeflag: tar.TypeLink, linkname: "./usr/share/spotify/licenses.txt"},
	})

	dest := t.TempDir()
	require.NoError(t, Extract(context.Background(), debPath, dest))

	linked, err := os.ReadFile(filepath.Join(dest, "usr", "share", "doc", "spotify", "licenses.txt"))
	require.NoError(t, err)
	require.Equal(t, "MIT\n", string(linked))
}

// TestExtractRejectsTraversal refuses entries that escape the destination.
func TestExtractRejectsTraversal(t *testing.T) {
	t.Parallel()

	debPath := buildDeb(t, []tarEntry{
		{name: "../outside", typeflag: tar.TypeReg, body: []byte("nope")},
	})

	err := Extract(context.Background(), debPath, t.TempDir())
	require.ErrorIs(t, err, errUnsafePath)
}

// TestExtractRejectsEscapingSymlink refuses links pointing out of the tree.
func TestExtractRejectsEscapingSymlink(t *testing.T) {
	t.Parallel()

	debPath := buildDeb(t, []tarEntry{
		{name: "./usr/bin/evil", typeflag: tar.TypeSymlink, linkname: "../../../../etc/passwd"},
	})

	err := Extract(context.Background(), debPath, t.TempDir())
	require.ErrorIs(t, err, errUnsafeLinkDestination)
}

// TestExtractRejectsNonDeb fails on archives without the 2.0 format member.
func TestExtractRejectsNonDeb(t *testing.T) {
	t.Parallel()

	var archive bytes.Buffer

	aw := ar.NewWriter(&archive)
	require.NoError(t, aw.WriteGlobalHeader())
	require.NoError(t, aw.WriteHeader(&ar.Header{
		Name:    "random.txt",
		ModTime: time.Now(),
		Mode:    0o644,
		Size:    5,
	}))

	_, err := aw.Write([]byte("hello"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bad.deb")
	require.NoError(t, os.WriteFile(path, archive.Bytes(), 0o644))

	err = Extract(context.Background(), path, t.TempDir())
	require.ErrorIs(t, err, errNotDebArchive)
}
