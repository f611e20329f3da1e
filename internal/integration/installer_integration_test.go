package integration

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/dagimg-dot/spotinstaller/internal/config"
	"github.com/dagimg-dot/spotinstaller/internal/platform"
	"github.com/dagimg-dot/spotinstaller/internal/service/installer"
)

// buildClientDeb assembles a .deb whose payload mimics the vendor package:
// a fake player script reporting the given version plus a desktop entry.
func buildClientDeb(t *testing.T, reportedVersion string) []byte {
	t.Helper()

	script := fmt.Sprintf("#!/bin/sh\necho \"Spotify version %s, Copyright (C) 2024, Spotify Ltd\"\n", reportedVersion)
	desktop := "[Desktop Entry]\nType=Application\nName=Spotify\nIcon=spotify-client\nExec=spotify %U\n"

	var data bytes.Buffer

	gz := gzip.NewWriter(&data)
	tw := tar.NewWriter(gz)

	writeTar := func(name string, typeflag byte, mode int64, body string) {
		header := &tar.Header{
			Name:     name,
			Typeflag: typeflag,
			Mode:     mode,
			Size:     int64(len(body)),
			ModTime:  time.Now(),
		}
		require.NoError(t, tw.WriteHeader(header))

		if body != "" {
			_, err := tw.Write([]byte(body))
			require.NoError(t, err)
		}
	}

	writeTar("./usr/", tar.TypeDir, 0o755, "")
	writeTar("./usr/share/spotify/", tar.TypeDir, 0o755, "")
	writeTar("./usr/share/spotify/spotify", tar.TypeReg, 0o755, script)
	writeTar("./usr/share/spotify/spotify.desktop", tar.TypeReg, 0o644, desktop)

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
	writeMember("data.tar.gz", data.Bytes())

	return archive.Bytes()
}

// poolServer serves a directory listing plus the package archive, the way
// the vendor pool does.
func poolServer(t *testing.T, pkgVersion string, debBytes []byte) *httptest.Server {
	t.Helper()

	filename := fmt.Sprintf("spotify-client_%s-1_amd64.deb", pkgVersion)
	listing := fmt.Sprintf(
		`<html><body><pre><a href="../">../</a>`+"\n"+
			`<a href="%s">%s</a>  03-Jul-2024  139M`+"\n"+
			`</pre></body></html>`, filename, filename)

	mux := http.NewServeMux()
	mux.HandleFunc("/pool/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(listing))
	})
	mux.HandleFunc("/pool/"+filename, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(debBytes)))
		_, _ = w.Write(debBytes)
	})

	return httptest.NewServer(mux)
}

// writeSettings points every installer location into the test directory.
func writeSettings(t *testing.T, dir, poolURL string) string {
	t.Helper()

	cfgPath := filepath.Join(dir, config.DefaultConfigFilename)
	cfg := &config.Config{
		PoolURL:         poolURL,
		Prefix:          filepath.Join(dir, "share", "spotify-client"),
		BinDir:          filepath.Join(dir, "bin"),
		ApplicationsDir: filepath.Join(dir, "applications"),
		CacheDir:        filepath.Join(dir, "cache"),
		Timeout:         30 * time.Second,
	}

	require.NoError(t, config.Save(cfgPath, cfg))

	return cfgPath
}

// requireSupportedHost skips when the vendor ships no package for this host,
// since the runner refuses to proceed there.
func requireSupportedHost(t *testing.T) {
	t.Helper()

	if err := platform.Detect(context.Background()).Supported(); err != nil {
		t.Skipf("host not supported by vendor package: %v", err)
	}
}

// TestInstaller_Run_FirstInstall goes through the full flow against a
// synthetic pool: download, unpack, symlink, desktop entry.
func TestInstaller_Run_FirstInstall(t *testing.T) {
	requireSupportedHost(t)

	const pkgVersion = "1.2.31.1205.g4d59ad7c"

	dir := t.TempDir()
	ts := poolServer(t, pkgVersion, buildClientDeb(t, pkgVersion))

	defer ts.Close()

	cfgPath := writeSettings(t, dir, ts.URL+"/pool/")

	result, err := installer.Run(context.Background(), &installer.Options{
		ConfigPath: cfgPath,
		AssumeYes:  true,
	})
	require.NoError(t, err)
	require.Equal(t, installer.ResultInstalled, result)

	// The launcher symlink resolves to the unpacked binary.
	binaryPath := filepath.Join(dir, "share", "spotify-client", "usr", "share", "spotify", "spotify")
	linkTarget, err := os.Readlink(filepath.Join(dir, "bin", "spotify"))
	require.NoError(t, err)
	require.Equal(t, binaryPath, linkTarget)

	info, err := os.Stat(binaryPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	// The desktop entry points at the symlink, not the bare name.
	entry, err := os.ReadFile(filepath.Join(dir, "applications", "spotify.desktop"))
	require.NoError(t, err)
	require.Contains(t, string(entry), "Exec="+filepath.Join(dir, "bin", "spotify")+" %U")

	// A successful run leaves no archive behind.
	matches, err := filepath.Glob(filepath.Join(dir, "cache", "*.deb"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

// TestInstaller_Run_UpToDateAfterInstall verifies the installed fake binary
// is probed for its version and a second run does nothing.
func TestInstaller_Run_UpToDateAfterInstall(t *testing.T) {
	requireSupportedHost(t)

	const pkgVersion = "1.2.31.1205.g4d59ad7c"

	dir := t.TempDir()
	ts := poolServer(t, pkgVersion, buildClientDeb(t, pkgVersion))

	defer ts.Close()

	cfgPath := writeSettings(t, dir, ts.URL+"/pool/")
	opts := &installer.Options{ConfigPath: cfgPath, AssumeYes: true}

	result, err := installer.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, installer.ResultInstalled, result)

	result, err = installer.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, installer.ResultUpToDate, result)
}

// TestInstaller_Run_CheckReportsUpdate verifies check-only runs never touch
// the filesystem and report a pending update.
func TestInstaller_Run_CheckReportsUpdate(t *testing.T) {
	requireSupportedHost(t)

	dir := t.TempDir()
	ts := poolServer(t, "1.2.40.599.g606b7f29", buildClientDeb(t, "1.2.40.599.g606b7f29"))

	defer ts.Close()

	cfgPath := writeSettings(t, dir, ts.URL+"/pool/")

	result, err := installer.Run(context.Background(), &installer.Options{
		ConfigPath: cfgPath,
		CheckOnly:  true,
	})
	require.NoError(t, err)
	require.Equal(t, installer.ResultUpdateAvailable, result)

	// Nothing was installed.
	_, err = os.Lstat(filepath.Join(dir, "bin", "spotify"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestInstaller_Run_UpdateReplacesOldVersion installs an old fake client and
// verifies the runner upgrades it in place.
func TestInstaller_Run_UpdateReplacesOldVersion(t *testing.T) {
	requireSupportedHost(t)

	const (
		oldVersion = "1.2.26.1187.g36b715a1"
		newVersion = "1.2.31.1205.g4d59ad7c"
	)

	dir := t.TempDir()

	// First install the old version from its own pool.
	oldServer := poolServer(t, oldVersion, buildClientDeb(t, oldVersion))
	cfgPath := writeSettings(t, dir, oldServer.URL+"/pool/")
	opts := &installer.Options{ConfigPath: cfgPath, AssumeYes: true}

	result, err := installer.Run(context.Background(), opts)
	oldServer.Close()
	require.NoError(t, err)
	require.Equal(t, installer.ResultInstalled, result)

	// Then point the same install at a pool carrying the newer package.
	newServer := poolServer(t, newVersion, buildClientDeb(t, newVersion))
	defer newServer.Close()

	cfgPath = writeSettings(t, dir, newServer.URL+"/pool/")
	opts.ConfigPath = cfgPath

	result, err = installer.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, installer.ResultUpdated, result)

	// The probe now reports the new version.
	output, err := os.ReadFile(filepath.Join(dir, "share", "spotify-client", "usr", "share", "spotify", "spotify"))
	require.NoError(t, err)
	require.Contains(t, string(output), newVersion)
}

// countingPoolServer is poolServer with a counter on archive GETs. With
// serveArchive false those GETs answer 404 while HEAD still reports the
// package size, so the cached copy is the only way an install can succeed.
func countingPoolServer(t *testing.T, pkgVersion string, debBytes []byte, serveArchive bool) (*httptest.Server, *atomic.Int64, string) {
	t.Helper()

	filename := fmt.Sprintf("spotify-client_%s-1_amd64.deb", pkgVersion)
	listing := fmt.Sprintf(
		`<html><body><pre><a href="../">../</a>`+"\n"+
			`<a href="%s">%s</a>  03-Jul-2024  139M`+"\n"+
			`</pre></body></html>`, filename, filename)

	var archiveGets atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/pool/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(listing))
	})
	mux.HandleFunc("/pool/"+filename, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(debBytes)))
			return
		}

		archiveGets.Add(1)

		if !serveArchive {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(debBytes)))
		_, _ = w.Write(debBytes)
	})

	return httptest.NewServer(mux), &archiveGets, filename
}

// TestInstaller_Run_RedownloadsSizeMismatchedArchive pre-seeds the cache with
// a truncated archive and verifies the installer fetches a fresh copy instead
// of unpacking the stale one.
func TestInstaller_Run_RedownloadsSizeMismatchedArchive(t *testing.T) {
	requireSupportedHost(t)

	const pkgVersion = "1.2.31.1205.g4d59ad7c"

	dir := t.TempDir()
	debBytes := buildClientDeb(t, pkgVersion)
	ts, archiveGets, filename := countingPoolServer(t, pkgVersion, debBytes, true)

	defer ts.Close()

	cacheDir := filepath.Join(dir, "cache")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, filename), []byte("truncated"), 0o644))

	cfgPath := writeSettings(t, dir, ts.URL+"/pool/")

	result, err := installer.Run(context.Background(), &installer.Options{
		ConfigPath: cfgPath,
		AssumeYes:  true,
	})
	require.NoError(t, err)
	require.Equal(t, installer.ResultInstalled, result)
	require.EqualValues(t, 1, archiveGets.Load())

	// The finished download was renamed into place, nothing partial remains.
	matches, err := filepath.Glob(filepath.Join(cacheDir, "*.partial"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

// TestInstaller_Run_ReusesCompleteArchive pre-seeds the cache with the full
// archive and serves 404 on archive GETs, so the install can only succeed by
// unpacking the cached copy.
func TestInstaller_Run_ReusesCompleteArchive(t *testing.T) {
	requireSupportedHost(t)

	const pkgVersion = "1.2.31.1205.g4d59ad7c"

	dir := t.TempDir()
	debBytes := buildClientDeb(t, pkgVersion)
	ts, archiveGets, filename := countingPoolServer(t, pkgVersion, debBytes, false)

	defer ts.Close()

	cacheDir := filepath.Join(dir, "cache")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, filename), debBytes, 0o644))

	cfgPath := writeSettings(t, dir, ts.URL+"/pool/")

	result, err := installer.Run(context.Background(), &installer.Options{
		ConfigPath: cfgPath,
		AssumeYes:  true,
	})
	require.NoError(t, err)
	require.Equal(t, installer.ResultInstalled, result)
	require.EqualValues(t, 0, archiveGets.Load())
}

// TestInstaller_Uninstall_RemovesEverything installs from a synthetic pool
// and verifies uninstall clears all four locations, then tolerates a second
// run with nothing left to remove.
func TestInstaller_Uninstall_RemovesEverything(t *testing.T) {
	requireSupportedHost(t)

	const pkgVersion = "1.2.31.1205.g4d59ad7c"

	dir := t.TempDir()
	ts := poolServer(t, pkgVersion, buildClientDeb(t, pkgVersion))

	defer ts.Close()

	cfgPath := writeSettings(t, dir, ts.URL+"/pool/")
	opts := &installer.Options{ConfigPath: cfgPath, AssumeYes: true}

	result, err := installer.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, installer.ResultInstalled, result)

	require.NoError(t, installer.Uninstall(context.Background(), opts))

	for _, path := range []string{
		filepath.Join(dir, "bin", "spotify"),
		filepath.Join(dir, "applications", "spotify.desktop"),
		filepath.Join(dir, "share", "spotify-client"),
		filepath.Join(dir, "cache"),
	} {
		_, err = os.Lstat(path)
		require.ErrorIs(t, err, os.ErrNotExist)
	}

	// A second pass finds everything already absent and still succeeds.
	require.NoError(t, installer.Uninstall(context.Background(), opts))
}
