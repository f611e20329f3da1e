package installer

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/dagimg-dot/spotinstaller/internal/config"
)

const (
	// BinaryName is the player executable name, both in the payload and as symlink.
	BinaryName = "spotify"

	// DesktopEntryName is the desktop entry shipped inside the payload.
	DesktopEntryName = "spotify.desktop"

	// payloadShareDir is where the client tree lands inside the unpacked payload.
	payloadShareDir = "usr/share/spotify"

	// versionCommandTimeout bounds the probe of the installed binary.
	versionCommandTimeout = 10 * time.Second

	// stagingPattern names the temporary unpack directory next to the prefix.
	stagingPattern = ".spotify-client-staging-"

	dirPermissions     = 0o755
	desktopPermissions = 0o644
)

// reportedVersionPattern extracts the version token from the output of
// `spotify --version`, e.g.
// "Spotify version 1.2.31.1205.g4d59ad7c, Copyright (C) 2024 Spotify Ltd".
var reportedVersionPattern = regexp.MustCompile(`\d+(?:\.\d+){3}(?:\.g[0-9a-f]+)*`)

// paths derives every filesystem location the runner touches from the config.
type paths struct {
	prefix      string
	shareDir    string // unpacked client tree: <prefix>/usr/share/spotify
	binary      string // real executable inside shareDir
	symlink     string // <bin_dir>/spotify
	desktopSrc  string // desktop entry shipped in the payload
	desktopDest string // rewritten entry in applications_dir
	cacheDir    string
}

func newPaths(cfg *config.Config) paths {
	shareDir := filepath.Join(cfg.Prefix, filepath.FromSlash(payloadShareDir))

	return paths{
		prefix:      cfg.Prefix,
		shareDir:    shareDir,
		binary:      filepath.Join(shareDir, BinaryName),
		symlink:     filepath.Join(cfg.BinDir, BinaryName),
		desktopSrc:  filepath.Join(shareDir, DesktopEntryName),
		desktopDest: filepath.Join(cfg.ApplicationsDir, DesktopEntryName),
		cacheDir:    cfg.CacheDir,
	}
}

// replaceSymlink points linkPath at target, replacing whatever was there.
func replaceSymlink(target, linkPath string) error {
	if err := os.MkdirAll(filepath.Dir(linkPath), dirPermissions); err != nil {
		return err
	}

	if _, err := os.Lstat(linkPath); err == nil {
		if err = os.Remove(linkPath); err != nil {
			return err
		}
	}

	return os.Symlink(target, linkPath)
}

// removeIfPresent deletes a path and reports whether anything was there.
func removeIfPresent(path string) (bool, error) {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	if err := os.RemoveAll(path); err != nil {
		return false, err
	}

	return true, nil
}
