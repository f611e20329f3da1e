package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	goversion "github.com/hashicorp/go-version"

	"github.com/dagimg-dot/spotinstaller/internal/config"
	"github.com/dagimg-dot/spotinstaller/internal/deb"
	"github.com/dagimg-dot/spotinstaller/internal/logger"
	"github.com/dagimg-dot/spotinstaller/internal/platform"
	"github.com/dagimg-dot/spotinstaller/internal/repo"
	"github.com/dagimg-dot/spotinstaller/internal/version"
)

// Options are inputs accepted by the installer entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Force reinstalls even when the installed version is current.
	Force bool
	// AssumeYes skips the interactive confirmation.
	AssumeYes bool
	// CheckOnly reports the comparison without downloading anything.
	CheckOnly bool
}

// Result tells the CLI how the run ended.
type Result int

const (
	// ResultUpToDate means the installed client already matches the pool.
	ResultUpToDate Result = iota
	// ResultInstalled means a first install completed.
	ResultInstalled
	// ResultUpdated means an existing install was replaced with a newer package.
	ResultUpdated
	// ResultUpdateAvailable is reported by check-only runs when the pool is ahead.
	ResultUpdateAvailable
	// ResultDeclined means the user answered no at the confirmation prompt.
	ResultDeclined
)

// runner holds the mutable state and helpers for a single installer execution.
// It is intentionally unexported, call Run(ctx, Options) from callers.
type runner struct {
	cfg          *config.Config
	host         platform.Info
	pool         *repo.Client
	installed    *goversion.Version // nil when the client is not installed
	installedRaw string             // version string as reported by the binary
	pkg          *repo.Package      // newest package found in the pool
	stagingDir   string             // where the payload is unpacked before the swap
	archivePath  string             // downloaded .deb, removed on success
}

// Run executes the installer lifecycle and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) (Result, error) {
	ctx = logger.WithName(ctx, "spotinstaller")

	r, err := newRunner(ctx, opts)
	if err != nil {
		return ResultUpToDate, err
	}

	defer r.cleanup(ctx)

	result, err := r.run(ctx, opts)
	if err != nil {
		logger.ErrorKV(ctx, "Installer run failed", "error", err)
		return result, err
	}

	return result, nil
}

// newRunner loads settings and verifies the host before any work happens.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	r := &runner{
		cfg:  cfg,
		host: platform.Detect(ctx),
		pool: repo.NewClient(cfg.PoolURL, cfg.Timeout),
	}

	fmt.Printf("spotinstaller %s, user-local Spotify client installer\n", version.Short())
	fmt.Printf("Host: %s\n", r.host)

	if err = r.host.Supported(); err != nil {
		return nil, err
	}

	return r, nil
}

// run executes the ordered flow:
// 1) Detect the installed version by probing the binary.
// 2) Fetch the newest package from the pool listing.
// 3) Compare and stop when nothing is to be done.
// 4) Confirm with the user when interactive.
// 5) Stop running player processes.
// 6) Download, unpack, swap the tree, refresh the links.
func (r *runner) run(ctx context.Context, opts *Options) (Result, error) {
	r.detectInstalledVersion(ctx)

	logger.InfoKV(ctx, "Fetching pool listing", "url", r.cfg.PoolURL)

	pkg, err := r.pool.Latest(ctx)
	if err != nil {
		return ResultUpToDate, fmt.Errorf("find latest package: %w", err)
	}

	r.pkg = pkg
	firstInstall := r.installed == nil

	updateNeeded := firstInstall || pkg.Numeric.GreaterThan(r.installed)
	r.reportComparison(ctx, updateNeeded)

	if opts.CheckOnly {
		if updateNeeded {
			return ResultUpdateAvailable, nil
		}

		return ResultUpToDate, nil
	}

	if !updateNeeded && !opts.Force {
		return ResultUpToDate, nil
	}

	if !confirm(opts.AssumeYes, promptQuestion(firstInstall, pkg.Version)) {
		logger.Info(ctx, "Aborted at user request")
		return ResultDeclined, nil
	}

	if err = r.install(ctx); err != nil {
		return ResultUpToDate, err
	}

	if firstInstall {
		return ResultInstalled, nil
	}

	return ResultUpdated, nil
}

// install performs the download/unpack/link sequence for the selected package.
func (r *runner) install(ctx context.Context) error {
	logger.Info(ctx, "Stopping running player processes")

	if err := stopPlayerProcesses(ctx); err != nil {
		return fmt.Errorf("stop player processes: %w", err)
	}

	logger.InfoKV(ctx, "Downloading package", "url", r.pkg.URL)

	archivePath, err := r.download(ctx)
	if err != nil {
		return fmt.Errorf("download package: %w", err)
	}

	r.archivePath = archivePath

	logger.Info(ctx, "Unpacking package payload")

	if err = r.unpack(ctx); err != nil {
		return fmt.Errorf("unpack package: %w", err)
	}

	logger.Info(ctx, "Refreshing launcher symlink and desktop entry")

	if err = r.link(ctx); err != nil {
		return fmt.Errorf("install links: %w", err)
	}

	// The archive is only removed after a fully successful run; a failed run
	// leaves it for the next attempt to reuse.
	_ = os.Remove(r.archivePath)
	r.archivePath = ""

	return nil
}

// detectInstalledVersion probes the installed binary with its version flag.
// A missing binary or unparsable output means "not installed"; a first
// install must not fail here.
func (r *runner) detectInstalledVersion(ctx context.Context) {
	p := newPaths(r.cfg)

	cmdCtx, cancel := context.WithTimeout(ctx, versionCommandTimeout)
	defer cancel()

	output, err := exec.CommandContext(cmdCtx, p.symlink, "--version").Output()
	if err != nil {
		logger.Infof(ctx, "No installed client detected (%v)", err)
		return
	}

	reported := reportedVersionPattern.FindString(string(output))
	if reported == "" {
		logger.Warnf(ctx, "Could not parse version from %q, treating as not installed", string(output))
		return
	}

	parsed, err := repo.ParseInstalledVersion(reported)
	if err != nil {
		logger.Warnf(ctx, "Could not parse version %q: %v", reported, err)
		return
	}

	r.installed = parsed
	r.installedRaw = reported
}

// reportComparison prints the decision the way the user sees it.
func (r *runner) reportComparison(ctx context.Context, updateNeeded bool) {
	switch {
	case r.installed == nil:
		logger.InfoKV(ctx, "Client is not installed", "available", r.pkg.Version)
	case updateNeeded:
		logger.InfoKV(ctx, "Update available",
			"installed", r.installedRaw, "available", r.pkg.Version)
	default:
		logger.InfoKV(ctx, "Client is up to date", "installed", r.installedRaw)
	}
}

// unpack extracts the payload into a staging directory next to the prefix
// and swaps it into place, so a failed extraction never destroys a working
// install.
func (r *runner) unpack(ctx context.Context) error {
	parent := filepath.Dir(r.cfg.Prefix)
	if err := os.MkdirAll(parent, dirPermissions); err != nil {
		return fmt.Errorf("create install parent: %w", err)
	}

	stagingDir, err := os.MkdirTemp(parent, stagingPattern)
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	r.stagingDir = stagingDir

	if err = deb.Extract(ctx, r.archivePath, stagingDir); err != nil {
		return err
	}

	if _, err = os.Stat(filepath.Join(stagingDir, filepath.FromSlash(payloadShareDir), BinaryName)); err != nil {
		return fmt.Errorf("payload has no client binary: %w", err)
	}

	if err = os.RemoveAll(r.cfg.Prefix); err != nil {
		return fmt.Errorf("remove previous install: %w", err)
	}

	if err = os.Rename(stagingDir, r.cfg.Prefix); err != nil {
		return fmt.Errorf("move new install into place: %w", err)
	}

	r.stagingDir = ""

	return nil
}

// link refreshes the launcher symlink and the rewritten desktop entry.
func (r *runner) link(ctx context.Context) error {
	p := newPaths(r.cfg)

	if err := replaceSymlink(p.binary, p.symlink); err != nil {
		return fmt.Errorf("create launcher symlink: %w", err)
	}

	logger.InfoKV(ctx, "Symlink created", "link", p.symlink, "target", p.binary)

	if err := installDesktopEntry(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn(ctx, "Payload ships no desktop entry, skipping")
			return nil
		}

		return fmt.Errorf("install desktop entry: %w", err)
	}

	logger.InfoKV(ctx, "Desktop entry installed", "path", p.desktopDest)

	return nil
}

// cleanup removes the staging directory. Archives are handled in install:
// a partially downloaded or unused archive stays behind for the next run.
func (r *runner) cleanup(ctx context.Context) {
	if r.stagingDir != "" {
		if _, err := os.Stat(r.stagingDir); err == nil {
			_ = os.RemoveAll(r.stagingDir)
		}
	}

	logger.Debug(ctx, "Installer finished")
}

// promptQuestion phrases the confirmation for first installs and updates.
func promptQuestion(firstInstall bool, pkgVersion string) string {
	if firstInstall {
		return fmt.Sprintf("Install Spotify client %s?", pkgVersion)
	}

	return fmt.Sprintf("Update Spotify client to %s?", pkgVersion)
}
