package selfupdate

import (
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"runtime"

	goupdate "github.com/doitdistributed/go-update"
	goversion "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"github.com/dagimg-dot/spotinstaller/internal/config"
	"github.com/dagimg-dot/spotinstaller/internal/logger"
	"github.com/dagimg-dot/spotinstaller/internal/version"

	// Ensure SHA512 is available for checksum verification.
	_ "crypto/sha512"
)

var (
	errNoSelfUpdateURL = errors.New("self_update_url is not configured")
	errBadHTTPStatus   = errors.New("unexpected http status")
	errNoPlatformBuild = errors.New("release has no build for this platform")
)

const (
	// ManifestFilename describes the published installer release.
	ManifestFilename = "manifest.yaml"

	// targetMode is the mode applied to the replaced binary.
	targetMode os.FileMode = 0o755

	// checksumFunction hashes release binaries in the manifest.
	checksumFunction = crypto.SHA512
)

// Manifest describes a published installer release.
type Manifest struct {
	// Version is the semantic version of the release.
	Version string `yaml:"version"`
	// Binaries maps "<GOOS>_<GOARCH>" to the release artifact.
	Binaries map[string]Binary `yaml:"binaries"`
}

// Binary is one platform artifact of a release.
type Binary struct {
	// File is the artifact name relative to the manifest location.
	File string `yaml:"file"`
	// Checksum is the base64-encoded SHA-512 of the artifact.
	Checksum string `yaml:"checksum"`
}

// Options are inputs accepted by the self-update entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
}

// Run replaces the running installer binary when the release endpoint
// publishes a newer version.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "self-update")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if cfg.SelfUpdateURL == "" {
		return errNoSelfUpdateURL
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	manifest, err := fetchManifest(ctx, httpClient, cfg.SelfUpdateURL)
	if err != nil {
		return fmt.Errorf("fetch release manifest: %w", err)
	}

	current, err := goversion.NewVersion(version.Short())
	if err != nil {
		return fmt.Errorf("parse build version: %w", err)
	}

	published, err := goversion.NewVersion(manifest.Version)
	if err != nil {
		return fmt.Errorf("parse release version: %w", err)
	}

	if !published.GreaterThan(current) {
		logger.InfoKV(ctx, "Installer is up to date", "version", version.Short())
		return nil
	}

	platformKey := runtime.GOOS + "_" + runtime.GOARCH

	binary, ok := manifest.Binaries[platformKey]
	if !ok {
		return fmt.Errorf("%s: %w", platformKey, errNoPlatformBuild)
	}

	logger.InfoKV(ctx, "Updating installer",
		"from", version.Short(), "to", manifest.Version)

	if err = apply(ctx, httpClient, cfg.SelfUpdateURL, binary); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Installer updated", "version", manifest.Version)

	return nil
}

// fetchManifest downloads and parses the release manifest.
func fetchManifest(ctx context.Context, httpClient *http.Client, baseURL string) (*Manifest, error) {
	body, err := fetch(ctx, httpClient, baseURL, ManifestFilename)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = body.Close()
	}()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err = yaml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// apply downloads the artifact, verifies its checksum and swaps the binary.
func apply(ctx context.Context, httpClient *http.Client, baseURL string, binary Binary) error {
	checksum, err := base64.StdEncoding.DecodeString(binary.Checksum)
	if err != nil {
		return fmt.Errorf("decode release checksum: %w", err)
	}

	body, err := fetch(ctx, httpClient, baseURL, binary.File)
	if err != nil {
		return fmt.Errorf("download release binary: %w", err)
	}

	defer func() {
		_ = body.Close()
	}()

	options := goupdate.Options{
		TargetMode: targetMode,
		Checksum:   checksum,
		Hash:       checksumFunction,
	}

	if err = goupdate.Apply(body, options); err != nil {
		return fmt.Errorf("apply installer update: %w", err)
	}

	// go-update leaves the previous binary as <name>.old on some platforms.
	if executable, execErr := os.Executable(); execErr == nil {
		oldName := executable + ".old"
		if _, statErr := os.Stat(oldName); statErr == nil {
			_ = os.Remove(oldName)
		}
	}

	return nil
}

// fetch GETs a file relative to the release base URL.
func fetch(ctx context.Context, httpClient *http.Client, baseURL, fileName string) (io.ReadCloser, error) {
	releaseURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	// path.Join normalizes duplicate slashes when composing the URL path.
	releaseURL.Path = path.Join(releaseURL.Path, fileName)
	finalURL := releaseURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", finalURL, resp.Status, errBadHTTPStatus)
	}

	return resp.Body, nil
}
