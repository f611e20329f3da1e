package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds locations and endpoints used by the installer.
type Config struct {
	// PoolURL is the vendor repository pool listing where client packages are published.
	PoolURL string `yaml:"pool_url"`
	// Prefix is the root of the user-local install tree.
	Prefix string `yaml:"prefix"`
	// BinDir is where the launcher symlink is created.
	BinDir string `yaml:"bin_dir"`
	// ApplicationsDir is where the rewritten desktop entry is placed.
	ApplicationsDir string `yaml:"applications_dir"`
	// CacheDir is where downloaded archives are kept between runs.
	CacheDir string `yaml:"cache_dir"`
	// Timeout bounds every network operation, downloads included.
	Timeout time.Duration `yaml:"timeout"`
	// SelfUpdateURL is the base URL hosting the installer's own release manifest.
	SelfUpdateURL string `yaml:"self_update_url"`
}

const (
	// DefaultConfigFilename is the settings file name under the user config directory.
	DefaultConfigFilename = "settings.yaml"

	// DefaultPoolURL is the vendor pool listing for the Linux client package.
	DefaultPoolURL = "https://repository.spotify.com/pool/non-free/s/spotify-client/"

	// DefaultTimeout is the default bound for network operations.
	// Downloads of the full client archive go through the same client, so it
	// is deliberately generous.
	DefaultTimeout = 5 * time.Minute

	// DefaultFilePermissions is the permission for the settings file.
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is the permission for directories created by the installer.
	DefaultDirPermissions = 0o755

	// EnvConfigPath overrides the settings file location.
	EnvConfigPath = "SPOTINSTALLER_CONFIG"

	// EnvPoolURL overrides the pool listing URL.
	EnvPoolURL = "SPOTINSTALLER_POOL_URL"

	appDirName = "spotinstaller"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidPoolURL is returned when the pool listing URL does not parse.
	errInvalidPoolURL = errors.New("pool URL is not a valid URL")
	// errInvalidSelfUpdateURL is returned when the self-update URL does not parse.
	errInvalidSelfUpdateURL = errors.New("self-update URL is not a valid URL")
)

// DefaultPath returns the settings location, honoring the env override.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}

	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config directory: %w", err)
	}

	return filepath.Join(userConfigDir, appDirName, DefaultConfigFilename), nil
}

// Load reads configuration from the provided path, fills defaults and
// validates essential fields. A missing file is not an error: defaults are
// returned so a first run needs no setup.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	cfg := new(Config)

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run, defaults only.
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path, creating parent
// directories as needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return err
		}
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults for empty fields and checks URL formatting.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.PoolURL == "" {
		cfg.PoolURL = DefaultPoolURL
	}

	if env := os.Getenv(EnvPoolURL); env != "" {
		cfg.PoolURL = env
	}

	if _, err := url.ParseRequestURI(cfg.PoolURL); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPoolURL, err)
	}

	if cfg.SelfUpdateURL != "" {
		if _, err := url.ParseRequestURI(cfg.SelfUpdateURL); err != nil {
			return fmt.Errorf("%w: %v", errInvalidSelfUpdateURL, err)
		}
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return fillDirectoryDefaults(cfg)
}

// fillDirectoryDefaults resolves the install tree locations from XDG
// conventions when they are not configured explicitly.
func fillDirectoryDefaults(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	if cfg.Prefix == "" {
		cfg.Prefix = filepath.Join(dataDir, "spotify-client")
	}

	if cfg.BinDir == "" {
		cfg.BinDir = filepath.Join(homeDir, ".local", "bin")
	}

	if cfg.ApplicationsDir == "" {
		cfg.ApplicationsDir = filepath.Join(dataDir, "applications")
	}

	if cfg.CacheDir == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("resolve user cache directory: %w", err)
		}

		cfg.CacheDir = filepath.Join(userCacheDir, appDirName)
	}

	return nil
}
