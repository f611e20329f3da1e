package installer

import (
	"context"
	"fmt"

	"github.com/dagimg-dot/spotinstaller/internal/config"
	"github.com/dagimg-dot/spotinstaller/internal/logger"
)

// Uninstall removes the launcher symlink, the desktop entry, the install
// tree and cached archives. Absent pieces are reported and skipped.
func Uninstall(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "spotinstaller")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if !confirm(opts.AssumeYes, "Remove the Spotify client and all installer files?") {
		logger.Info(ctx, "Aborted at user request")
		return nil
	}

	p := newPaths(cfg)

	targets := []struct {
		label string
		path  string
	}{
		{"launcher symlink", p.symlink},
		{"desktop entry", p.desktopDest},
		{"install tree", p.prefix},
		{"archive cache", p.cacheDir},
	}

	for _, target := range targets {
		removed, err := removeIfPresent(target.path)
		if err != nil {
			return fmt.Errorf("remove %s: %w", target.label, err)
		}

		if removed {
			logger.InfoKV(ctx, "Removed", "what", target.label, "path", target.path)
		} else {
			logger.InfoKV(ctx, "Already absent", "what", target.label, "path", target.path)
		}
	}

	return nil
}
