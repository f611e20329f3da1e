package installer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/dagimg-dot/spotinstaller/internal/logger"
	"github.com/dagimg-dot/spotinstaller/internal/version"
)

// partialSuffix marks an in-flight download. A finished archive is renamed
// to its final name in one step, so anything still carrying the suffix is
// incomplete and gets restarted.
const partialSuffix = ".partial"

// download fetches the selected package into the cache directory and returns
// the final archive path. A previously downloaded archive is reused when its
// size matches the remote Content-Length.
func (r *runner) download(ctx context.Context) (string, error) {
	if err := os.MkdirAll(r.cfg.CacheDir, dirPermissions); err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}

	finalPath := filepath.Join(r.cfg.CacheDir, r.pkg.Filename)

	httpClient := &http.Client{Timeout: r.cfg.Timeout}

	remoteSize, err := r.remoteSize(ctx, httpClient)
	if err == nil && remoteSize > 0 {
		if info, statErr := os.Stat(finalPath); statErr == nil && info.Size() == remoteSize {
			logger.InfoKV(ctx, "Reusing downloaded archive", "path", finalPath)
			return finalPath, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.pkg.URL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: unexpected status %s", r.pkg.URL, resp.Status)
	}

	partialPath := finalPath + partialSuffix

	out, err := os.Create(partialPath)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetDescription(r.pkg.Filename),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionFullWidth(),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	defer func() {
		_ = bar.Close()
	}()

	if _, err = io.Copy(io.MultiWriter(out, bar), resp.Body); err != nil {
		_ = out.Close()

		// The partial file stays behind: the next run sees a size mismatch
		// and restarts the download.
		return "", fmt.Errorf("download body: %w", err)
	}

	if err = out.Close(); err != nil {
		return "", fmt.Errorf("close download file: %w", err)
	}

	if err = os.Rename(partialPath, finalPath); err != nil {
		return "", fmt.Errorf("finalize download: %w", err)
	}

	return finalPath, nil
}

// remoteSize asks the server for the package size without downloading it.
func (r *runner) remoteSize(ctx context.Context, httpClient *http.Client) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.pkg.URL, http.NoBody)
	if err != nil {
		return 0, err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s: unexpected status %s", r.pkg.URL, resp.Status)
	}

	return resp.ContentLength, nil
}
