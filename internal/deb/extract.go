package deb

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

var (
	errNotDebArchive         = errors.New("not a debian 2.0 archive")
	errNoDataMember          = errors.New("archive has no data.tar member")
	errUnsupportedComp       = errors.New("unsupported data.tar compression")
	errUnsafePath            = errors.New("archive entry escapes destination")
	errUnsupportedEntry      = errors.New("unsupported archive entry type")
	errUnsafeLinkDestination = errors.New("archive link escapes destination")
)

const (
	dirPermissions = 0o755

	// copyBufferSize is the buffer used when streaming file payloads.
	copyBufferSize = 64 * 1024
)

// Extract unpacks the data payload of the .deb at debPath into destDir.
// destDir receives the payload's own tree (usr/share/..., usr/bin/...);
// ownership recorded in the archive is discarded, modes are kept.
func Extract(ctx context.Context, debPath, destDir string) error {
	f, err := os.Open(filepath.Clean(debPath))
	if err != nil {
		return fmt.Errorf("open package: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	reader := ar.NewReader(f)

	sawFormatMember := false

	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("read package member: %w", err)
		}

		// GNU ar stores names with a trailing slash.
		name := strings.TrimSuffix(strings.TrimSpace(header.Name), "/")

		switch {
		case name == "debian-binary":
			if err = checkFormatMember(reader); err != nil {
				return err
			}

			sawFormatMember = true
		case strings.HasPrefix(name, "data.tar"):
			if !sawFormatMember {
				return fmt.Errorf("%s: %w", debPath, errNotDebArchive)
			}

			return extractData(ctx, reader, name, destDir)
		default:
			// control.tar and anything else is skipped; Next discards the rest.
		}
	}

	if !sawFormatMember {
		return fmt.Errorf("%s: %w", debPath, errNotDebArchive)
	}

	return fmt.Errorf("%s: %w", debPath, errNoDataMember)
}

// checkFormatMember verifies the debian-binary member declares format 2.0.
func checkFormatMember(r io.Reader) error {
	contents, err := io.ReadAll(io.LimitReader(r, 16))
	if err != nil {
		return fmt.Errorf("read format member: %w", err)
	}

	if !strings.HasPrefix(strings.TrimSpace(string(contents)), "2.0") {
		return fmt.Errorf("format %q: %w", strings.TrimSpace(string(contents)), errNotDebArchive)
	}

	return nil
}

// extractData decompresses the data member according to its extension and
// untars it into destDir.
func extractData(ctx context.Context, r io.Reader, memberName, destDir string) error {
	payload, closeFunc, err := decompress(r, memberName)
	if err != nil {
		return err
	}

	defer closeFunc()

	return untar(ctx, payload, destDir)
}

// decompress wraps the member reader for its compression suffix.
func decompress(r io.Reader, memberName string) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(memberName, ".tar"):
		return r, func() {}, nil
	case strings.HasSuffix(memberName, ".tar.gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open gzip data: %w", err)
		}

		return gz, func() { _ = gz.Close() }, nil
	case strings.HasSuffix(memberName, ".tar.zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open zstd data: %w", err)
		}

		return zr, zr.Close, nil
	case strings.HasSuffix(memberName, ".tar.xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open xz data: %w", err)
		}

		return xr, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%s: %w", memberName, errUnsupportedComp)
	}
}

// untar writes the payload tree under destDir, rejecting entries that would
// land outside it.
func untar(ctx context.Context, r io.Reader, destDir string) error {
	tarReader := tar.NewReader(r)
	buf := make([]byte, copyBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read data member: %w", err)
		}

		if err = writeEntry(tarReader, header, destDir, buf); err != nil {
			return err
		}
	}
}

// writeEntry materializes one tar entry under destDir.
func writeEntry(tarReader *tar.Reader, header *tar.Header, destDir string, buf []byte) error {
	target, err := securePath(destDir, header.Name)
	if err != nil {
		return err
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if err = os.MkdirAll(target, dirPermissions); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	case tar.TypeReg:
		if err = writeFile(tarReader, target, header.FileInfo().Mode(), buf); err != nil {
			return err
		}
	case tar.TypeSymlink:
		if err = checkLinkTarget(destDir, header.Name, header.Linkname); err != nil {
			return err
		}

		if err = replaceLink(header.Linkname, target); err != nil {
			return err
		}
	case tar.TypeLink:
		linkTarget, err := securePath(destDir, header.Linkname)
		if err != nil {
			return err
		}

		if err = os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
			return fmt.Errorf("create parent directory: %w", err)
		}

		if err = os.Link(linkTarget, target); err != nil {
			return fmt.Errorf("create hardlink: %w", err)
		}
	default:
		return fmt.Errorf("%s (type %d): %w", header.Name, header.Typeflag, errUnsupportedEntry)
	}

	return nil
}

// writeFile streams one regular file to disk with the archive's mode.
func writeFile(r io.Reader, target string, mode os.FileMode, buf []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	out, err := os.OpenFile(filepath.Clean(target), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if _, err = io.CopyBuffer(out, r, buf); err != nil {
		_ = out.Close()

		return fmt.Errorf("write file: %w", err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	return nil
}

// replaceLink creates a symlink, replacing a previous one from an earlier install.
func replaceLink(linkname, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	if _, err := os.Lstat(target); err == nil {
		_ = os.Remove(target)
	}

	if err := os.Symlink(linkname, target); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}

	return nil
}

// securePath resolves an archive member name below destDir or fails.
func securePath(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(destDir, strings.TrimPrefix(name, "/")))
	if cleaned != destDir && !strings.HasPrefix(cleaned, destDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("%s: %w", name, errUnsafePath)
	}

	return cleaned, nil
}

// checkLinkTarget rejects symlinks whose resolved destination leaves destDir.
func checkLinkTarget(destDir, name, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("%s -> %s: %w", name, linkname, errUnsafeLinkDestination)
	}

	resolved := filepath.Clean(filepath.Join(destDir, filepath.Dir(name), linkname))
	if resolved != destDir && !strings.HasPrefix(resolved, destDir+string(os.PathSeparator)) {
		return fmt.Errorf("%s -> %s: %w", name, linkname, errUnsafeLinkDestination)
	}

	return nil
}
