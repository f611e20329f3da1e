package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// rewriteDesktopEntry returns the shipped desktop entry with Exec and Icon
// pointing at the user-local install. The vendor entry assumes a system-wide
// install and bare names resolved from PATH and the icon theme.
func rewriteDesktopEntry(contents string, p paths) string {
	iconPath := filepath.Join(p.shareDir, "icons", "spotify-linux-512.png")

	lines := strings.Split(contents, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "Exec="):
			rest := strings.TrimPrefix(line, "Exec=")

			args := ""
			if idx := strings.IndexByte(rest, ' '); idx >= 0 {
				args = rest[idx:]
			}

			lines[i] = "Exec=" + p.symlink + args
		case strings.HasPrefix(line, "Icon="):
			lines[i] = "Icon=" + iconPath
		case strings.HasPrefix(line, "TryExec="):
			lines[i] = "TryExec=" + p.symlink
		}
	}

	return strings.Join(lines, "\n")
}

// installDesktopEntry reads the payload's desktop entry, rewrites it and
// writes it into the applications directory.
func installDesktopEntry(p paths) error {
	contents, err := os.ReadFile(p.desktopSrc)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(p.desktopDest), dirPermissions); err != nil {
		return fmt.Errorf("create applications directory: %w", err)
	}

	rewritten := rewriteDesktopEntry(string(contents), p)

	if err = os.WriteFile(p.desktopDest, []byte(rewritten), desktopPermissions); err != nil {
		return fmt.Errorf("write desktop entry: %w", err)
	}

	return nil
}
