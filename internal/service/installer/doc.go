// Package installer implements the install/update flow: probe the installed
// client for its version, fetch the newest package from the vendor pool,
// compare, download, unpack the payload into the user-local tree and refresh
// the launcher symlink and desktop entry.
package installer
