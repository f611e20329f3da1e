// Package selfupdate replaces the installer binary itself from a release
// manifest with SHA-512 checksum verification.
package selfupdate
