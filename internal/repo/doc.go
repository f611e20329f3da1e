// Package repo reads the vendor's Debian pool directory listing and picks
// the newest published client package by its four-integer version core.
package repo
