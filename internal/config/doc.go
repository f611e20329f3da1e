// Package config loads and persists the installer settings: the vendor pool
// listing URL and the user-local directory layout. Missing fields fall back
// to XDG-derived defaults so a first run works without any settings file.
package config
