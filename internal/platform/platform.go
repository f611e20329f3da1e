package platform

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
)

// errUnsupportedPlatform is returned when the vendor does not publish a
// package for the current OS or architecture.
var errUnsupportedPlatform = errors.New("no vendor package for this platform")

const (
	supportedOS   = "linux"
	supportedArch = "amd64"
)

// Info describes the host the installer runs on.
type Info struct {
	// OS is the runtime operating system (GOOS).
	OS string
	// Arch is the runtime architecture (GOARCH).
	Arch string
	// Distro is the distribution id, e.g. "fedora" or "ubuntu".
	Distro string
	// DistroVersion is the distribution release, e.g. "42".
	DistroVersion string
}

// Detect returns host information. Distribution fields stay empty when the
// host facts cannot be read; detection is informational and never fails the run.
func Detect(ctx context.Context) Info {
	info := Info{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return info
	}

	info.Distro = hostInfo.Platform
	info.DistroVersion = hostInfo.PlatformVersion

	return info
}

// String renders the host line printed in the banner.
func (i Info) String() string {
	if i.Distro == "" {
		return fmt.Sprintf("%s/%s", i.OS, i.Arch)
	}

	return fmt.Sprintf("%s %s (%s/%s)", i.Distro, i.DistroVersion, i.OS, i.Arch)
}

// Supported reports whether the vendor publishes a package for this host.
// The Linux client is built for amd64 only.
func (i Info) Supported() error {
	if i.OS != supportedOS || i.Arch != supportedArch {
		return fmt.Errorf("%w: %s/%s", errUnsupportedPlatform, i.OS, i.Arch)
	}

	return nil
}
