//go:build linux
// +build linux

package kernel

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CurrentVersion returns the running kernel's version from uname(2).
func CurrentVersion() (Version, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return Version{}, fmt.Errorf("uname: %w", err)
	}
	return ParseRelease(unix.ByteSliceToString(uts.Release[:]))
}
