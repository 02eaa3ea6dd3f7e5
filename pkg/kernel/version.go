// Package kernel reads what the instrumentation needs to know about the
// running kernel: its release, symbol addresses, tracepoint formats and BTF
// type layouts.
package kernel

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a kernel release reduced to major.minor.patch.
type Version struct {
	Major, Minor, Patch int
}

// ParseRelease parses uname release strings such as "5.15.0-91-generic" or "6.1.55+".
func ParseRelease(release string) (Version, error) {
	release = strings.TrimSpace(release)
	end := strings.IndexFunc(release, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if end >= 0 {
		release = release[:end]
	}
	parts := strings.Split(release, ".")
	if len(parts) < 2 || parts[0] == "" {
		return Version{}, fmt.Errorf("unexpected kernel release %q", release)
	}

	nums := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		if parts[i] == "" {
			break
		}
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return Version{}, fmt.Errorf("kernel release %q: %w", release, err)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Less orders versions numerically.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
