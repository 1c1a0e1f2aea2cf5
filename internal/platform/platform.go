// Package platform detects the host's platform family, which selects the
// package-manager commands and the security-module handling for a run.
package platform

import (
	"fmt"
	"os"
	"strings"
)

// Family is a coarse platform grouping.
type Family string

const (
	Debian  Family = "debian"
	RHEL    Family = "rhel"
	Arch    Family = "arch"
	Unknown Family = "unknown"
)

// osReleasePath is the standard identification file on modern distributions.
const osReleasePath = "/etc/os-release"

// Detect reads /etc/os-release and classifies the host.
func Detect() (Family, error) {
	data, err := os.ReadFile(osReleasePath)
	if err != nil {
		return Unknown, fmt.Errorf("failed to read %s: %w", osReleasePath, err)
	}
	return Classify(string(data)), nil
}

// Classify maps os-release contents to a Family. ID is checked first, then
// ID_LIKE, so derivatives land in their parent family.
func Classify(osRelease string) Family {
	ids := make([]string, 0, 4)
	for _, line := range strings.Split(osRelease, "\n") {
		line = strings.TrimSpace(line)
		for _, key := range []string{"ID=", "ID_LIKE="} {
			if v, ok := strings.CutPrefix(line, key); ok {
				v = strings.Trim(v, `"`)
				ids = append(ids, strings.Fields(v)...)
			}
		}
	}

	for _, id := range ids {
		switch id {
		case "debian", "ubuntu":
			return Debian
		case "rhel", "fedora", "centos", "rocky", "almalinux":
			return RHEL
		case "arch", "archlinux", "manjaro":
			return Arch
		}
	}
	return Unknown
}
