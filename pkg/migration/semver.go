package migration

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// BumpType selects which component of a MAJOR.MINOR.PATCH version advances.
type BumpType string

const (
	BumpMajor BumpType = "major"
	BumpMinor BumpType = "minor"
	BumpPatch BumpType = "patch"
)

// NextVersion computes the successor of current under the given bump type.
// Major bumps reset minor and patch to zero, minor bumps reset patch.
func NextVersion(current string, bump BumpType) (string, error) {
	v, err := semver.StrictNewVersion(current)
	if err != nil {
		return "", fmt.Errorf("invalid version %q: %w", current, err)
	}

	var next semver.Version
	switch bump {
	case BumpMajor:
		next = v.IncMajor()
	case BumpMinor:
		next = v.IncMinor()
	case BumpPatch:
		next = v.IncPatch()
	default:
		return "", fmt.Errorf("unknown bump type %q", bump)
	}
	return next.String(), nil
}

// CompareVersions returns -1, 0 or 1 for a < b, a == b, a > b.
func CompareVersions(a, b string) (int, error) {
	va, err := semver.StrictNewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", a, err)
	}
	vb, err := semver.StrictNewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", b, err)
	}
	return va.Compare(vb), nil
}

// IsValidVersion reports whether s is a well-formed MAJOR.MINOR.PATCH string.
func IsValidVersion(s string) bool {
	_, err := semver.StrictNewVersion(s)
	return err == nil
}
