// Package python locates CPython interpreters on the host and parses the
// version strings they report. pylift never installs or manages interpreters;
// it only discovers what is already on PATH (or configured explicitly).
package python

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed CPython version. Patch is -1 when the source string
// only carried major.minor (e.g. a "3.10" target from config).
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion accepts "3.10", "3.10.12", or the full output of
// `python --version` ("Python 3.10.12").
func ParseVersion(raw string) (Version, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "Python ")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return Version{}, fmt.Errorf("python: empty version string")
	}
	// Strip pre-release suffixes like "3.11.0rc1" down to the numeric tail.
	parts := strings.SplitN(trimmed, ".", 3)
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("python: cannot parse version %q", raw)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("python: cannot parse version %q: %w", raw, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return Version{}, fmt.Errorf("python: cannot parse version %q: %w", raw, err)
	}
	version := Version{Major: major, Minor: minor, Patch: -1}
	if len(parts) == 3 {
		patchDigits := leadingDigits(parts[2])
		if patchDigits == "" {
			return Version{}, fmt.Errorf("python: cannot parse patch in %q", raw)
		}
		patch, err := strconv.Atoi(patchDigits)
		if err != nil {
			return Version{}, fmt.Errorf("python: cannot parse patch in %q: %w", raw, err)
		}
		version.Patch = patch
	}
	return version, nil
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

// String renders the version back to dotted form.
func (v Version) String() string {
	if v.Patch < 0 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// MajorMinor renders only the major.minor prefix.
func (v Version) MajorMinor() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Matches reports whether v satisfies the target. Targets carry user intent:
// "3.10" matches any 3.10.x, while "3.10.12" requires the exact patch.
func (v Version) Matches(target Version) bool {
	if v.Major != target.Major || v.Minor != target.Minor {
		return false
	}
	if target.Patch < 0 {
		return true
	}
	return v.Patch == target.Patch
}

// Compare returns -1, 0, or 1 ordering v against other. Missing patch levels
// compare as zero.
func (v Version) Compare(other Version) int {
	pairs := [][2]int{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{patchOrZero(v.Patch), patchOrZero(other.Patch)},
	}
	for _, pair := range pairs {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}
	return 0
}

func patchOrZero(patch int) int {
	if patch < 0 {
		return 0
	}
	return patch
}
