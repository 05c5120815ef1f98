package gamelog

import (
	"fmt"
	"unicode"

	"github.com/Masterminds/semver/v3"
)

// ParseVersion parses a payload version token: a single non-numeric prefix
// rune (historically 'v') followed by MAJOR.MINOR.PATCH.
func ParseVersion(v string) (*semver.Version, error) {
	runes := []rune(v)
	if len(runes) > 0 && !unicode.IsDigit(runes[0]) {
		v = string(runes[1:])
	}
	parsed, err := semver.StrictNewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("%w: bad version token %q: %v", ErrMalformedPayload, v, err)
	}
	return parsed, nil
}

// CheckVersion rejects payloads whose schema version is strictly lower than
// the minimum supported one.
func CheckVersion(v, minimum string) error {
	parsed, err := ParseVersion(v)
	if err != nil {
		return err
	}
	min, err := semver.StrictNewVersion(minimum)
	if err != nil {
		return fmt.Errorf("invalid minimum version %q: %w", minimum, err)
	}
	if parsed.LessThan(min) {
		return fmt.Errorf("%w: %s is older than minimum %s", ErrUnsupportedVersion, v, minimum)
	}
	return nil
}

// VersionAtMost reports whether v is at or below max. Used for version-gated
// data-repair rules; a version that fails to parse is treated as not covered.
func VersionAtMost(v, max string) bool {
	parsed, err := ParseVersion(v)
	if err != nil {
		return false
	}
	limit, err := semver.StrictNewVersion(max)
	if err != nil {
		return false
	}
	return !parsed.GreaterThan(limit)
}
