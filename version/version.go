// Package version provides the module version model used by capabilities,
// requirements and singleton selection.
//
// A version has the form major.minor.micro.qualifier where every numeric
// segment is optional and defaults to zero. Qualifiers compare lexically.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidVersion = errors.New("invalid version")
	ErrInvalidRange   = errors.New("invalid version range")
)

// Version is an immutable module version.
type Version struct {
	Major     int
	Minor     int
	Micro     int
	Qualifier string
}

// Empty is the 0.0.0 version, used when nothing is declared.
var Empty = Version{}

// Parse parses a version string. An empty string yields Empty.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Empty, nil
	}

	parts := strings.SplitN(s, ".", 4)
	var v Version
	numbers := []*int{&v.Major, &v.Minor, &v.Micro}
	for i, part := range parts {
		if i == 3 {
			if !validQualifier(part) {
				return Empty, fmt.Errorf("%w: %q has bad qualifier", ErrInvalidVersion, s)
			}
			v.Qualifier = part
			break
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Empty, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		*numbers[i] = n
	}
	return v, nil
}

// MustParse is like Parse but panics on error. Intended for literals.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func validQualifier(q string) bool {
	if q == "" {
		return false
	}
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Compare returns -1, 0 or 1 when v is lower than, equal to or higher than o.
func (v Version) Compare(o Version) int {
	if c := compareInt(v.Major, o.Major); c != 0 {
		return c
	}
	if c := compareInt(v.Minor, o.Minor); c != 0 {
		return c
	}
	if c := compareInt(v.Micro, o.Micro); c != 0 {
		return c
	}
	return strings.Compare(v.Qualifier, o.Qualifier)
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// String renders the canonical form; the qualifier is omitted when empty.
func (v Version) String() string {
	base := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
	if v.Qualifier == "" {
		return base
	}
	return base + "." + v.Qualifier
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
