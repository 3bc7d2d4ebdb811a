// Package semver implements the release version model: strict parsing of
// major.minor.patch[-prerelease][+build], precedence ordering, and field increments.
package semver

import (
	"errors"
	"fmt"
	"math"
	"strings"

	msemver "github.com/Masterminds/semver/v3"
)

// ErrInvalidFormat is returned when text does not satisfy the version grammar.
var ErrInvalidFormat = errors.New("invalid version format")

// ErrInvalidField is returned by Increment for unknown field names.
var ErrInvalidField = errors.New("invalid version field")

// MaxComponent bounds each numeric component so versions fit signed 64-bit columns.
const MaxComponent = math.MaxInt64

// Ordering is the result of comparing two versions.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// String renders the ordering as used in API payloads.
func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Greater:
		return "greater"
	default:
		return "equal"
	}
}

// Field names a numeric component that can be incremented.
type Field string

const (
	FieldMajor Field = "major"
	FieldMinor Field = "minor"
	FieldPatch Field = "patch"
)

// ParseField validates a field name.
func ParseField(raw string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(raw))); f {
	case FieldMajor, FieldMinor, FieldPatch:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidField, raw)
	}
}

// Version is an immutable parsed semantic version.
type Version struct {
	Major      uint64
	Minor      uint64
	Patch      uint64
	Prerelease string
	Build      string
}

// Parse validates text against the grammar. Leading zeros in numeric components, a leading "v",
// missing components and empty identifiers are rejected.
func Parse(text string) (Version, error) {
	raw := strings.TrimSpace(text)
	if raw == "" || raw != text {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
	}
	parsed, err := msemver.StrictNewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, text, err)
	}
	v := Version{
		Major:      parsed.Major(),
		Minor:      parsed.Minor(),
		Patch:      parsed.Patch(),
		Prerelease: parsed.Prerelease(),
		Build:      parsed.Metadata(),
	}
	if err := checkIdentifiers(raw); err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, text, err)
	}
	if v.Major > MaxComponent || v.Minor > MaxComponent || v.Patch > MaxComponent {
		return Version{}, fmt.Errorf("%w: %q: numeric component exceeds %d", ErrInvalidFormat, text, uint64(MaxComponent))
	}
	return v, nil
}

// MustParse is Parse for constants in tests and defaults.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// IsValid reports whether text satisfies the grammar.
func IsValid(text string) bool {
	_, err := Parse(text)
	return err == nil
}

// checkIdentifiers rejects "1.0.0-", "1.0.0+" and empty dot-separated identifiers, which the
// underlying parser tolerates but the grammar does not.
func checkIdentifiers(raw string) error {
	main, build, hasBuild := strings.Cut(raw, "+")
	if hasBuild && hasEmptyIdentifier(build) {
		return errors.New("empty build identifier")
	}
	if _, pre, hasPre := strings.Cut(main, "-"); hasPre && hasEmptyIdentifier(pre) {
		return errors.New("empty prerelease identifier")
	}
	return nil
}

func hasEmptyIdentifier(s string) bool {
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return true
		}
	}
	return false
}

// String renders the canonical text form; Parse(v.String()) == v.
func (v Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		b.WriteByte('-')
		b.WriteString(v.Prerelease)
	}
	if v.Build != "" {
		b.WriteByte('+')
		b.WriteString(v.Build)
	}
	return b.String()
}

// WithoutBuild drops build metadata, leaving the text that identifies the version's precedence.
func (v Version) WithoutBuild() Version {
	v.Build = ""
	return v
}

// IsStable is true iff the version carries no prerelease.
func (v Version) IsStable() bool {
	return v.Prerelease == ""
}

// Compare orders a against b. Build metadata never participates; a prerelease orders below the
// same triple without one, and prereleases of the same triple follow semver identifier precedence.
func Compare(a, b Version) Ordering {
	switch a.lib().Compare(b.lib()) {
	case -1:
		return Less
	case 1:
		return Greater
	default:
		return Equal
	}
}

// Compare is the method form of Compare.
func (v Version) Compare(other Version) Ordering {
	return Compare(v, other)
}

// LessThan reports v < other.
func (v Version) LessThan(other Version) bool { return Compare(v, other) == Less }

// GreaterThan reports v > other.
func (v Version) GreaterThan(other Version) bool { return Compare(v, other) == Greater }

// Equal reports equal precedence (build metadata ignored).
func (v Version) Equal(other Version) bool { return Compare(v, other) == Equal }

func (v Version) lib() *msemver.Version {
	return msemver.New(v.Major, v.Minor, v.Patch, v.Prerelease, v.Build)
}

// Increment bumps field and always yields a stable version without build metadata.
func Increment(v Version, field Field) (Version, error) {
	var current uint64
	switch field {
	case FieldMajor:
		current = v.Major
	case FieldMinor:
		current = v.Minor
	case FieldPatch:
		current = v.Patch
	}
	if current >= MaxComponent {
		return Version{}, fmt.Errorf("%w: %s component of %s cannot be incremented", ErrInvalidFormat, field, v)
	}
	switch field {
	case FieldMajor:
		return Version{Major: v.Major + 1}, nil
	case FieldMinor:
		return Version{Major: v.Major, Minor: v.Minor + 1}, nil
	case FieldPatch:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}, nil
	default:
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
}

// CompareStrings parses both operands and compares them.
func CompareStrings(a, b string) (Ordering, error) {
	va, err := Parse(a)
	if err != nil {
		return Equal, err
	}
	vb, err := Parse(b)
	if err != nil {
		return Equal, err
	}
	return Compare(va, vb), nil
}

// SortDescending orders versions by precedence (newest first); ties keep input order.
func SortDescending(versions []Version) {
	// insertion sort keeps it stable and the catalogue per scope is small
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && Compare(versions[j-1], versions[j]) == Less; j-- {
			versions[j-1], versions[j] = versions[j], versions[j-1]
		}
	}
}
