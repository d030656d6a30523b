package semver

import (
	"fmt"
	"strconv"

	masterminds "github.com/Masterminds/semver/v3"
)

const constraintLogPrefix = "semver:constraint"

// Constraint is a parsed agent-version requirement. The zero value and a nil
// *Constraint accept every version.
type Constraint struct {
	raw   string
	major int // >= 0 for major-only ranges like "2"
	c     *masterminds.Constraints
}

// ParseConstraint parses a SemVer range ("^1.2.0", ">=1.0.0 <2.0.0") or a
// major-only specifier ("1"). An empty string yields an accept-all constraint.
func ParseConstraint(rangeStr string) (*Constraint, error) {
	if rangeStr == "" {
		return &Constraint{major: -1}, nil
	}
	if IsMajorOnly(rangeStr) {
		major, err := strconv.Atoi(rangeStr)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid major %q: %w", constraintLogPrefix, rangeStr, err)
		}
		return &Constraint{raw: rangeStr, major: major}, nil
	}
	c, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid constraint %q: %w", constraintLogPrefix, rangeStr, err)
	}
	return &Constraint{raw: rangeStr, major: -1, c: c}, nil
}

// String returns the constraint as it was given.
func (c *Constraint) String() string {
	if c == nil {
		return ""
	}
	return c.raw
}

// AcceptsAll reports whether the constraint admits every version, including none.
func (c *Constraint) AcceptsAll() bool {
	return c == nil || c.raw == ""
}

// Check returns nil when version satisfies the constraint.
func (c *Constraint) Check(version string) error {
	if c.AcceptsAll() {
		return nil
	}
	if version == "" {
		return fmt.Errorf("%s - agent version is required by constraint %s", constraintLogPrefix, c.raw)
	}
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%s - invalid agent version %q: %w", constraintLogPrefix, version, err)
	}
	if c.major >= 0 {
		if int(v.Major()) != c.major {
			return fmt.Errorf("%s - agent version %s is not major %d", constraintLogPrefix, version, c.major)
		}
		return nil
	}
	if ok, errs := c.c.Validate(v); !ok {
		if len(errs) > 0 {
			return fmt.Errorf("%s - agent version %s: %w", constraintLogPrefix, version, errs[0])
		}
		return fmt.Errorf("%s - agent version %s does not satisfy %s", constraintLogPrefix, version, c.raw)
	}
	return nil
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	c, err := ParseConstraint(rangeStr)
	if err != nil {
		return false
	}
	return c.Check(version) == nil
}
