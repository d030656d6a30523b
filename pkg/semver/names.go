// Package semver validates wire names and agent versions.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:names"

var (
	typeNameRegex   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	clientNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
	majorOnlyRegex  = regexp.MustCompile(`^\d+$`)
)

// maxNameLength caps type and client names so a registration always fits a datagram.
const maxNameLength = 256

// ValidateTypeName reports whether name is an acceptable wire type name
// (starts with a letter; letters, digits, dots, hyphens, underscores).
func ValidateTypeName(name string) bool {
	return len(name) <= maxNameLength && typeNameRegex.MatchString(name)
}

// ValidateClientName reports whether name is an acceptable agent client name.
func ValidateClientName(name string) bool {
	return len(name) <= maxNameLength && clientNameRegex.MatchString(name)
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// CheckTypeName returns an error describing why name is not a valid type name.
func CheckTypeName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s - type name is empty", logPrefix)
	}
	if !ValidateTypeName(name) {
		return fmt.Errorf("%s - type name %q must start with a letter and contain only letters, digits, dots, hyphens, underscores", logPrefix, name)
	}
	return nil
}
