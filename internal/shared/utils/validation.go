package utils

import (
	"fmt"
	"regexp"
)

// Body size limits (in bytes)
const (
	MaxJSONSize    = 1 * 1024 * 1024 // 1MB - API request bodies
	MaxArchiveSize = 8 * 1024 * 1024 // 8MB - uploaded backup archives
)

// Length limits
const (
	MaxPackageLength = 255
	MaxIDLength      = 128
)

var (
	// PackagePattern matches Android application ids: two or more dot-separated
	// segments, each starting with a letter
	PackagePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)
	// AuthorityPattern matches content provider authorities
	AuthorityPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_-]+)+$`)
	// SafeIDPattern allows alphanumeric, hyphens, underscores, dots and colons
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
)

// ValidatePackageName checks an application id
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name is required")
	}
	if len(name) > MaxPackageLength {
		return fmt.Errorf("package name exceeds %d characters", MaxPackageLength)
	}
	if !PackagePattern.MatchString(name) {
		return fmt.Errorf("invalid package name %q", name)
	}
	return nil
}

// ValidateAuthority checks a provider authority
func ValidateAuthority(authority string) error {
	if authority == "" {
		return fmt.Errorf("authority is required")
	}
	if len(authority) > MaxPackageLength {
		return fmt.Errorf("authority exceeds %d characters", MaxPackageLength)
	}
	if !AuthorityPattern.MatchString(authority) {
		return fmt.Errorf("invalid authority %q", authority)
	}
	return nil
}

// ValidateID checks instance and session ids supplied by callers
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("id exceeds %d characters", MaxIDLength)
	}
	if !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}
