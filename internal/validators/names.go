// Package validators provides validation functions for contract and provider names.
package validators

import (
	"fmt"
	"regexp"
	"strings"
)

const maxNameLength = 200

var (
	// Contract pattern: must start and end with an identifier character, can
	// contain dots, slashes and hyphens in the middle so that Go package paths
	// qualify type names
	contractPattern = regexp.MustCompile(`^[A-Za-z0-9_$]([A-Za-z0-9_$./-]*[A-Za-z0-9_$])?$`)

	// Provider pattern: dot-separated identifiers
	providerPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)
)

// ValidateContractName validates a fully qualified contract name.
// Returns the validated name (trimmed) and an error if validation fails.
//
// Examples of valid names:
//   - example.Greeter
//   - com.example.spi.Codec
//   - github.com/acme/plugins/api.Greeter
//
// Examples of invalid names:
//   - .Greeter (starts with dot)
//   - example..Greeter (empty segment)
//   - example Greeter (contains whitespace)
func ValidateContractName(name string) (string, error) {
	name = strings.TrimSpace(name)

	if name == "" {
		return "", fmt.Errorf("contract name cannot be empty")
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("contract name exceeds maximum length of %d characters", maxNameLength)
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") {
		return "", fmt.Errorf("contract name '%s' contains an empty segment", name)
	}
	if !contractPattern.MatchString(name) {
		return "", fmt.Errorf(
			"contract name '%s' is invalid. Contract names must start and end with identifier characters, "+
				"and may contain dots, slashes and hyphens in the middle",
			name,
		)
	}
	return name, nil
}

// ValidateProviderName validates a provider name: one or more identifiers
// joined by dots, such as example.GreeterImpl.
func ValidateProviderName(name string) (string, error) {
	name = strings.TrimSpace(name)

	if name == "" {
		return "", fmt.Errorf("provider name cannot be empty")
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("provider name exceeds maximum length of %d characters", maxNameLength)
	}
	if !providerPattern.MatchString(name) {
		return "", fmt.Errorf(
			"provider name '%s' is invalid. Provider names are identifiers separated by dots",
			name,
		)
	}
	return name, nil
}

// IsValidContractName checks if a contract name is valid.
// This is a convenience wrapper around ValidateContractName for boolean checks.
func IsValidContractName(name string) bool {
	_, err := ValidateContractName(name)
	return err == nil
}
