package validators

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateContractName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		contractName string
		want         string
		expectError  string
	}{
		// Valid cases
		{name: "simple", contractName: "example.Greeter", want: "example.Greeter"},
		{name: "unqualified", contractName: "Greeter", want: "Greeter"},
		{name: "nested type", contractName: "com.example.Outer$Inner", want: "com.example.Outer$Inner"},
		{
			name:         "go package path",
			contractName: "github.com/stacklok/provider-registry/internal/discovery.greeter",
			want:         "github.com/stacklok/provider-registry/internal/discovery.greeter",
		},
		{name: "trims whitespace", contractName: "  example.Greeter\t", want: "example.Greeter"},

		// Invalid cases
		{name: "empty", contractName: "", expectError: "cannot be empty"},
		{name: "whitespace only", contractName: "   ", expectError: "cannot be empty"},
		{name: "leading dot", contractName: ".Greeter", expectError: "is invalid"},
		{name: "trailing slash", contractName: "example/", expectError: "is invalid"},
		{name: "empty segment", contractName: "example..Greeter", expectError: "empty segment"},
		{name: "double slash", contractName: "example//api.Greeter", expectError: "empty segment"},
		{name: "inner whitespace", contractName: "example Greeter", expectError: "is invalid"},
		{name: "too long", contractName: strings.Repeat("a", maxNameLength+1), expectError: "maximum length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ValidateContractName(tt.contractName)
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				assert.False(t, IsValidContractName(tt.contractName))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsValidContractName(tt.contractName))
		})
	}
}

func TestValidateProviderName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		providerName string
		expectError  string
	}{
		{name: "simple", providerName: "hello"},
		{name: "qualified", providerName: "example.impl.EnglishGreeter"},
		{name: "nested type", providerName: "example.Outer$Impl"},
		{name: "underscore", providerName: "_internal.greeter_v2"},

		{name: "empty", providerName: "", expectError: "cannot be empty"},
		{name: "leading digit", providerName: "1greeter", expectError: "is invalid"},
		{name: "trailing dot", providerName: "example.", expectError: "is invalid"},
		{name: "slash", providerName: "example/Greeter", expectError: "is invalid"},
		{name: "hyphen", providerName: "example.my-greeter", expectError: "is invalid"},
		{name: "too long", providerName: strings.Repeat("a", maxNameLength+1), expectError: "maximum length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ValidateProviderName(tt.providerName)
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
		})
	}
}
