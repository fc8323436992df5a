package enforce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCedarAuthorizer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		policyBytes []byte
		wantErr     string
	}{
		{
			name:        "nil bytes uses default policies",
			policyBytes: nil,
		},
		{
			name:        "empty bytes creates authorizer with no policies",
			policyBytes: []byte(""),
		},
		{
			name:        "invalid policy bytes returns error",
			policyBytes: []byte("this is not a valid cedar policy!!!"),
			wantErr:     "failed to parse Cedar policies",
		},
		{
			name: "custom policy bytes",
			policyBytes: []byte(`permit(
				principal,
				action == ProviderRegistry::Action::"registry:access",
				resource
			);`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			authorizer, err := NewCedarAuthorizer(tt.policyBytes)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, authorizer)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, authorizer)
			assert.NotNil(t, authorizer.policySet)
		})
	}
}

func TestCedarAuthorizer_Authorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		request     Request
		wantAllowed bool
	}{
		{
			name:        "granted=[registry:access] capability=registry:access is allowed",
			request:     Request{Granted: []string{"registry:access"}, Capability: "registry:access"},
			wantAllowed: true,
		},
		{
			name:        "granted=[registry:access] capability=registry:update is denied",
			request:     Request{Granted: []string{"registry:access"}, Capability: "registry:update"},
			wantAllowed: false,
		},
		{
			name:        "granted=[policy:get policy:set] capability=policy:set is allowed",
			request:     Request{Granted: []string{"policy:get", "policy:set"}, Capability: "policy:set"},
			wantAllowed: true,
		},
		{
			name:        "nothing granted is denied",
			request:     Request{Capability: "policy:get"},
			wantAllowed: false,
		},
		{
			name:        "unknown capability is denied by default policies",
			request:     Request{Granted: []string{"custom:thing"}, Capability: "custom:thing"},
			wantAllowed: false,
		},
		{
			name: "principal and resource are optional",
			request: Request{
				Principal:     "",
				PrincipalName: "",
				Granted:       []string{"registry:update"},
				Capability:    "registry:update",
			},
			wantAllowed: true,
		},
	}

	authorizer, err := NewCedarAuthorizer(nil)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decision, err := authorizer.Authorize(context.Background(), tt.request)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			if tt.wantAllowed {
				assert.NotEmpty(t, decision.Reasons)
			}
		})
	}
}

func TestCedarAuthorizer_RequiresCapability(t *testing.T) {
	t.Parallel()

	authorizer, err := NewCedarAuthorizer(nil)
	require.NoError(t, err)

	_, err = authorizer.Authorize(context.Background(), Request{Granted: []string{"*"}})
	require.Error(t, err)
}

func TestCedarAuthorizer_CustomForbid(t *testing.T) {
	t.Parallel()

	policies := DefaultPolicies + `
forbid(
  principal,
  action == ProviderRegistry::Action::"policy:set",
  resource
) when {
  principal.name == "plugins"
};
`
	authorizer, err := NewCedarAuthorizer([]byte(policies))
	require.NoError(t, err)

	req := Request{
		Principal:     "3b0e6c4c-4a0e-4a39-9b8f-7f7d1f4d2a11",
		PrincipalName: "plugins",
		Granted:       []string{"policy:set"},
		Capability:    "policy:set",
	}
	decision, err := authorizer.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	req.PrincipalName = "system"
	decision, err = authorizer.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
