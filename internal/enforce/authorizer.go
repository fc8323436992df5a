// Package enforce decides whether callers hold capabilities under the
// currently active policy.
package enforce

import "context"

//go:generate mockgen -destination=mocks/mock_authorizer.go -package=mocks -source=authorizer.go Authorizer

// Authorizer turns a caller's granted capabilities into an allow or deny decision.
type Authorizer interface {
	// Authorize checks whether a principal holding the granted capabilities
	// may exercise the requested one.
	Authorize(ctx context.Context, req Request) (Decision, error)
}

// Request represents a single capability check.
type Request struct {
	// Principal identifies the calling loading context.
	Principal string

	// PrincipalName is the human readable name of the calling context.
	PrincipalName string

	// Granted are the capabilities the policy grants the caller, with
	// wildcards already expanded.
	Granted []string

	// Capability is the capability being checked (e.g., "registry:update").
	Capability string

	// Resource names what the capability applies to. Defaults to "global".
	Resource string
}

// Decision represents the result of a capability check.
type Decision struct {
	// Allowed indicates whether the capability is held.
	Allowed bool

	// Reasons provides policy IDs that contributed to the decision.
	Reasons []string
}
