package enforce

import (
	"context"
	"fmt"
	"log/slog"

	cedar "github.com/cedar-policy/cedar-go"
)

const cedarNamespace = "ProviderRegistry"

// CedarAuthorizer evaluates capability checks against a Cedar policy set.
type CedarAuthorizer struct {
	policySet *cedar.PolicySet
}

// NewCedarAuthorizer creates a new Cedar-based authorizer.
// If policyBytes is nil, DefaultPolicies are used.
func NewCedarAuthorizer(policyBytes []byte) (*CedarAuthorizer, error) {
	if policyBytes == nil {
		policyBytes = []byte(DefaultPolicies)
	}

	ps, err := cedar.NewPolicySetFromBytes("policies.cedar", policyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Cedar policies: %w", err)
	}

	return &CedarAuthorizer{policySet: ps}, nil
}

// Authorize evaluates the request with the calling context as the Cedar
// principal and the capability as the Cedar action.
func (a *CedarAuthorizer) Authorize(_ context.Context, req Request) (Decision, error) {
	if req.Capability == "" {
		return Decision{}, fmt.Errorf("capability is required")
	}

	principal := req.Principal
	if principal == "" {
		principal = "anonymous"
	}
	principalUID := cedar.NewEntityUID(cedar.EntityType(cedarNamespace+"::Context"), cedar.String(principal))

	granted := make([]cedar.Value, len(req.Granted))
	for i, c := range req.Granted {
		granted[i] = cedar.String(c)
	}

	entities := cedar.EntityMap{
		principalUID: cedar.Entity{
			UID: principalUID,
			Attributes: cedar.NewRecord(cedar.RecordMap{
				"granted": cedar.NewSet(granted...),
				"name":    cedar.String(req.PrincipalName),
			}),
		},
	}

	resource := req.Resource
	if resource == "" {
		resource = "global"
	}

	cedarReq := cedar.Request{
		Principal: principalUID,
		Action:    cedar.NewEntityUID(cedar.EntityType(cedarNamespace+"::Action"), cedar.String(req.Capability)),
		Resource:  cedar.NewEntityUID(cedar.EntityType(cedarNamespace+"::Registry"), cedar.String(resource)),
		Context:   cedar.NewRecord(cedar.RecordMap{}),
	}

	decision, diagnostic := cedar.Authorize(a.policySet, entities, cedarReq)

	slog.Debug("Capability decision",
		"capability", req.Capability,
		"decision", decision,
		"context", req.PrincipalName,
		"granted", req.Granted,
	)

	var reasons []string
	for _, r := range diagnostic.Reasons {
		reasons = append(reasons, string(r.PolicyID))
	}

	return Decision{
		Allowed: decision == cedar.Allow,
		Reasons: reasons,
	}, nil
}
