package enforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/stacklok/provider-registry/internal/capability"
	"github.com/stacklok/provider-registry/internal/loader"
	"github.com/stacklok/provider-registry/internal/policy"
	"github.com/stacklok/provider-registry/internal/telemetry"
)

var (
	// ErrCapabilityDenied is returned when the caller lacks a required capability
	ErrCapabilityDenied = errors.New("capability denied")

	// ErrAlreadyActive is returned when activating a switch that already enforces a policy
	ErrAlreadyActive = errors.New("enforcement is already active")
)

// DeniedError reports which capability was missing and for which caller.
type DeniedError struct {
	Capability capability.Capability
	Context    *loader.Context
	Reasons    []string
}

// Error implements error
func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s not granted to %s", ErrCapabilityDenied, e.Capability, e.Context)
}

// Unwrap allows errors.Is(err, ErrCapabilityDenied)
func (e *DeniedError) Unwrap() error {
	return ErrCapabilityDenied
}

// Option configures a Switch
type Option func(*Switch)

// WithAuthorizer sets the decision engine. Defaults to a CedarAuthorizer
// with DefaultPolicies.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Switch) {
		s.authorizer = a
	}
}

// WithMetrics sets the instruments used to count denials
func WithMetrics(m *telemetry.EnforcementMetrics) Option {
	return func(s *Switch) {
		s.metrics = m
	}
}

// Switch is an on/off toggle holding at most one active policy.
// While inactive every check passes.
type Switch struct {
	active     atomic.Pointer[policy.Policy]
	authorizer Authorizer
	metrics    *telemetry.EnforcementMetrics
}

// NewSwitch creates an inactive switch
func NewSwitch(opts ...Option) (*Switch, error) {
	s := &Switch{}
	for _, opt := range opts {
		opt(s)
	}
	if s.authorizer == nil {
		a, err := NewCedarAuthorizer(nil)
		if err != nil {
			return nil, err
		}
		s.authorizer = a
	}
	return s, nil
}

var (
	globalOnce   sync.Once
	globalSwitch *Switch
)

// Global returns the process-wide switch, creating it on first use.
func Global() *Switch {
	globalOnce.Do(func() {
		s, err := NewSwitch()
		if err != nil {
			panic(fmt.Sprintf("failed to create global enforcement switch: %v", err))
		}
		globalSwitch = s
	})
	return globalSwitch
}

// Activate starts enforcing p. Only one activation can succeed until Reset.
func (s *Switch) Activate(p *policy.Policy) error {
	if p == nil {
		return fmt.Errorf("policy cannot be nil")
	}
	if !s.active.CompareAndSwap(nil, p) {
		return ErrAlreadyActive
	}
	slog.Info("Capability enforcement activated", "contexts", p.Contexts())
	return nil
}

// Install makes s the guard of p and activates it.
func (s *Switch) Install(p *policy.Policy) error {
	if p == nil {
		return fmt.Errorf("policy cannot be nil")
	}
	if s.Enabled() {
		return ErrAlreadyActive
	}
	if err := p.SetGuard(context.Background(), s); err != nil {
		return fmt.Errorf("failed to guard policy: %w", err)
	}
	return s.Activate(p)
}

// Install activates p on the global switch
func Install(p *policy.Policy) error {
	return Global().Install(p)
}

// Reset deactivates enforcement
func (s *Switch) Reset() {
	if s.active.Swap(nil) != nil {
		slog.Info("Capability enforcement deactivated")
	}
}

// Active returns the policy being enforced, or nil
func (s *Switch) Active() *policy.Policy {
	return s.active.Load()
}

// IsActive reports whether p is the policy being enforced
func (s *Switch) IsActive(p *policy.Policy) bool {
	return p != nil && s.active.Load() == p
}

// Enabled reports whether any policy is being enforced
func (s *Switch) Enabled() bool {
	return s.active.Load() != nil
}

// Require fails with a *DeniedError when the caller carried by ctx does not
// hold c under the active policy. It always succeeds while inactive.
func (s *Switch) Require(ctx context.Context, c capability.Capability) error {
	p := s.active.Load()
	if p == nil {
		return nil
	}

	caller := loader.CallerFrom(ctx)
	granted := p.Resolve(caller)

	known := append(capability.Known[:len(capability.Known):len(capability.Known)], c)
	decision, err := s.authorizer.Authorize(ctx, Request{
		Principal:     caller.ID().String(),
		PrincipalName: caller.Name(),
		Granted:       granted.Expand(known...),
		Capability:    string(c),
	})
	if err != nil {
		return fmt.Errorf("failed to evaluate %s for %s: %w", c, caller, err)
	}
	if !decision.Allowed {
		s.metrics.RecordDenial(ctx, string(c), caller.Name())
		slog.Debug("Capability denied", "capability", c, "context", caller.Name())
		return &DeniedError{Capability: c, Context: caller, Reasons: decision.Reasons}
	}
	return nil
}
