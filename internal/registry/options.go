package registry

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/provider-registry/internal/capability"
	"github.com/stacklok/provider-registry/internal/discovery"
	"github.com/stacklok/provider-registry/internal/isolation"
	"github.com/stacklok/provider-registry/internal/telemetry"
)

//go:generate mockgen -destination=mocks/mock_enforcer.go -package=mocks -source=options.go Enforcer

// Enforcer checks the caller carried by a context against a capability.
type Enforcer interface {
	Require(ctx context.Context, c capability.Capability) error
}

// Option configures a Service
type Option func(*options)

type options struct {
	contract    discovery.Contract
	provider    discovery.Provider
	enforcer    Enforcer
	diagnostics isolation.DiagnosticFunc
	metrics     *telemetry.RegistryMetrics
	tracer      trace.Tracer
}

// WithContract overrides the contract derived from the type parameter.
// Tools that enumerate declarations by name use this with Service[any].
func WithContract(contract discovery.Contract) Option {
	return func(o *options) {
		o.contract = contract
	}
}

// WithProvider sets the raw discovery mechanism. Defaults to a
// discovery.ServiceLoader over discovery.DefaultCatalog.
func WithProvider(provider discovery.Provider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithEnforcer sets the capability checker. Defaults to enforce.Global().
func WithEnforcer(enforcer Enforcer) Option {
	return func(o *options) {
		o.enforcer = enforcer
	}
}

// WithDiagnostics sets the callback receiving providers that failed to load
func WithDiagnostics(fn isolation.DiagnosticFunc) Option {
	return func(o *options) {
		o.diagnostics = fn
	}
}

// WithMetrics sets the instruments recording registry activity
func WithMetrics(m *telemetry.RegistryMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for registry spans
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}
