package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/provider-registry/internal/archive"
	"github.com/stacklok/provider-registry/internal/capability"
	"github.com/stacklok/provider-registry/internal/policy"
	"github.com/stacklok/provider-registry/internal/registry"
	"github.com/stacklok/provider-registry/internal/source"
)

// grantingRegistrar registers archive sources and keeps the policy in step:
// each archive context holds the source group's grants while registered.
type grantingRegistrar struct {
	registry *registry.Service[any]
	policy   *policy.Policy
	grants   capability.Set
}

var _ archive.Registrar = (*grantingRegistrar)(nil)

func (r *grantingRegistrar) AddSource(ctx context.Context, src *source.Source) error {
	if r.grants.Len() > 0 {
		if err := r.policy.SetPermissionsFor(ctx, src.Context(), r.grants); err != nil {
			return fmt.Errorf("failed to grant permissions to %s: %w", src.Name(), err)
		}
	}

	if err := r.registry.AddSource(ctx, src); err != nil {
		// A duplicate shares its context with the source already registered
		if r.grants.Len() > 0 && !errors.Is(err, registry.ErrDuplicateSource) {
			if revokeErr := r.policy.SetPermissionsFor(ctx, src.Context(), nil); revokeErr != nil {
				return errors.Join(err, revokeErr)
			}
		}
		return err
	}
	return nil
}

func (r *grantingRegistrar) RemoveSource(ctx context.Context, src *source.Source) (bool, error) {
	removed, err := r.registry.RemoveSource(ctx, src)
	if err != nil {
		return false, err
	}
	if r.grants.Len() > 0 {
		if err := r.policy.SetPermissionsFor(ctx, src.Context(), nil); err != nil {
			return removed, fmt.Errorf("failed to revoke permissions of %s: %w", src.Name(), err)
		}
	}
	return removed, nil
}
