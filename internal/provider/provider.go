// Package provider defines the interface the reconciler drives providers
// through, and the registry that maps resource kinds to schemas and
// provider implementations.
package provider

import (
	"context"
	"errors"

	"github.com/accord-io/accord/internal/schema"
)

// ErrNotFound is returned by Read when the identified resource no longer
// exists in the provider.
var ErrNotFound = errors.New("resource not found")

// Interface is implemented by every provider. All operations are
// in-process; providers are compiled in and registered at startup.
//
// The reconciler never assumes Create is idempotent. It relies on state
// store bookkeeping to avoid double-creation.
type Interface interface {
	// Name returns the provider name, e.g. "aws".
	Name() string

	// Kinds returns the schemas of every resource kind this provider
	// manages.
	Kinds() []schema.Kind

	// Configure passes provider-level settings from configuration, e.g.
	// a region. Called once before any resource operation.
	Configure(ctx context.Context, settings map[string]any) error

	// Create provisions a new resource and returns its provider-assigned
	// identifier and actual attributes.
	Create(ctx context.Context, kind string, attrs map[string]any) (string, map[string]any, error)

	// Read returns the actual attributes of an existing resource, or
	// ErrNotFound.
	Read(ctx context.Context, kind, id string) (map[string]any, error)

	// Update changes a resource in place and returns its actual
	// attributes. Only called for kinds whose schema reports CanUpdate.
	Update(ctx context.Context, kind, id string, attrs map[string]any) (map[string]any, error)

	// Delete destroys a resource. Deleting an already-gone resource must
	// return ErrNotFound or nil, never a hard failure.
	Delete(ctx context.Context, kind, id string) error
}
