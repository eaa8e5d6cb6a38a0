// Package storage defines the interface for reading the resources served by
// the route table. Backends live in subpackages (local filesystem, GCS).
package storage

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every failure to produce a resource's contents:
// missing objects, permission problems, and backend errors alike.
var ErrUnavailable = errors.New("resource unavailable")

// Provider reads named resources.
type Provider interface {
	// Read returns the full contents of the named resource.
	Read(ctx context.Context, name string) ([]byte, error)
}
