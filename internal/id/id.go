// Package id generates correlation identifiers for connections and admin requests.
package id

import (
	"github.com/google/uuid"
)

// New returns a time-ordered UUIDv7 string. If the v7 generator fails it
// falls back to a random v4 so callers never have to handle an error.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
