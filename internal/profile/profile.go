// Package profile adapts the external profile store. Given an external
// identity id it returns display metadata for an authenticated visitor.
// Lookups are best-effort: a failure of any kind degrades the session to
// anonymous display and never fails a match.
package profile

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no profile exists for an identity. Callers
// treat every other error the same way.
var ErrNotFound = errors.New("profile: not found")

// DefaultLookupTimeout bounds a single enrichment lookup so an unresponsive
// upstream store cannot stall a match attempt.
const DefaultLookupTimeout = 3 * time.Second

// Profile is the display metadata attached to a matched partner.
type Profile struct {
	Username    string
	DisplayName string
	AvatarURL   string
}

// Enricher resolves an external identity id to display metadata.
type Enricher interface {
	Lookup(ctx context.Context, identityID string) (*Profile, error)
}

// LookupWithTimeout runs a lookup under the given bound. A nil enricher, a
// timeout, ErrNotFound, and any upstream error all yield (nil, false).
func LookupWithTimeout(e Enricher, identityID string, timeout time.Duration) (*Profile, bool) {
	if e == nil || identityID == "" {
		return nil, false
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	p, err := e.Lookup(ctx, identityID)
	if err != nil || p == nil {
		return nil, false
	}
	return p, true
}
