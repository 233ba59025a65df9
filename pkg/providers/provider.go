// Package providers resolves stream identifiers into playable,
// already-proxied stream descriptors. Each provider owns its upstream
// login/session dance and token format.
package providers

import (
	"context"
	"errors"

	"stream-proxy-go/pkg/types"
)

// ErrNoStream is returned when a provider recognized the identifier but
// the upstream had no playable source for it.
var ErrNoStream = errors.New("no playable stream found")

// Provider resolves stream identifiers of one upstream service.
type Provider interface {
	// Name returns the provider's identifier prefix, e.g. "cncverse".
	Name() string

	// CanResolve reports whether the identifier belongs to this provider.
	CanResolve(id string) bool

	// ResolveStream turns an identifier into a StreamDescriptor whose
	// URLs all point back at this proxy.
	ResolveStream(ctx context.Context, id string) (*types.StreamDescriptor, error)
}
