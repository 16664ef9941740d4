package shard

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Default conventions applied when a shard client does not override them.
const (
	DefaultIdentityPartsSeparator = "/"
	DefaultRequestTimeout         = 5 * time.Second
	DefaultMaxPageSize            = 1024
)

// Conventions holds the per-client settings the routing layer depends on.
// A Map clones the conventions of its first shard and uses them as the
// map-wide default.
type Conventions struct {
	// IdentityPartsSeparator separates the shard id from the base name
	// in composite names, e.g. "/east/report.pdf".
	IdentityPartsSeparator string

	// RequestTimeout bounds every per-shard operation issued through
	// this client. Zero disables the per-shard bound, leaving only the
	// caller's context.
	RequestTimeout time.Duration

	// MaxPageSize caps the page size of paged listings.
	MaxPageSize int
}

// DefaultConventions returns the conventions used by clients that were not
// configured explicitly.
func DefaultConventions() Conventions {
	return Conventions{
		IdentityPartsSeparator: DefaultIdentityPartsSeparator,
		RequestTimeout:         DefaultRequestTimeout,
		MaxPageSize:            DefaultMaxPageSize,
	}
}

// Clone returns an independent copy of the conventions.
func (c Conventions) Clone() Conventions {
	return c
}

// Identity is the physical identity of a storage server as reported by an
// identity probe.
type Identity struct {
	ServerID uuid.UUID
	URL      string
}

// Client is the capability the routing layer requires from a shard client.
// Operation-specific methods live on the concrete client type and are
// invoked by the per-shard operations passed to Execute and Broadcast.
type Client interface {
	// GetIdentity probes the server behind the client. It must honor
	// ctx cancellation and deadlines.
	GetIdentity(ctx context.Context) (Identity, error)

	// Conventions returns the client's conventions.
	Conventions() Conventions
}
