// Package mapping defines the identity and parameters of a single PCP
// port mapping, independent of the lifecycle state machine (see
// internal/pcp/lifecycle) and the client engine that drives it (see
// internal/pcp/client).
package mapping

import (
	"github.com/pcpforward/controller/internal/pcp/primitives"
	"github.com/pcpforward/controller/internal/pcp/wire"
)

// Id is the immutable identity of a mapping. Changing any field
// addresses a different mapping.
type Id struct {
	Protocol     primitives.Protocol
	InternalIP   primitives.Address
	InternalPort primitives.Port
	Nonce        primitives.Nonce
}

// ExposedResource is the server-visible slot a mapping occupies:
// (protocol, internal_ip, internal_port), deliberately excluding the
// nonce. Two Ids with different nonces but the same ExposedResource
// address the same slot on the gateway.
type ExposedResource struct {
	Protocol     primitives.Protocol
	InternalIP   primitives.Address
	InternalPort primitives.Port
}

// ExposedResource returns the server-visible slot id addresses.
func (id Id) ExposedResource() ExposedResource {
	return ExposedResource{Protocol: id.Protocol, InternalIP: id.InternalIP, InternalPort: id.InternalPort}
}

// Params are the fields of a mapping that may change without replacing
// the mapping's identity.
type Params struct {
	Lifetime     primitives.LifetimeSeconds
	ExternalPort primitives.Port
	ExternalIP   primitives.Address

	// PreferFailure is nil when the PREFER_FAILURE option is absent, and
	// otherwise its value is the option's "optional to process" bit.
	PreferFailure *bool

	// ThirdParty and Filters are modeled per the wire format but are not
	// exercised by the core protocol path.
	ThirdParty *primitives.Address
	Filters    []Filter
}

// Filter models a PCP FILTER option entry. Unused by the core path;
// kept so the option is representable if a caller ever needs it.
type Filter struct {
	Protocol        primitives.Protocol
	RemotePort      primitives.Port
	RemoteIPAddress primitives.Address
}

// Desired is an (Id, Params) pair as requested by whatever drives the
// client engine — the reconciler in normal operation.
type Desired struct {
	Id     Id
	Params Params
}

// AsCleanup returns a copy of d with Lifetime forced to zero, the wire
// representation of "delete this mapping".
func (d Desired) AsCleanup() Desired {
	cleanup := d
	cleanup.Params.Lifetime = 0
	return cleanup
}

// IsCleanup reports whether d's lifetime marks it for deletion.
func (d Desired) IsCleanup() bool {
	return d.Params.Lifetime == 0
}

// Incoming is a decoded MAP response, reduced to the fields the
// lifecycle state machine needs to reconcile against a mapping table.
type Incoming struct {
	Resource             ExposedResource
	ResultCode           primitives.ResultCode
	Lifetime             primitives.LifetimeSeconds
	EpochTime            primitives.EpochTime
	AssignedExternalPort primitives.Port
	AssignedExternalIP   primitives.Address
}

// IsCleanup reports whether this reply confirms a deletion: a success
// result with a granted lifetime of zero.
func (i Incoming) IsCleanup() bool {
	return i.ResultCode == wire.ResultSuccess && i.Lifetime == 0
}
