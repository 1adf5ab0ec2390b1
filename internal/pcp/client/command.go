package client

import "github.com/pcpforward/controller/internal/pcp/mapping"

// Command is the taxonomy of operations the client engine accepts on
// its inbound command channel. Reply channels, where present, deliver
// exactly one value.
type Command interface {
	isCommand()
}

// UpsertDesired inserts or updates the desired mapping for its Id,
// triggering reconciliation.
type UpsertDesired struct {
	Desired mapping.Desired
}

func (UpsertDesired) isCommand() {}

// RemoveDesired marks the mapping for Id for cleanup, triggering
// reconciliation.
type RemoveDesired struct {
	Id mapping.Id
}

func (RemoveDesired) isCommand() {}

// HasState answers whether Id has any tracked state in the mapping
// table. Reply must be buffered with capacity at least 1: the engine
// sends its answer inline while processing the command and must never
// block waiting for a reader.
type HasState struct {
	Id    mapping.Id
	Reply chan<- bool
}

func (HasState) isCommand() {}

// GetEffective returns the current effective mapping for Id, if any.
// Reply must be buffered with capacity at least 1 (see HasState).
type GetEffective struct {
	Id    mapping.Id
	Reply chan<- *mapping.Incoming
}

func (GetEffective) isCommand() {}
