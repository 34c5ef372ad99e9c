package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dogmatiq/configkit"
)

// ErrNotReady is returned by an endpoint when the receiving flow is not yet
// awaiting the delivered envelope.
//
// It is a transient condition; the sender is expected to retransmit the
// envelope until delivery succeeds or is acknowledged as a duplicate.
var ErrNotReady = errors.New("recipient is not ready to consume the envelope")

// An Exchange delivers envelopes between the parties that host flow endpoints.
type Exchange interface {
	// Deliver delivers env to the party identified by env.Recipient.
	//
	// Delivery is at-least-once. A nil error guarantees that the recipient has
	// durably consumed the envelope, or discarded it as a duplicate of one it
	// has already consumed. Any other outcome must be retried by the caller.
	Deliver(ctx context.Context, env Envelope) error
}

// An Endpoint handles envelopes delivered to a single party.
type Endpoint interface {
	// DeliverEnvelope delivers env to the flow that is awaiting it, starting a
	// responder flow if env opens a new session.
	//
	// It returns ErrNotReady if the envelope can not be consumed yet.
	DeliverEnvelope(ctx context.Context, env Envelope) error
}

// UnknownPartyError is returned when an envelope is addressed to a party that
// has no registered endpoint.
type UnknownPartyError struct {
	// Identity is the identity of the unknown party.
	Identity configkit.Identity
}

func (e UnknownPartyError) Error() string {
	return fmt.Sprintf(
		"no endpoint is registered for %s",
		e.Identity,
	)
}

// MemoryExchange is an implementation of Exchange that routes envelopes
// between endpoints hosted within the same process.
//
// It is used by tests and by single-process clusters. Network transports are
// expected to satisfy the Exchange interface at the same contract.
type MemoryExchange struct {
	m         sync.RWMutex
	endpoints map[string]Endpoint
}

// Register adds an endpoint for the party with the given identity.
//
// It replaces any endpoint already registered with the same identity key.
func (x *MemoryExchange) Register(id configkit.Identity, ep Endpoint) {
	x.m.Lock()
	defer x.m.Unlock()

	if x.endpoints == nil {
		x.endpoints = map[string]Endpoint{}
	}

	x.endpoints[id.Key] = ep
}

// Deliver delivers env to the party identified by env.Recipient.
func (x *MemoryExchange) Deliver(ctx context.Context, env Envelope) error {
	x.m.RLock()
	ep, ok := x.endpoints[env.Recipient.Key]
	x.m.RUnlock()

	if !ok {
		return UnknownPartyError{env.Recipient}
	}

	return ep.DeliverEnvelope(ctx, env)
}
