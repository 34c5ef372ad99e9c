package persistence

import (
	"context"
	"strconv"

	"github.com/dogmatiq/attest/session"
)

// OutboxRepository is an interface for reading unacknowledged outbound
// envelopes.
type OutboxRepository interface {
	// LoadOutboxMessages loads all envelopes that have been produced but not
	// yet acknowledged by their recipient, in no particular order.
	LoadOutboxMessages(ctx context.Context) ([]session.Envelope, error)
}

// SaveOutboxMessage is an Operation that persists an outbound envelope until
// its delivery is acknowledged.
//
// Saving an envelope that is already persisted has no effect.
type SaveOutboxMessage struct {
	// Envelope is the envelope to persist.
	Envelope session.Envelope
}

// AcceptVisitor calls v.VisitSaveOutboxMessage().
func (op SaveOutboxMessage) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveOutboxMessage(ctx, op)
}

func (op SaveOutboxMessage) entityKey() entityKey {
	return entityKey{
		"outbox",
		op.Envelope.SessionID,
		strconv.FormatUint(op.Envelope.Seq, 10),
	}
}

// RemoveOutboxMessage is an Operation that removes an envelope from the
// outbox once its delivery has been acknowledged.
//
// Removing an envelope that is not persisted causes an optimistic concurrency
// conflict and the entire batch of operations is rejected.
type RemoveOutboxMessage struct {
	// Envelope is the envelope to remove.
	Envelope session.Envelope
}

// AcceptVisitor calls v.VisitRemoveOutboxMessage().
func (op RemoveOutboxMessage) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitRemoveOutboxMessage(ctx, op)
}

func (op RemoveOutboxMessage) entityKey() entityKey {
	return entityKey{
		"outbox",
		op.Envelope.SessionID,
		strconv.FormatUint(op.Envelope.Seq, 10),
	}
}
