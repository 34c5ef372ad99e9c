package memory

import (
	"context"

	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/session"
)

// LoadOutboxMessages loads all envelopes that have been produced but not yet
// acknowledged by their recipient, in no particular order.
func (ds *dataStore) LoadOutboxMessages(
	_ context.Context,
) ([]session.Envelope, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.db == nil {
		return nil, persistence.ErrDataStoreClosed
	}

	ds.db.mutex.RLock()
	defer ds.db.mutex.RUnlock()

	var envelopes []session.Envelope
	for _, env := range ds.db.outbox {
		envelopes = append(envelopes, env)
	}

	return envelopes, nil
}

// VisitSaveOutboxMessage returns an error if a "SaveOutboxMessage" operation
// can not be applied to the database.
func (v *validator) VisitSaveOutboxMessage(
	_ context.Context,
	op persistence.SaveOutboxMessage,
) error {
	return nil
}

// VisitRemoveOutboxMessage returns an error if a "RemoveOutboxMessage"
// operation can not be applied to the database.
func (v *validator) VisitRemoveOutboxMessage(
	_ context.Context,
	op persistence.RemoveOutboxMessage,
) error {
	env := op.Envelope
	key := outboxKey{env.SessionID, env.Seq}

	if _, ok := v.db.outbox[key]; ok {
		return nil
	}

	return persistence.ConflictError{
		Cause: op,
	}
}

// VisitSaveOutboxMessage applies the changes in a "SaveOutboxMessage"
// operation to the database.
func (c *committer) VisitSaveOutboxMessage(
	_ context.Context,
	op persistence.SaveOutboxMessage,
) error {
	c.db.saveOutboxMessage(op.Envelope)
	return nil
}

// VisitRemoveOutboxMessage applies the changes in a "RemoveOutboxMessage"
// operation to the database.
func (c *committer) VisitRemoveOutboxMessage(
	_ context.Context,
	op persistence.RemoveOutboxMessage,
) error {
	c.db.removeOutboxMessage(outboxKey{op.Envelope.SessionID, op.Envelope.Seq})
	return nil
}
