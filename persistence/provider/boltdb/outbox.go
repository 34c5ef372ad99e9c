package boltdb

import (
	"context"
	"encoding/json"

	"github.com/dogmatiq/attest/internal/x/bboltx"
	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/session"
	"go.etcd.io/bbolt"
)

// outboxBucketKey is the key for the root bucket for unacknowledged outbound
// envelopes.
//
// The keys are session IDs. The values are buckets in which the keys are
// envelope sequence numbers, marshaled as big-endian uint64, and the values
// are session.Envelope values marshaled using JSON.
var outboxBucketKey = []byte("outbox")

// LoadOutboxMessages loads all envelopes that have been produced but not yet
// acknowledged by their recipient, in no particular order.
func (ds *dataStore) LoadOutboxMessages(
	_ context.Context,
) (_ []session.Envelope, err error) {
	defer bboltx.Recover(&err)

	var envelopes []session.Envelope

	bboltx.View(
		ds.db,
		func(tx *bbolt.Tx) {
			outbox, ok := bboltx.TryBucket(tx, ds.nodeKey, outboxBucketKey)
			if !ok {
				return
			}

			bboltx.Must(
				outbox.ForEach(func(id, _ []byte) error {
					sess := outbox.Bucket(id)

					return sess.ForEach(func(_, data []byte) error {
						var env session.Envelope
						bboltx.Must(json.Unmarshal(data, &env))
						envelopes = append(envelopes, env)
						return nil
					})
				}),
			)
		},
	)

	return envelopes, nil
}

// VisitSaveOutboxMessage applies the changes in a "SaveOutboxMessage"
// operation to the database.
func (c *committer) VisitSaveOutboxMessage(
	_ context.Context,
	op persistence.SaveOutboxMessage,
) error {
	env := op.Envelope

	data, err := json.Marshal(env)
	bboltx.Must(err)

	bboltx.PutPath(
		c.root,
		data,
		outboxBucketKey,
		[]byte(env.SessionID),
		marshalUint64(env.Seq),
	)

	return nil
}

// VisitRemoveOutboxMessage applies the changes in a "RemoveOutboxMessage"
// operation to the database.
func (c *committer) VisitRemoveOutboxMessage(
	_ context.Context,
	op persistence.RemoveOutboxMessage,
) error {
	env := op.Envelope

	data := bboltx.GetPath(
		c.root,
		outboxBucketKey,
		[]byte(env.SessionID),
		marshalUint64(env.Seq),
	)
	if data == nil {
		return persistence.ConflictError{
			Cause: op,
		}
	}

	bboltx.DeletePath(
		c.root,
		outboxBucketKey,
		[]byte(env.SessionID),
		marshalUint64(env.Seq),
	)

	return nil
}
