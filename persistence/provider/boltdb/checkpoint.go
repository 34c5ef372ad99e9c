package boltdb

import (
	"context"
	"encoding/json"

	"github.com/dogmatiq/attest/internal/x/bboltx"
	"github.com/dogmatiq/attest/persistence"
	"go.etcd.io/bbolt"
)

// checkpointBucketKey is the key for the root bucket for checkpoint data.
//
// The keys are flow IDs. The values are persistence.Checkpoint values
// marshaled using JSON.
var checkpointBucketKey = []byte("checkpoint")

// LoadCheckpoint loads the checkpoint of a specific flow.
//
// If the flow has no persisted checkpoint, a checkpoint with a revision of
// zero is returned.
func (ds *dataStore) LoadCheckpoint(
	_ context.Context,
	flowID string,
) (_ persistence.Checkpoint, err error) {
	defer bboltx.Recover(&err)

	cp := persistence.Checkpoint{
		FlowID: flowID,
	}

	bboltx.View(
		ds.db,
		func(tx *bbolt.Tx) {
			if root, ok := bboltx.TryBucket(tx, ds.nodeKey); ok {
				if x, ok := loadCheckpoint(root, flowID); ok {
					cp = x
				}
			}
		},
	)

	return cp, nil
}

// LoadCheckpoints loads the checkpoints of all flows that have not reached a
// terminal state, in no particular order.
func (ds *dataStore) LoadCheckpoints(
	_ context.Context,
) (_ []persistence.Checkpoint, err error) {
	defer bboltx.Recover(&err)

	var checkpoints []persistence.Checkpoint

	bboltx.View(
		ds.db,
		func(tx *bbolt.Tx) {
			b, ok := bboltx.TryBucket(tx, ds.nodeKey, checkpointBucketKey)
			if !ok {
				return
			}

			bboltx.Must(
				b.ForEach(func(_, data []byte) error {
					cp := unmarshalCheckpoint(data)
					checkpoints = append(checkpoints, cp)
					return nil
				}),
			)
		},
	)

	return checkpoints, nil
}

// VisitSaveCheckpoint applies the changes in a "SaveCheckpoint" operation to
// the database.
func (c *committer) VisitSaveCheckpoint(
	_ context.Context,
	op persistence.SaveCheckpoint,
) error {
	new := op.Checkpoint
	old, _ := loadCheckpoint(c.root, new.FlowID)

	if new.Revision != old.Revision {
		return persistence.ConflictError{
			Cause: op,
		}
	}

	saveCheckpoint(c.root, new)
	c.result.CheckpointRevisions[new.FlowID] = new.Revision + 1

	return nil
}

// VisitRemoveCheckpoint applies the changes in a "RemoveCheckpoint" operation
// to the database.
func (c *committer) VisitRemoveCheckpoint(
	_ context.Context,
	op persistence.RemoveCheckpoint,
) error {
	cp := op.Checkpoint
	existing, ok := loadCheckpoint(c.root, cp.FlowID)

	if !ok || cp.Revision != existing.Revision {
		return persistence.ConflictError{
			Cause: op,
		}
	}

	bboltx.DeletePath(
		c.root,
		checkpointBucketKey,
		[]byte(cp.FlowID),
	)

	return nil
}

// saveCheckpoint saves a checkpoint to the root bucket. cp.Revision is
// incremented before saving.
func saveCheckpoint(root *bbolt.Bucket, cp persistence.Checkpoint) {
	cp.Revision++

	data, err := json.Marshal(cp)
	bboltx.Must(err)

	bboltx.PutPath(
		root,
		data,
		checkpointBucketKey,
		[]byte(cp.FlowID),
	)
}

// loadCheckpoint returns the checkpoint of the flow with the given ID, loaded
// from the root bucket.
func loadCheckpoint(root *bbolt.Bucket, flowID string) (persistence.Checkpoint, bool) {
	data := bboltx.GetPath(
		root,
		checkpointBucketKey,
		[]byte(flowID),
	)
	if data == nil {
		return persistence.Checkpoint{FlowID: flowID}, false
	}

	return unmarshalCheckpoint(data), true
}

// unmarshalCheckpoint unmarshals a checkpoint from its JSON representation.
func unmarshalCheckpoint(data []byte) persistence.Checkpoint {
	var cp persistence.Checkpoint
	err := json.Unmarshal(data, &cp)
	bboltx.Must(err)

	return cp
}
