package memory

import (
	"context"

	"github.com/dogmatiq/attest/persistence"
)

// LoadCheckpoint loads the checkpoint of a specific flow.
//
// If the flow has no persisted checkpoint, a checkpoint with a revision of
// zero is returned.
func (ds *dataStore) LoadCheckpoint(
	_ context.Context,
	flowID string,
) (persistence.Checkpoint, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.db == nil {
		return persistence.Checkpoint{}, persistence.ErrDataStoreClosed
	}

	ds.db.mutex.RLock()
	defer ds.db.mutex.RUnlock()

	if cp, ok := ds.db.checkpoints[flowID]; ok {
		return cp, nil
	}

	return persistence.Checkpoint{
		FlowID: flowID,
	}, nil
}

// LoadCheckpoints loads the checkpoints of all flows that have not reached a
// terminal state, in no particular order.
func (ds *dataStore) LoadCheckpoints(
	_ context.Context,
) ([]persistence.Checkpoint, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.db == nil {
		return nil, persistence.ErrDataStoreClosed
	}

	ds.db.mutex.RLock()
	defer ds.db.mutex.RUnlock()

	var checkpoints []persistence.Checkpoint
	for _, cp := range ds.db.checkpoints {
		checkpoints = append(checkpoints, cp)
	}

	return checkpoints, nil
}

// VisitSaveCheckpoint returns an error if a "SaveCheckpoint" operation can not
// be applied to the database.
func (v *validator) VisitSaveCheckpoint(
	_ context.Context,
	op persistence.SaveCheckpoint,
) error {
	new := op.Checkpoint
	old := v.db.checkpoints[new.FlowID]

	if new.Revision == old.Revision {
		return nil
	}

	return persistence.ConflictError{
		Cause: op,
	}
}

// VisitRemoveCheckpoint returns an error if a "RemoveCheckpoint" operation can
// not be applied to the database.
func (v *validator) VisitRemoveCheckpoint(
	_ context.Context,
	op persistence.RemoveCheckpoint,
) error {
	cp := op.Checkpoint

	if x, ok := v.db.checkpoints[cp.FlowID]; ok {
		if cp.Revision == x.Revision {
			return nil
		}
	}

	return persistence.ConflictError{
		Cause: op,
	}
}

// VisitSaveCheckpoint applies the changes in a "SaveCheckpoint" operation to
// the database.
func (c *committer) VisitSaveCheckpoint(
	_ context.Context,
	op persistence.SaveCheckpoint,
) error {
	c.db.saveCheckpoint(op.Checkpoint)
	c.result.CheckpointRevisions[op.Checkpoint.FlowID] = op.Checkpoint.Revision + 1
	return nil
}

// VisitRemoveCheckpoint applies the changes in a "RemoveCheckpoint" operation
// to the database.
func (c *committer) VisitRemoveCheckpoint(
	_ context.Context,
	op persistence.RemoveCheckpoint,
) error {
	c.db.removeCheckpoint(op.Checkpoint.FlowID)
	return nil
}
