package memory

import (
	"context"
	"sync"

	"github.com/dogmatiq/attest/persistence"
)

// dataStore is an implementation of persistence.DataStore that stores node
// data in memory.
type dataStore struct {
	m  sync.RWMutex
	db *database
}

func newDataStore(db *database) *dataStore {
	return &dataStore{
		db: db,
	}
}

// Persist commits a batch of operations atomically.
//
// If any one of the operations causes an optimistic concurrency conflict
// the entire batch is aborted and a ConflictError is returned.
func (ds *dataStore) Persist(
	ctx context.Context,
	b persistence.Batch,
) (persistence.Result, error) {
	b.MustValidate()

	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.db == nil {
		return persistence.Result{}, persistence.ErrDataStoreClosed
	}

	ds.db.mutex.Lock()
	defer ds.db.mutex.Unlock()

	v := &validator{ds.db}
	if err := b.AcceptVisitor(ctx, v); err != nil {
		return persistence.Result{}, err
	}

	c := &committer{
		db: ds.db,
		result: persistence.Result{
			CheckpointRevisions: map[string]uint64{},
		},
	}
	if err := b.AcceptVisitor(ctx, c); err != nil {
		return persistence.Result{}, err
	}

	return c.result, nil
}

// Close closes the data store.
//
// Closing a data-store causes any future call to Persist() to return
// ErrDataStoreClosed.
func (ds *dataStore) Close() error {
	ds.m.Lock()
	defer ds.m.Unlock()

	if ds.db == nil {
		return persistence.ErrDataStoreClosed
	}

	db := ds.db
	ds.db = nil

	db.Close()

	return nil
}

// validator is an implementation of persistence.OperationVisitor that returns
// an error if any operation in a batch can not be applied to the database.
type validator struct {
	db *database
}

// committer is an implementation of persistence.OperationVisitor that applies
// operations to the database.
//
// It is expected that the operations have already been validated using
// validator.
type committer struct {
	db     *database
	result persistence.Result
}
