package boltdb

import (
	"context"
	"sync"

	"github.com/dogmatiq/attest/internal/x/bboltx"
	"github.com/dogmatiq/attest/persistence"
	"go.etcd.io/bbolt"
)

// dataStore is an implementation of persistence.DataStore for BoltDB.
type dataStore struct {
	db      *bbolt.DB
	nodeKey []byte

	m       sync.RWMutex
	release func(string) error
}

// Persist commits a batch of operations atomically.
//
// If any one of the operations causes an optimistic concurrency conflict
// the entire batch is aborted and a ConflictError is returned.
func (ds *dataStore) Persist(
	ctx context.Context,
	b persistence.Batch,
) (_ persistence.Result, err error) {
	b.MustValidate()

	defer bboltx.Recover(&err)

	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.release == nil {
		return persistence.Result{}, persistence.ErrDataStoreClosed
	}

	c := &committer{
		result: persistence.Result{
			CheckpointRevisions: map[string]uint64{},
		},
	}

	bboltx.Update(
		ds.db,
		func(tx *bbolt.Tx) {
			c.root = bboltx.CreateBucketIfNotExists(tx, ds.nodeKey)
			bboltx.Must(b.AcceptVisitor(ctx, c))
		},
	)

	return c.result, nil
}

// Close closes the data store.
//
// Closing a data-store causes any future call to Persist() to return
// ErrDataStoreClosed.
//
// In general use it is expected that all pending calls to Persist() will have
// finished before a data-store is closed. Close() may block until any
// in-flight calls to Persist() return, or may prevent any such calls from
// succeeding.
func (ds *dataStore) Close() error {
	ds.m.Lock()
	defer ds.m.Unlock()

	if ds.release == nil {
		return persistence.ErrDataStoreClosed
	}

	r := ds.release
	ds.db = nil
	ds.release = nil

	return r(string(ds.nodeKey))
}

// committer is an implementation of persistence.OperationVisitor that applies
// operations to the database.
//
// Operations are validated against the current database content as they are
// applied. Returning an error from a visit method aborts the enclosing BoltDB
// transaction, discarding any changes already applied.
type committer struct {
	root   *bbolt.Bucket
	result persistence.Result
}
