package fixtures

import (
	"context"

	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/persistence/provider/memory"
	"github.com/dogmatiq/attest/session"
)

// ProviderStub is a test implementation of the persistence.Provider interface.
type ProviderStub struct {
	persistence.Provider

	OpenFunc func(context.Context, string) (persistence.DataStore, error)
}

// Open returns a data-store for a specific party.
func (p *ProviderStub) Open(ctx context.Context, k string) (persistence.DataStore, error) {
	if p.OpenFunc != nil {
		return p.OpenFunc(ctx, k)
	}

	if p.Provider != nil {
		ds, err := p.Provider.Open(ctx, k)
		if ds != nil {
			ds = &DataStoreStub{DataStore: ds}
		}
		return ds, err
	}

	return nil, nil
}

// DataStoreStub is a test implementation of the persistence.DataStore
// interface.
type DataStoreStub struct {
	persistence.DataStore

	LoadCheckpointFunc     func(context.Context, string) (persistence.Checkpoint, error)
	LoadCheckpointsFunc    func(context.Context) ([]persistence.Checkpoint, error)
	LoadOutboxMessagesFunc func(context.Context) ([]session.Envelope, error)
	PersistFunc            func(context.Context, persistence.Batch) (persistence.Result, error)
	CloseFunc              func() error
}

// NewDataStoreStub returns a new data-store stub that uses an in-memory
// persistence provider.
func NewDataStoreStub() *DataStoreStub {
	p := &ProviderStub{
		Provider: &memory.Provider{},
	}

	ds, err := p.Open(context.Background(), "<party-key>")
	if err != nil {
		panic(err)
	}

	return ds.(*DataStoreStub)
}

// LoadCheckpoint loads the checkpoint of a specific flow.
func (ds *DataStoreStub) LoadCheckpoint(ctx context.Context, flowID string) (persistence.Checkpoint, error) {
	if ds.LoadCheckpointFunc != nil {
		return ds.LoadCheckpointFunc(ctx, flowID)
	}

	if ds.DataStore != nil {
		return ds.DataStore.LoadCheckpoint(ctx, flowID)
	}

	return persistence.Checkpoint{}, nil
}

// LoadCheckpoints loads the checkpoints of all flows that have not reached a
// terminal state.
func (ds *DataStoreStub) LoadCheckpoints(ctx context.Context) ([]persistence.Checkpoint, error) {
	if ds.LoadCheckpointsFunc != nil {
		return ds.LoadCheckpointsFunc(ctx)
	}

	if ds.DataStore != nil {
		return ds.DataStore.LoadCheckpoints(ctx)
	}

	return nil, nil
}

// LoadOutboxMessages loads all envelopes that have been produced but not yet
// acknowledged by their recipient.
func (ds *DataStoreStub) LoadOutboxMessages(ctx context.Context) ([]session.Envelope, error) {
	if ds.LoadOutboxMessagesFunc != nil {
		return ds.LoadOutboxMessagesFunc(ctx)
	}

	if ds.DataStore != nil {
		return ds.DataStore.LoadOutboxMessages(ctx)
	}

	return nil, nil
}

// Persist commits a batch of operations atomically.
func (ds *DataStoreStub) Persist(ctx context.Context, b persistence.Batch) (persistence.Result, error) {
	if ds.PersistFunc != nil {
		return ds.PersistFunc(ctx, b)
	}

	if ds.DataStore != nil {
		return ds.DataStore.Persist(ctx, b)
	}

	return persistence.Result{}, nil
}

// Close closes the data store.
func (ds *DataStoreStub) Close() error {
	if ds.CloseFunc != nil {
		return ds.CloseFunc()
	}

	if ds.DataStore != nil {
		return ds.DataStore.Close()
	}

	return nil
}
