package memory

import (
	"context"

	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/cosyne"
)

// Provider is an implementation of persistence.Provider that stores node data
// in memory.
type Provider struct {
	m         cosyne.Mutex
	databases map[string]*database
}

// Open returns the data-store for a specific engine node.
//
// k is the identity key of the node.
//
// Data stores are opened for exclusive use. If another engine instance has
// already opened this node's data-store, ErrDataStoreLocked is returned.
func (p *Provider) Open(ctx context.Context, k string) (persistence.DataStore, error) {
	if err := p.m.Lock(ctx); err != nil {
		return nil, err
	}
	defer p.m.Unlock()

	if p.databases == nil {
		p.databases = map[string]*database{}
	}

	db, ok := p.databases[k]

	if !ok {
		db = newDatabase()
		p.databases[k] = db
	}

	if db.TryOpen() {
		return newDataStore(db), nil
	}

	return nil, persistence.ErrDataStoreLocked
}
