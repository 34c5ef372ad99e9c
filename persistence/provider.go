package persistence

import (
	"context"
	"errors"
)

// ErrDataStoreLocked is returned by Provider.Open() if the data-store is
// already open for exclusive use, either by this engine or another process.
var ErrDataStoreLocked = errors.New("the data-store is locked for exclusive use")

// Provider is an interface used by the engine to obtain a DataStore.
type Provider interface {
	// Open returns the data-store for a specific engine node.
	//
	// k is the identity key of the node.
	//
	// Data stores are opened for exclusive use. If another engine instance has
	// already opened this node's data-store, ErrDataStoreLocked is returned.
	Open(ctx context.Context, k string) (DataStore, error)
}
