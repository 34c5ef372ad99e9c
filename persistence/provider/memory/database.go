package memory

import (
	"sync"
	"sync/atomic"

	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/session"
)

// outboxKey uniquely identifies an envelope within a node's outbox.
type outboxKey struct {
	sessionID string
	seq       uint64
}

// database encapsulates a single node's data.
type database struct {
	mutex sync.RWMutex

	open        uint32 // atomic
	checkpoints map[string]persistence.Checkpoint
	outbox      map[outboxKey]session.Envelope
}

// newDatabase returns a new empty database.
func newDatabase() *database {
	return &database{}
}

// TryOpen attempts to open the database. If the database is already open it
// returns false.
//
// This is used to enforce the requirement that persistence providers only
// allow a single open data-store for each node.
func (db *database) TryOpen() bool {
	return atomic.CompareAndSwapUint32(&db.open, 0, 1)
}

// Close closes an open database.
//
// This allows a new data-store for this node to be opened via the provider.
func (db *database) Close() {
	atomic.CompareAndSwapUint32(&db.open, 1, 0)
}

// saveCheckpoint stores cp in the database. cp.Revision is incremented before
// saving.
func (db *database) saveCheckpoint(cp persistence.Checkpoint) {
	if db.checkpoints == nil {
		db.checkpoints = map[string]persistence.Checkpoint{}
	}

	cp.Revision++
	db.checkpoints[cp.FlowID] = cp
}

// removeCheckpoint removes the checkpoint of the flow with the given ID.
func (db *database) removeCheckpoint(flowID string) {
	delete(db.checkpoints, flowID)
}

// saveOutboxMessage stores env in the database.
func (db *database) saveOutboxMessage(env session.Envelope) {
	if db.outbox == nil {
		db.outbox = map[outboxKey]session.Envelope{}
	}

	db.outbox[outboxKey{env.SessionID, env.Seq}] = env
}

// removeOutboxMessage removes the envelope with the given key.
func (db *database) removeOutboxMessage(k outboxKey) {
	delete(db.outbox, k)
}
