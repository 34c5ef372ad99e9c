package raft

// FSM is the replicated state machine that committed log entries are applied
// to.
//
// Every node in the cluster applies the same entries in the same order, so
// all implementations must be deterministic with respect to the entry data.
type FSM interface {
	// Apply applies a committed command to the state machine and returns its
	// outcome.
	//
	// index is the log index of the entry that carried the command.
	Apply(index uint64, cmd []byte) []byte

	// Snapshot returns an opaque serialization of the state machine's current
	// state.
	Snapshot() ([]byte, error)

	// Restore replaces the state machine's state with a snapshot previously
	// produced by Snapshot().
	Restore(data []byte) error
}
