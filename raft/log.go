package raft

// EntryType enumerates the kinds of payload a log entry can carry.
type EntryType int

const (
	// EntryCommand is an entry that carries an application command, applied
	// to the FSM once committed.
	EntryCommand EntryType = iota

	// EntryConfig is an entry that carries a cluster membership change,
	// applied under the same commit protocol as commands.
	EntryConfig
)

// Entry is a single entry in the replicated log.
//
// Entries are appended only by the current leader, and are immutable once a
// quorum has acknowledged them.
type Entry struct {
	// Index is the entry's position in the log. Indexes are strictly
	// increasing and contiguous, starting at one.
	Index uint64

	// Term is the term of the leader that appended the entry.
	Term uint64

	// Type is the kind of payload the entry carries.
	Type EntryType

	// Data is the entry's payload.
	Data []byte
}

// LogStore is an interface for storing the replicated log.
type LogStore interface {
	// FirstIndex returns the index of the first entry in the log. It returns
	// zero if the log is empty.
	FirstIndex() (uint64, error)

	// LastIndex returns the index of the last entry in the log. It returns
	// zero if the log is empty.
	LastIndex() (uint64, error)

	// Entry returns the entry at the given index.
	//
	// ok is false if there is no entry at that index.
	Entry(index uint64) (e Entry, ok bool, err error)

	// Entries returns the entries with indexes in the range [lo, hi],
	// inclusive.
	Entries(lo, hi uint64) ([]Entry, error)

	// Append appends entries to the log.
	Append(entries []Entry) error

	// TruncateAfter removes all entries with an index greater than the given
	// index.
	TruncateAfter(index uint64) error

	// TruncateBefore removes all entries with an index lower than the given
	// index. It is used to discard entries that are covered by a snapshot.
	TruncateBefore(index uint64) error
}

// Snapshot is a compact representation of the FSM's state at a specific log
// index, used to discard the log prefix below that index.
type Snapshot struct {
	// LastIndex is the index of the last log entry reflected in the snapshot.
	LastIndex uint64

	// LastTerm is the term of the entry at LastIndex.
	LastTerm uint64

	// Members is the cluster membership as of LastIndex.
	Members []string

	// Data is the FSM state, as produced by FSM.Snapshot().
	Data []byte
}

// StableStore is an interface for storing a node's durable consensus state.
//
// The stored term and vote must be persisted before any RPC response that
// discloses them, otherwise a node could vote twice in one term after a
// restart.
type StableStore interface {
	// SetState persists the node's current term and the candidate it voted
	// for in that term.
	SetState(term uint64, votedFor string) error

	// State returns the most recently persisted term and vote. It returns
	// zero values if no state has been persisted.
	State() (term uint64, votedFor string, err error)

	// SetSnapshot persists a snapshot, replacing any existing snapshot.
	SetSnapshot(snap Snapshot) error

	// Snapshot returns the most recently persisted snapshot.
	//
	// ok is false if no snapshot has been persisted.
	Snapshot() (snap Snapshot, ok bool, err error)
}
