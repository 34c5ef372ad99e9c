package raft

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
)

const (
	// DefaultElectionTimeout is the default minimum duration a follower waits
	// without leader contact before starting an election. The actual timeout
	// is randomized per node within [timeout, 2*timeout).
	DefaultElectionTimeout = 250 * time.Millisecond

	// DefaultHeartbeatInterval is the default interval at which the leader
	// sends empty AppendEntries requests to maintain its leadership.
	DefaultHeartbeatInterval = 50 * time.Millisecond

	// DefaultSnapshotThreshold is the default number of applied log entries
	// that are retained before Compact() discards the log prefix in favor of
	// a snapshot.
	DefaultSnapshotThreshold = 1000
)

// Role enumerates the consensus roles a node can occupy.
type Role int

const (
	// Follower is the passive role. A follower accepts entries from the
	// current leader, and becomes a candidate if the leader goes quiet.
	Follower Role = iota

	// Candidate is the role occupied while campaigning for leadership.
	Candidate

	// Leader is the active role. The leader is the only node that appends
	// entries to the replicated log.
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Node is a single member of a consensus cluster.
//
// It maintains a replicated log of commands, and applies committed commands
// to an FSM in log order. All members apply the same commands in the same
// order, regardless of leader failures.
type Node struct {
	// ID is the unique identifier of this node within the cluster.
	ID string

	// Members is the initial cluster membership, including this node.
	//
	// It is superseded by membership recorded in a snapshot, and by committed
	// membership-change entries.
	Members []string

	// FSM is the state machine that committed commands are applied to.
	FSM FSM

	// Log is the store for the replicated log.
	Log LogStore

	// Stable is the store for the node's durable term, vote and snapshot.
	Stable StableStore

	// Transport is used to communicate with the other cluster members.
	Transport Transport

	// ElectionTimeout is the minimum duration the node waits without leader
	// contact before starting an election. If it is zero,
	// DefaultElectionTimeout is used.
	ElectionTimeout time.Duration

	// HeartbeatInterval is the interval at which the node, while leader,
	// sends heartbeats. If it is zero, DefaultHeartbeatInterval is used.
	HeartbeatInterval time.Duration

	// SnapshotThreshold is the number of applied log entries retained before
	// Compact() discards the log prefix in favor of a snapshot. If it is
	// zero, DefaultSnapshotThreshold is used.
	SnapshotThreshold uint64

	// Logger is the target for messages about the node's role transitions.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m           sync.Mutex
	role        Role
	term        uint64
	votedFor    string
	leaderID    string
	commitIndex uint64
	lastApplied uint64
	snapIndex   uint64
	snapTerm    uint64
	members     []string
	nextIndex   map[string]uint64
	matchIndex  map[string]uint64
	waiters     map[uint64]chan []byte

	initOnce  sync.Once
	initErr   error
	contact   chan struct{}
	submitted chan struct{}
}

// Run executes the node's consensus protocol until ctx is canceled or an
// error occurs.
func (n *Node) Run(ctx context.Context) error {
	if err := n.init(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error

		switch n.currentRole() {
		case Follower:
			err = n.runFollower(ctx)
		case Candidate:
			err = n.runCandidate(ctx)
		case Leader:
			err = n.runLeader(ctx)
		}

		if err != nil {
			return err
		}
	}
}

// init loads the node's durable state, restoring the FSM from the most recent
// snapshot if there is one.
func (n *Node) init() error {
	n.initOnce.Do(func() {
		n.contact = make(chan struct{}, 1)
		n.submitted = make(chan struct{}, 1)
		n.waiters = map[uint64]chan []byte{}
		n.members = append([]string(nil), n.Members...)

		term, votedFor, err := n.Stable.State()
		if err != nil {
			n.initErr = err
			return
		}

		n.term = term
		n.votedFor = votedFor

		snap, ok, err := n.Stable.Snapshot()
		if err != nil {
			n.initErr = err
			return
		}

		if ok {
			if err := n.FSM.Restore(snap.Data); err != nil {
				n.initErr = err
				return
			}

			n.snapIndex = snap.LastIndex
			n.snapTerm = snap.LastTerm
			n.commitIndex = snap.LastIndex
			n.lastApplied = snap.LastIndex

			if len(snap.Members) != 0 {
				n.members = snap.Members
			}
		}
	})

	return n.initErr
}

// Submit replicates a command through the cluster and returns the outcome of
// applying it to the FSM.
//
// If this node is not the leader, the submission is forwarded to the current
// leader. ErrUnavailable is returned if no leader is known.
func (n *Node) Submit(ctx context.Context, cmd []byte) ([]byte, error) {
	if err := n.init(); err != nil {
		return nil, err
	}

	return n.submit(ctx, EntryCommand, cmd)
}

// ChangeMembership replicates a new cluster membership through the cluster.
//
// The change takes effect on each node as the entry is applied, under the
// same commit protocol as ordinary commands.
//
// It must be called on the leader. A non-leader returns a NotLeaderError
// naming the node it believes to be the leader.
func (n *Node) ChangeMembership(ctx context.Context, members []string) error {
	if err := n.init(); err != nil {
		return err
	}

	data, err := json.Marshal(members)
	if err != nil {
		return err
	}

	_, err = n.submit(ctx, EntryConfig, data)
	return err
}

func (n *Node) submit(ctx context.Context, t EntryType, data []byte) ([]byte, error) {
	n.m.Lock()

	if n.role != Leader {
		leader := n.leaderID
		n.m.Unlock()

		if t != EntryCommand {
			return nil, NotLeaderError{LeaderID: leader}
		}

		if leader == "" {
			return nil, ErrUnavailable
		}

		out, err := n.Transport.Submit(ctx, leader, data)

		// A stale leadership view on the remote node produces a hint naming
		// the leader it believes in. Follow the hint at most once; beyond
		// that the cluster has no settled leader.
		var hint NotLeaderError
		if errors.As(err, &hint) {
			if hint.LeaderID == "" || hint.LeaderID == leader || hint.LeaderID == n.ID {
				return nil, ErrUnavailable
			}

			out, err = n.Transport.Submit(ctx, hint.LeaderID, data)
			if errors.As(err, &hint) {
				return nil, ErrUnavailable
			}
		}

		return out, err
	}

	index, _, err := n.lastLog()
	if err != nil {
		n.m.Unlock()
		return nil, err
	}
	index++

	e := Entry{
		Index: index,
		Term:  n.term,
		Type:  t,
		Data:  data,
	}

	if err := n.Log.Append([]Entry{e}); err != nil {
		n.m.Unlock()
		return nil, err
	}

	n.matchIndex[n.ID] = index

	ch := make(chan []byte, 1)
	n.waiters[index] = ch

	// A single-member cluster commits by local append alone.
	n.advanceCommitIndex()
	n.applyCommitted()

	n.m.Unlock()

	signal(n.submitted)

	select {
	case <-ctx.Done():
		n.m.Lock()
		delete(n.waiters, index)
		n.m.Unlock()
		return nil, ctx.Err()

	case out, ok := <-ch:
		if !ok {
			return nil, ErrUnavailable
		}
		return out, nil
	}
}

// Compact discards applied log entries in favor of a snapshot, once the
// number of applied entries retained in the log exceeds the node's snapshot
// threshold.
func (n *Node) Compact(ctx context.Context) error {
	if err := n.init(); err != nil {
		return err
	}

	n.m.Lock()
	defer n.m.Unlock()

	first, err := n.Log.FirstIndex()
	if err != nil {
		return err
	}

	if first == 0 || n.lastApplied < first {
		return nil
	}

	if n.lastApplied-first+1 <= n.snapshotThreshold() {
		return nil
	}

	data, err := n.FSM.Snapshot()
	if err != nil {
		return err
	}

	term, err := n.termOf(n.lastApplied)
	if err != nil {
		return err
	}

	snap := Snapshot{
		LastIndex: n.lastApplied,
		LastTerm:  term,
		Members:   append([]string(nil), n.members...),
		Data:      data,
	}

	if err := n.Stable.SetSnapshot(snap); err != nil {
		return err
	}

	if err := n.Log.TruncateBefore(n.lastApplied + 1); err != nil {
		return err
	}

	n.snapIndex = snap.LastIndex
	n.snapTerm = snap.LastTerm

	logging.Debug(
		n.Logger,
		"consensus: %s compacted log up to index %d",
		n.ID,
		snap.LastIndex,
	)

	return nil
}

// Leader returns the ID of the node believed to be the current leader.
//
// ok is false if no leader is known.
func (n *Node) Leader() (id string, ok bool) {
	n.m.Lock()
	defer n.m.Unlock()

	return n.leaderID, n.leaderID != ""
}

// CurrentTerm returns the node's current term.
func (n *Node) CurrentTerm() uint64 {
	n.m.Lock()
	defer n.m.Unlock()

	return n.term
}

// CommitIndex returns the index of the highest log entry known to be
// committed.
func (n *Node) CommitIndex() uint64 {
	n.m.Lock()
	defer n.m.Unlock()

	return n.commitIndex
}

func (n *Node) currentRole() Role {
	n.m.Lock()
	defer n.m.Unlock()

	return n.role
}

// lastLog returns the index and term of the node's last log entry, falling
// back to the snapshot boundary when the log is empty. It must be called with
// n.m held.
func (n *Node) lastLog() (index, term uint64, err error) {
	index, err = n.Log.LastIndex()
	if err != nil {
		return 0, 0, err
	}

	if index == 0 {
		return n.snapIndex, n.snapTerm, nil
	}

	term, err = n.termOf(index)
	return index, term, err
}

// termOf returns the term of the entry at the given index, consulting the
// snapshot boundary for compacted entries. It must be called with n.m held.
func (n *Node) termOf(index uint64) (uint64, error) {
	if index == 0 {
		return 0, nil
	}

	if index == n.snapIndex {
		return n.snapTerm, nil
	}

	e, ok, err := n.Log.Entry(index)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, nil
	}

	return e.Term, nil
}

// stepDown transitions the node to the follower role in the given term,
// persisting the new term. It must be called with n.m held.
func (n *Node) stepDown(term uint64) {
	if term > n.term {
		n.term = term
		n.votedFor = ""

		if err := n.Stable.SetState(n.term, n.votedFor); err != nil {
			logging.Log(
				n.Logger,
				"consensus: %s is unable to persist its term: %s",
				n.ID,
				err,
			)
		}
	}

	if n.role != Follower {
		logging.Debug(
			n.Logger,
			"consensus: %s stepped down to follower in term %d",
			n.ID,
			n.term,
		)
	}

	n.role = Follower

	n.failWaiters()
}

// failWaiters abandons any submissions awaiting an apply outcome. It must be
// called with n.m held.
func (n *Node) failWaiters() {
	for index, ch := range n.waiters {
		close(ch)
		delete(n.waiters, index)
	}
}

func (n *Node) electionTimeout() time.Duration {
	t := n.ElectionTimeout
	if t == 0 {
		t = DefaultElectionTimeout
	}

	return randomizeTimeout(t)
}

func (n *Node) heartbeatInterval() time.Duration {
	if n.HeartbeatInterval == 0 {
		return DefaultHeartbeatInterval
	}

	return n.HeartbeatInterval
}

func (n *Node) snapshotThreshold() uint64 {
	if n.SnapshotThreshold == 0 {
		return DefaultSnapshotThreshold
	}

	return n.SnapshotThreshold
}

// signal performs a non-blocking send on a notification channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
