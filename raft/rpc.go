package raft

import (
	"context"
)

// RequestVoteRequest is the argument to the RequestVote RPC, sent by
// candidates to gather votes.
type RequestVoteRequest struct {
	// Term is the candidate's term.
	Term uint64

	// CandidateID is the ID of the candidate requesting the vote.
	CandidateID string

	// LastLogIndex is the index of the candidate's last log entry.
	LastLogIndex uint64

	// LastLogTerm is the term of the candidate's last log entry.
	LastLogTerm uint64
}

// RequestVoteResponse is the reply to the RequestVote RPC.
type RequestVoteResponse struct {
	// Term is the responder's current term, for the candidate to update
	// itself.
	Term uint64

	// VoteGranted is true if the responder voted for the candidate.
	VoteGranted bool
}

// AppendEntriesRequest is the argument to the AppendEntries RPC, sent by the
// leader to replicate log entries and as a heartbeat.
type AppendEntriesRequest struct {
	// Term is the leader's term.
	Term uint64

	// LeaderID is the ID of the leader, so that followers can redirect
	// submissions.
	LeaderID string

	// PrevLogIndex is the index of the entry immediately preceding the new
	// entries.
	PrevLogIndex uint64

	// PrevLogTerm is the term of the entry at PrevLogIndex.
	PrevLogTerm uint64

	// Entries are the entries to store. It is empty for heartbeats.
	Entries []Entry

	// LeaderCommit is the leader's commit index.
	LeaderCommit uint64
}

// AppendEntriesResponse is the reply to the AppendEntries RPC.
type AppendEntriesResponse struct {
	// Term is the responder's current term, for the leader to update itself.
	Term uint64

	// Success is true if the follower contained an entry matching
	// PrevLogIndex and PrevLogTerm, and has stored the new entries.
	Success bool

	// MatchIndex is the index of the last entry known to be replicated on the
	// responder. It is meaningful only when Success is true.
	MatchIndex uint64
}

// InstallSnapshotRequest is the argument to the InstallSnapshot RPC, sent by
// the leader to bring a lagging follower up to date when the entries it needs
// have been compacted away.
type InstallSnapshotRequest struct {
	// Term is the leader's term.
	Term uint64

	// LeaderID is the ID of the leader.
	LeaderID string

	// Snapshot is the snapshot to install.
	Snapshot Snapshot
}

// InstallSnapshotResponse is the reply to the InstallSnapshot RPC.
type InstallSnapshotResponse struct {
	// Term is the responder's current term, for the leader to update itself.
	Term uint64

	// Success is true if the snapshot was installed.
	Success bool
}

// Transport is an interface for sending consensus RPCs to other cluster
// members, addressed by node ID.
type Transport interface {
	// RequestVote sends a RequestVote RPC to the node with the given ID.
	RequestVote(ctx context.Context, id string, req RequestVoteRequest) (RequestVoteResponse, error)

	// AppendEntries sends an AppendEntries RPC to the node with the given ID.
	AppendEntries(ctx context.Context, id string, req AppendEntriesRequest) (AppendEntriesResponse, error)

	// InstallSnapshot sends an InstallSnapshot RPC to the node with the given
	// ID.
	InstallSnapshot(ctx context.Context, id string, req InstallSnapshotRequest) (InstallSnapshotResponse, error)

	// Submit forwards a command submission to the node with the given ID, and
	// returns the outcome of applying the command.
	Submit(ctx context.Context, id string, cmd []byte) ([]byte, error)
}
