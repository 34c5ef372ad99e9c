package raft

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dogmatiq/dodeca/logging"
)

// runLeader executes the leader role until the node discovers a higher term
// and steps down.
func (n *Node) runLeader(ctx context.Context) error {
	ticker := time.NewTicker(n.heartbeatInterval())
	defer ticker.Stop()

	n.broadcast(ctx)

	for {
		if n.currentRole() != Leader {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			n.broadcast(ctx)

		case <-n.submitted:
			n.broadcast(ctx)
		}
	}
}

// broadcast starts replication to every other cluster member.
func (n *Node) broadcast(ctx context.Context) {
	n.m.Lock()

	if n.role != Leader {
		n.m.Unlock()
		return
	}

	members := append([]string(nil), n.members...)
	n.m.Unlock()

	for _, id := range members {
		if id == n.ID {
			continue
		}

		go n.replicate(ctx, id)
	}
}

// replicate sends a single AppendEntries request to the member with the given
// ID, carrying any entries the member is missing, and processes the response.
//
// If the entries the member needs have been compacted away, the current
// snapshot is sent instead.
func (n *Node) replicate(ctx context.Context, id string) {
	n.m.Lock()

	if n.role != Leader {
		n.m.Unlock()
		return
	}

	term := n.term
	next := n.nextIndex[id]

	if next <= n.snapIndex {
		n.m.Unlock()
		n.replicateSnapshot(ctx, id, term)
		return
	}

	prevLogIndex := next - 1

	prevLogTerm, err := n.termOf(prevLogIndex)
	if err != nil {
		n.m.Unlock()
		return
	}

	last, _, err := n.lastLog()
	if err != nil {
		n.m.Unlock()
		return
	}

	var entries []Entry
	if last >= next {
		entries, err = n.Log.Entries(next, last)
		if err != nil {
			n.m.Unlock()
			return
		}
	}

	req := AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.ID,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}

	n.m.Unlock()

	resp, err := n.Transport.AppendEntries(ctx, id, req)
	if err != nil {
		return
	}

	n.m.Lock()
	defer n.m.Unlock()

	if resp.Term > n.term {
		n.stepDown(resp.Term)
		return
	}

	if n.role != Leader || n.term != term {
		return
	}

	if !resp.Success {
		// The member's log diverges before next, walk backwards until a
		// matching prefix is found.
		if n.nextIndex[id] > 1 {
			n.nextIndex[id] = next - 1
		}
		return
	}

	if resp.MatchIndex > n.matchIndex[id] {
		n.matchIndex[id] = resp.MatchIndex
	}
	n.nextIndex[id] = resp.MatchIndex + 1

	n.advanceCommitIndex()
	n.applyCommitted()
}

// replicateSnapshot sends the current snapshot to the member with the given
// ID.
func (n *Node) replicateSnapshot(ctx context.Context, id string, term uint64) {
	snap, ok, err := n.Stable.Snapshot()
	if err != nil || !ok {
		return
	}

	req := InstallSnapshotRequest{
		Term:     term,
		LeaderID: n.ID,
		Snapshot: snap,
	}

	resp, err := n.Transport.InstallSnapshot(ctx, id, req)
	if err != nil {
		return
	}

	n.m.Lock()
	defer n.m.Unlock()

	if resp.Term > n.term {
		n.stepDown(resp.Term)
		return
	}

	if n.role != Leader || n.term != term || !resp.Success {
		return
	}

	if snap.LastIndex > n.matchIndex[id] {
		n.matchIndex[id] = snap.LastIndex
	}
	n.nextIndex[id] = snap.LastIndex + 1
}

// advanceCommitIndex advances the commit index to the highest entry that is
// durably stored on a majority of members. It must be called with n.m held.
//
// Only entries from the current term are committed by counting replicas;
// entries from earlier terms are committed indirectly when a current-term
// entry that follows them commits.
func (n *Node) advanceCommitIndex() {
	if n.role != Leader {
		return
	}

	last, _, err := n.lastLog()
	if err != nil {
		return
	}

	needed := len(n.members)/2 + 1

	for x := n.commitIndex + 1; x <= last; x++ {
		replicas := 0
		for _, id := range n.members {
			if n.matchIndex[id] >= x {
				replicas++
			}
		}

		if replicas < needed {
			break
		}

		term, err := n.termOf(x)
		if err != nil {
			return
		}

		if term == n.term {
			n.commitIndex = x
		}
	}
}

// applyCommitted applies committed entries to the FSM in log order, waking
// any submissions awaiting their outcome. It must be called with n.m held.
func (n *Node) applyCommitted() {
	for n.lastApplied < n.commitIndex {
		index := n.lastApplied + 1

		e, ok, err := n.Log.Entry(index)
		if err != nil || !ok {
			logging.Log(
				n.Logger,
				"consensus: %s is unable to apply entry %d",
				n.ID,
				index,
			)
			return
		}

		var out []byte

		switch e.Type {
		case EntryCommand:
			out = n.FSM.Apply(e.Index, e.Data)

		case EntryConfig:
			var members []string
			if err := json.Unmarshal(e.Data, &members); err == nil {
				n.members = members
			}
		}

		n.lastApplied = index

		if ch, ok := n.waiters[index]; ok {
			ch <- out
			delete(n.waiters, index)
		}
	}
}

// HandleAppendEntries services an AppendEntries RPC received from the leader.
func (n *Node) HandleAppendEntries(req AppendEntriesRequest) AppendEntriesResponse {
	if err := n.init(); err != nil {
		return AppendEntriesResponse{}
	}

	n.m.Lock()
	defer n.m.Unlock()

	if req.Term < n.term {
		return AppendEntriesResponse{
			Term:    n.term,
			Success: false,
		}
	}

	if req.Term > n.term || n.role != Follower {
		n.stepDown(req.Term)
	}

	n.leaderID = req.LeaderID
	signal(n.contact)

	// Log matching: only accept the entries if this node's log contains the
	// entry immediately preceding them, with a matching term.
	if req.PrevLogIndex > n.snapIndex {
		term, err := n.termOf(req.PrevLogIndex)
		if err != nil || term == 0 || term != req.PrevLogTerm {
			return AppendEntriesResponse{
				Term:    n.term,
				Success: false,
			}
		}
	}

	for i, e := range req.Entries {
		if e.Index <= n.snapIndex {
			continue
		}

		existing, ok, err := n.Log.Entry(e.Index)
		if err != nil {
			return AppendEntriesResponse{Term: n.term, Success: false}
		}

		if ok {
			if existing.Term == e.Term {
				continue
			}

			// A conflicting uncommitted suffix, truncate it in favor of the
			// leader's entries.
			if err := n.Log.TruncateAfter(e.Index - 1); err != nil {
				return AppendEntriesResponse{Term: n.term, Success: false}
			}
		}

		if err := n.Log.Append(req.Entries[i:]); err != nil {
			return AppendEntriesResponse{Term: n.term, Success: false}
		}

		break
	}

	matchIndex := req.PrevLogIndex + uint64(len(req.Entries))

	if req.LeaderCommit > n.commitIndex {
		n.commitIndex = minIndex(req.LeaderCommit, matchIndex)
	}

	n.applyCommitted()

	return AppendEntriesResponse{
		Term:       n.term,
		Success:    true,
		MatchIndex: matchIndex,
	}
}

// HandleInstallSnapshot services an InstallSnapshot RPC received from the
// leader.
func (n *Node) HandleInstallSnapshot(req InstallSnapshotRequest) InstallSnapshotResponse {
	if err := n.init(); err != nil {
		return InstallSnapshotResponse{}
	}

	n.m.Lock()
	defer n.m.Unlock()

	if req.Term < n.term {
		return InstallSnapshotResponse{
			Term:    n.term,
			Success: false,
		}
	}

	if req.Term > n.term || n.role != Follower {
		n.stepDown(req.Term)
	}

	n.leaderID = req.LeaderID
	signal(n.contact)

	snap := req.Snapshot

	if snap.LastIndex <= n.lastApplied {
		return InstallSnapshotResponse{
			Term:    n.term,
			Success: true,
		}
	}

	if err := n.FSM.Restore(snap.Data); err != nil {
		return InstallSnapshotResponse{
			Term:    n.term,
			Success: false,
		}
	}

	if err := n.Stable.SetSnapshot(snap); err != nil {
		return InstallSnapshotResponse{
			Term:    n.term,
			Success: false,
		}
	}

	// The snapshot supersedes the entire log.
	if err := n.Log.TruncateAfter(0); err != nil {
		return InstallSnapshotResponse{
			Term:    n.term,
			Success: false,
		}
	}

	n.snapIndex = snap.LastIndex
	n.snapTerm = snap.LastTerm
	n.lastApplied = snap.LastIndex

	if snap.LastIndex > n.commitIndex {
		n.commitIndex = snap.LastIndex
	}

	if len(snap.Members) != 0 {
		n.members = snap.Members
	}

	return InstallSnapshotResponse{
		Term:    n.term,
		Success: true,
	}
}

// HandleSubmit services a command submission forwarded from another member.
//
// Unlike Submit() it does not forward the submission onward when this node is
// not the leader, so disagreeing leadership views can not produce a forwarding
// loop. A NotLeaderError naming this node's view of the leader is returned
// instead, and the forwarding node follows the hint.
func (n *Node) HandleSubmit(ctx context.Context, cmd []byte) ([]byte, error) {
	if err := n.init(); err != nil {
		return nil, err
	}

	n.m.Lock()
	role := n.role
	leader := n.leaderID
	n.m.Unlock()

	if role != Leader {
		return nil, NotLeaderError{LeaderID: leader}
	}

	return n.Submit(ctx, cmd)
}

func minIndex(a, b uint64) uint64 {
	if a < b {
		return a
	}

	return b
}
