package raft

import (
	"context"
	"math/rand"
	"time"

	"github.com/dogmatiq/dodeca/logging"
)

// runFollower executes the follower role until an election timeout elapses
// without leader contact.
func (n *Node) runFollower(ctx context.Context) error {
	timer := time.NewTimer(n.electionTimeout())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-n.contact:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(n.electionTimeout())

		case <-timer.C:
			n.m.Lock()
			n.role = Candidate
			n.leaderID = ""
			n.m.Unlock()

			return nil
		}
	}
}

// runCandidate campaigns for leadership in a new term.
//
// The node returns to the scheduler loop when it wins the election, discovers
// a leader, or the election times out, in which case a new campaign starts
// with a fresh randomized timeout to avoid repeated split votes.
func (n *Node) runCandidate(ctx context.Context) error {
	n.m.Lock()

	n.term++
	n.votedFor = n.ID
	n.leaderID = ""

	term := n.term
	members := append([]string(nil), n.members...)

	lastLogIndex, lastLogTerm, err := n.lastLog()
	if err != nil {
		n.m.Unlock()
		return err
	}

	n.m.Unlock()

	if err := n.Stable.SetState(term, n.ID); err != nil {
		return err
	}

	logging.Debug(
		n.Logger,
		"consensus: %s became candidate in term %d",
		n.ID,
		term,
	)

	req := RequestVoteRequest{
		Term:         term,
		CandidateID:  n.ID,
		LastLogIndex: lastLogIndex,
		LastLogTerm:  lastLogTerm,
	}

	votes := make(chan bool, len(members))

	for _, id := range members {
		if id == n.ID {
			continue
		}

		go func(id string) {
			resp, err := n.Transport.RequestVote(ctx, id, req)
			if err != nil {
				votes <- false
				return
			}

			if resp.Term > term {
				n.m.Lock()
				n.stepDown(resp.Term)
				n.m.Unlock()
			}

			votes <- resp.VoteGranted
		}(id)
	}

	granted := 1 // the candidate votes for itself
	needed := len(members)/2 + 1

	if granted >= needed {
		// A single-member cluster elects itself immediately.
		n.becomeLeader(term)
		return nil
	}

	timer := time.NewTimer(n.electionTimeout())
	defer timer.Stop()

	for {
		if n.currentRole() != Candidate {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-n.contact:
			// A leader for the current or a newer term has made contact.
			return nil

		case g := <-votes:
			if !g {
				continue
			}

			granted++
			if granted >= needed {
				n.becomeLeader(term)
				return nil
			}

		case <-timer.C:
			// Split vote, campaign again in a new term.
			return nil
		}
	}
}

// becomeLeader transitions the node to the leader role for the given term.
func (n *Node) becomeLeader(term uint64) {
	n.m.Lock()
	defer n.m.Unlock()

	if n.role != Candidate || n.term != term {
		return
	}

	n.role = Leader
	n.leaderID = n.ID

	lastLogIndex, _, err := n.lastLog()
	if err != nil {
		lastLogIndex = n.snapIndex
	}

	n.nextIndex = map[string]uint64{}
	n.matchIndex = map[string]uint64{}

	for _, id := range n.members {
		n.nextIndex[id] = lastLogIndex + 1
		n.matchIndex[id] = 0
	}

	n.matchIndex[n.ID] = lastLogIndex

	logging.Log(
		n.Logger,
		"consensus: %s became leader in term %d",
		n.ID,
		term,
	)
}

// HandleRequestVote services a RequestVote RPC received from a candidate.
func (n *Node) HandleRequestVote(req RequestVoteRequest) RequestVoteResponse {
	if err := n.init(); err != nil {
		return RequestVoteResponse{}
	}

	n.m.Lock()
	defer n.m.Unlock()

	if req.Term < n.term {
		return RequestVoteResponse{
			Term:        n.term,
			VoteGranted: false,
		}
	}

	if req.Term > n.term {
		n.stepDown(req.Term)
	}

	lastLogIndex, lastLogTerm, err := n.lastLog()
	if err != nil {
		return RequestVoteResponse{
			Term:        n.term,
			VoteGranted: false,
		}
	}

	// Only vote for candidates whose log is at least as up-to-date as this
	// node's, otherwise committed entries could be lost.
	upToDate := req.LastLogTerm > lastLogTerm ||
		(req.LastLogTerm == lastLogTerm && req.LastLogIndex >= lastLogIndex)

	if !upToDate {
		return RequestVoteResponse{
			Term:        n.term,
			VoteGranted: false,
		}
	}

	if n.votedFor != "" && n.votedFor != req.CandidateID {
		return RequestVoteResponse{
			Term:        n.term,
			VoteGranted: false,
		}
	}

	n.votedFor = req.CandidateID

	if err := n.Stable.SetState(n.term, n.votedFor); err != nil {
		return RequestVoteResponse{
			Term:        n.term,
			VoteGranted: false,
		}
	}

	signal(n.contact)

	return RequestVoteResponse{
		Term:        n.term,
		VoteGranted: true,
	}
}

// randomizeTimeout returns a duration in [t, 2t), so that cluster members
// that start an election at the same time are unlikely to split the vote
// repeatedly.
func randomizeTimeout(t time.Duration) time.Duration {
	return t + time.Duration(rand.Int63n(int64(t)))
}
