package scheduler

import (
	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/cosyne"
)

// record is the in-memory state of a single flow instance.
type record struct {
	// m guards all of the fields below. It is held for the full duration of a
	// drive, so at most one goroutine executes a given flow at a time.
	m cosyne.Mutex

	// cp is the flow's checkpoint as currently persisted.
	cp persistence.Checkpoint

	// handle resolves when the flow reaches a terminal state.
	handle *Handle

	// pending contains delivered but unconsumed envelopes, keyed by session ID.
	pending map[string][]session.Envelope

	// closed records the sessions that the counterparty has closed, keyed by
	// session ID. The value is the sequence number of the closing envelope;
	// envelopes below it are still consumable.
	closed map[string]uint64
}

// buffer adds env to the pending envelopes unless it is already buffered.
func (r *record) buffer(env session.Envelope) {
	for _, e := range r.pending[env.SessionID] {
		if e.Seq == env.Seq {
			return
		}
	}

	if r.pending == nil {
		r.pending = map[string][]session.Envelope{}
	}

	r.pending[env.SessionID] = append(r.pending[env.SessionID], env)
}

// peekPending returns the buffered envelope with the given sequence number,
// without removing it from the buffer.
//
// Envelopes remain buffered until their consumption has been persisted, so
// that an envelope is not lost if the flow's checkpoint can not be saved.
func (r *record) peekPending(sessionID string, seq uint64) (session.Envelope, bool) {
	for _, e := range r.pending[sessionID] {
		if e.Seq == seq {
			return e, true
		}
	}

	return session.Envelope{}, false
}

// dropPending discards buffered envelopes on the given session with sequence
// numbers below seq.
func (r *record) dropPending(sessionID string, seq uint64) {
	envs := r.pending[sessionID][:0]

	for _, e := range r.pending[sessionID] {
		if e.Seq >= seq {
			envs = append(envs, e)
		}
	}

	if len(envs) == 0 {
		delete(r.pending, sessionID)
	} else {
		r.pending[sessionID] = envs
	}
}

// findSession returns the session with the given ID from the slice, or nil if
// there is none.
func findSession(sessions []session.Session, id string) *session.Session {
	for i := range sessions {
		if sessions[i].ID == id {
			return &sessions[i]
		}
	}

	return nil
}

// cloneCheckpoint returns a copy of cp that can be mutated without affecting
// the original.
func cloneCheckpoint(cp persistence.Checkpoint) persistence.Checkpoint {
	cp.Frames = append([]persistence.Frame(nil), cp.Frames...)
	cp.Sessions = append([]session.Session(nil), cp.Sessions...)
	return cp
}
