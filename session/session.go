package session

import (
	"fmt"

	"github.com/dogmatiq/configkit"
	"github.com/google/uuid"
)

// A Session is an ordered, bidirectional message channel between two flow
// endpoints.
//
// Its lifetime is bounded by the owning flow; it is persisted as part of the
// flow's checkpoint and destroyed when the flow reaches a terminal state.
type Session struct {
	// ID uniquely identifies the session. It is shared by both participants.
	ID string

	// FlowID is the ID of the local flow instance that owns the session.
	FlowID string

	// FlowName is the name under which the owning flow's definition is
	// registered. For locally initiated sessions it is sent on the opening
	// envelope so that the remote party can resolve a responder.
	FlowName string

	// Remote is the identity of the counterparty.
	Remote configkit.Identity

	// Initiator is true if the session was opened by the local flow, as
	// opposed to being accepted from a remote open envelope.
	Initiator bool

	// NextSendSeq is the sequence number of the next envelope to be sent on
	// the session.
	NextSendSeq uint64

	// NextRecvSeq is the sequence number of the next envelope expected from
	// the counterparty. Envelopes with lower sequence numbers are duplicates
	// from retransmission and are discarded.
	NextRecvSeq uint64
}

// GenerateID returns the ID of the n'th session opened by the flow with the
// given ID.
//
// The result is deterministic so that a flow step that is re-executed after a
// crash opens the same session it opened before the crash.
func GenerateID(flowID string, n int) string {
	ns := uuid.MustParse(flowID)

	return uuid.NewSHA1(
		ns,
		[]byte(fmt.Sprintf("session-%d", n)),
	).String()
}
