package session

import (
	"github.com/dogmatiq/configkit"
	"github.com/dogmatiq/marshalkit"
)

// Envelope is a container for a message payload exchanged over a session, and
// its meta-data.
type Envelope struct {
	MetaData

	// PortableName is the unqualified name of the payload type.
	//
	// It is empty for envelopes that carry no payload, such as those that only
	// close a session.
	PortableName string

	// Packet contains the binary representation of the payload.
	Packet marshalkit.Packet
}

// MetaData is a container for envelope meta-data.
type MetaData struct {
	// SessionID identifies the session that the envelope belongs to. It is
	// shared by both participants.
	SessionID string

	// Seq is the position of the envelope within the session. Each participant
	// numbers the envelopes it sends contiguously, starting at zero.
	Seq uint64

	// FlowID is the ID of the flow instance that sent the envelope.
	FlowID string

	// FlowName is the name under which the sending flow's definition is
	// registered. It is populated only on envelopes that open a session, where
	// the recipient uses it to resolve a responder definition.
	FlowName string

	// Sender is the identity of the sending party.
	Sender configkit.Identity

	// Recipient is the identity of the receiving party.
	Recipient configkit.Identity

	// Open indicates that this is the first envelope of a new session.
	Open bool

	// Close indicates that the sender has reached a terminal state and will
	// not send any further envelopes on this session.
	Close bool
}

// ID returns a human-readable identifier for the envelope, used in log
// messages.
func (e *Envelope) ID() string {
	return e.SessionID
}
