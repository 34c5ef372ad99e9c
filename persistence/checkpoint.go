package persistence

import (
	"context"
	"time"

	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/marshalkit"
)

// Status is the lifecycle status of a checkpointed flow.
type Status string

const (
	// StatusSuspended indicates that the flow is suspended awaiting an
	// external condition, and resumes when that condition is met.
	StatusSuspended Status = "suspended"

	// StatusFailed indicates that the flow has been parked after an
	// unrecoverable error, and is not resumed without operator intervention.
	StatusFailed Status = "failed"
)

// Checkpoint contains the durable state of a single flow instance.
//
// A flow has exactly one checkpoint at any time. The checkpoint is replaced
// atomically each time the flow suspends, and removed when the flow reaches a
// terminal state.
type Checkpoint struct {
	// FlowID is the ID of the flow instance.
	FlowID string

	// Revision is the checkpoint's current version, used to enforce optimistic
	// concurrency control.
	//
	// A revision of zero indicates that the flow has no persisted checkpoint.
	Revision uint64

	// Status is the lifecycle status of the flow.
	Status Status

	// Version identifies the revision of the flow definition that produced the
	// checkpoint. A flow is not resumed by a definition with a different
	// version.
	Version string

	// Frames is the flow's call stack, innermost frame last. It always
	// contains at least one frame.
	Frames []Frame

	// Suspension describes the condition that the flow is awaiting.
	Suspension Suspension

	// Sessions contains the state of each session owned by the flow, in the
	// order they were opened.
	Sessions []session.Session

	// Deadline is the time after which the flow's pending exchanges are
	// considered abandoned. It is zero if no deadline is set.
	Deadline time.Time

	// FailureMessage describes the error that parked the flow. It is empty
	// unless Status is StatusFailed.
	FailureMessage string
}

// Frame is a single entry in a flow's call stack.
type Frame struct {
	// Flow is the name under which the frame's flow definition is registered.
	Flow string

	// State contains the binary representation of the frame's flow state.
	State marshalkit.Packet

	// Resume is the label at which the frame resumes.
	//
	// For the innermost frame it is the label named by the suspension. For
	// outer frames it is the label at which the frame continues when its
	// sub-flow completes.
	Resume string
}

// SuspensionKind enumerates the conditions that a flow can await.
type SuspensionKind string

const (
	// SuspendYield indicates that the flow is immediately runnable. It is
	// used when a flow checkpoints between steps without awaiting anything.
	SuspendYield SuspensionKind = "yield"

	// SuspendReceive indicates that the flow is awaiting an envelope on a
	// session.
	SuspendReceive SuspensionKind = "receive"

	// SuspendSleep indicates that the flow is awaiting the passage of time.
	SuspendSleep SuspensionKind = "sleep"
)

// Suspension describes the condition that a suspended flow is awaiting, and
// where execution continues once it is met.
type Suspension struct {
	// Kind is the kind of condition being awaited.
	Kind SuspensionKind

	// SessionID is the session being awaited. It is populated only when Kind
	// is SuspendReceive.
	SessionID string

	// Seq is the sequence number of the envelope being awaited. It is
	// populated only when Kind is SuspendReceive.
	Seq uint64

	// Until is the time being awaited. It is populated only when Kind is
	// SuspendSleep.
	Until time.Time

	// Resume is the label at which the innermost frame resumes when the
	// condition is met. An empty label indicates that the frame has not begun
	// executing.
	Resume string

	// Value contains the binary representation of the value to deliver at the
	// resumption point, such as the arguments of a frame that has not begun,
	// or the result of a completed sub-flow. It is empty when the condition
	// carries no value.
	Value marshalkit.Packet
}

// CheckpointRepository is an interface for reading flow checkpoints.
type CheckpointRepository interface {
	// LoadCheckpoint loads the checkpoint of a specific flow.
	//
	// If the flow has no persisted checkpoint, a checkpoint with a revision of
	// zero is returned.
	LoadCheckpoint(ctx context.Context, flowID string) (Checkpoint, error)

	// LoadCheckpoints loads the checkpoints of all flows that have not reached
	// a terminal state, in no particular order.
	LoadCheckpoints(ctx context.Context) ([]Checkpoint, error)
}

// SaveCheckpoint is an Operation that creates or updates a flow's checkpoint.
type SaveCheckpoint struct {
	// Checkpoint is the checkpoint to persist.
	//
	// Checkpoint.Revision must be the revision of the checkpoint as currently
	// persisted, otherwise an optimistic concurrency conflict occurs and the
	// entire batch of operations is rejected.
	Checkpoint Checkpoint
}

// AcceptVisitor calls v.VisitSaveCheckpoint().
func (op SaveCheckpoint) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveCheckpoint(ctx, op)
}

func (op SaveCheckpoint) entityKey() entityKey {
	return entityKey{"checkpoint", op.Checkpoint.FlowID}
}

// RemoveCheckpoint is an Operation that removes a flow's checkpoint once the
// flow reaches a terminal state.
type RemoveCheckpoint struct {
	// Checkpoint is the checkpoint to remove.
	//
	// Checkpoint.Revision must be the revision of the checkpoint as currently
	// persisted, otherwise an optimistic concurrency conflict occurs and the
	// entire batch of operations is rejected.
	Checkpoint Checkpoint
}

// AcceptVisitor calls v.VisitRemoveCheckpoint().
func (op RemoveCheckpoint) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitRemoveCheckpoint(ctx, op)
}

func (op RemoveCheckpoint) entityKey() entityKey {
	return entityKey{"checkpoint", op.Checkpoint.FlowID}
}
