package scheduler

import (
	"fmt"
)

// CheckpointCorruptionError indicates that a flow's checkpointed state could
// not be reconstructed on resumption.
//
// It is fatal for the flow instance, which is parked for operator
// intervention.
type CheckpointCorruptionError struct {
	// FlowID is the ID of the flow that could not be resumed.
	FlowID string

	// Cause is the error that occurred while reconstructing the state.
	Cause error
}

func (e CheckpointCorruptionError) Error() string {
	return fmt.Sprintf(
		"checkpoint of flow %s is corrupt: %s",
		e.FlowID,
		e.Cause,
	)
}

// Unwrap returns the error that occurred while reconstructing the state.
func (e CheckpointCorruptionError) Unwrap() error {
	return e.Cause
}

// VersionMismatchError indicates that a flow's checkpoint was produced by an
// incompatible version of its definition.
//
// It is fatal for the flow instance, which is parked for operator
// intervention.
type VersionMismatchError struct {
	// FlowID is the ID of the flow that could not be resumed.
	FlowID string

	// Flow is the name of the flow's definition.
	Flow string

	// CheckpointVersion is the version that produced the checkpoint.
	CheckpointVersion string

	// RegisteredVersion is the version currently registered.
	RegisteredVersion string
}

func (e VersionMismatchError) Error() string {
	return fmt.Sprintf(
		"checkpoint of flow %s was produced by version %s of %s, but version %s is registered",
		e.FlowID,
		e.CheckpointVersion,
		e.Flow,
		e.RegisteredVersion,
	)
}

// SessionTimeoutError indicates that a flow's deadline elapsed while it was
// awaiting an envelope from an unresponsive counterparty.
//
// The flow is failed and its session resources are released.
type SessionTimeoutError struct {
	// FlowID is the ID of the flow that timed out.
	FlowID string

	// SessionID is the session the flow was receiving from.
	SessionID string
}

func (e SessionTimeoutError) Error() string {
	return fmt.Sprintf(
		"flow %s timed out awaiting an envelope on session %s",
		e.FlowID,
		e.SessionID,
	)
}

// SessionClosedError indicates that the counterparty closed a session that a
// flow was receiving from.
type SessionClosedError struct {
	// FlowID is the ID of the receiving flow.
	FlowID string

	// SessionID is the session that was closed.
	SessionID string
}

func (e SessionClosedError) Error() string {
	return fmt.Sprintf(
		"session %s was closed by the counterparty while flow %s was receiving",
		e.SessionID,
		e.FlowID,
	)
}
