package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dogmatiq/configkit"
	"github.com/dogmatiq/dogma"
)

// State is the application-defined state of a flow instance.
//
// It must be marshalable so that it can be captured in a checkpoint at each
// suspension point, and restored when the flow resumes.
type State = dogma.Message

// Label identifies a resumption point within a flow definition.
type Label string

// A Definition describes the behavior of a multi-step flow.
//
// A flow executes as a sequence of steps. Each step runs from a resumption
// point to the flow's next suspension point, where the engine captures a
// checkpoint before the awaited condition is satisfied. A step must be
// deterministic with respect to its state and input, as a step that is
// interrupted by a crash is re-executed from its resumption point.
type Definition interface {
	// New returns a new flow state in its initial form.
	New() State

	// Begin executes the flow's first step.
	Begin(
		ctx context.Context,
		sc Scope,
		s State,
		args dogma.Message,
	) (Transition, error)

	// Resume executes the step that begins at the resumption point identified
	// by the given label.
	//
	// v carries the value that satisfied the awaited condition, such as the
	// payload of a received envelope or the result of a completed sub-flow.
	// It is nil when the condition carries no value.
	Resume(
		ctx context.Context,
		sc Scope,
		s State,
		at Label,
		v dogma.Message,
	) (Transition, error)
}

// Scope is an interface used by a flow to perform engine operations within a
// step.
type Scope interface {
	// FlowID returns the ID of the flow instance being executed.
	FlowID() string

	// Party returns the identity of the party that hosts the flow.
	Party() configkit.Identity

	// OpenSession opens a new session with the party identified by remote.
	//
	// The session ID is derived deterministically from the flow ID, so a step
	// that is re-executed after a crash opens the same session it opened
	// before the crash.
	OpenSession(remote configkit.Identity) (string, error)

	// Log records an informational message within the context of the flow.
	Log(f string, v ...interface{})
}

// ResponderArgs is the argument passed to Begin() of a flow that is started
// in response to a remotely opened session.
type ResponderArgs struct {
	// SessionID is the ID of the session that was opened.
	SessionID string

	// Peer is the identity of the party that opened the session.
	Peer configkit.Identity
}

// MessageDescription returns a human-readable description of the arguments.
func (a *ResponderArgs) MessageDescription() string {
	return fmt.Sprintf(
		"responding to session %s opened by %s",
		a.SessionID,
		a.Peer.Name,
	)
}

// Validate returns a non-nil error if the arguments are invalid.
func (a *ResponderArgs) Validate() error {
	if a.SessionID == "" {
		return errors.New("responder arguments must have a session ID")
	}

	return a.Peer.Validate()
}
