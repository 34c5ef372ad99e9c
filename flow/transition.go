package flow

import (
	"context"
	"time"

	"github.com/dogmatiq/dogma"
)

// A Transition is returned by a flow step to tell the engine how the flow
// suspends, and where execution continues once the awaited condition is met.
type Transition interface {
	// AcceptVisitor calls the appropriate visit method on the given visitor.
	AcceptVisitor(context.Context, TransitionVisitor) error
}

// TransitionVisitor visits transitions, calling a different method for each
// transition type.
type TransitionVisitor interface {
	VisitSend(context.Context, Send) error
	VisitReceive(context.Context, Receive) error
	VisitSendAndReceive(context.Context, SendAndReceive) error
	VisitSleep(context.Context, Sleep) error
	VisitCall(context.Context, Call) error
	VisitComplete(context.Context, Complete) error
}

// Send is a Transition that sends a payload on a session, then resumes
// immediately.
//
// The payload is delivered at-least-once; it is retransmitted until the
// recipient acknowledges it. The flow itself does not wait for delivery.
type Send struct {
	// SessionID is the session to send on.
	SessionID string

	// Payload is the payload to send.
	Payload dogma.Message

	// Resume is the label at which execution continues.
	Resume Label
}

// AcceptVisitor calls v.VisitSend().
func (t Send) AcceptVisitor(ctx context.Context, v TransitionVisitor) error {
	return v.VisitSend(ctx, t)
}

// Receive is a Transition that suspends the flow until the next envelope
// arrives on a session.
type Receive struct {
	// SessionID is the session to receive from.
	SessionID string

	// Resume is the label at which execution continues. The received payload
	// is passed to Resume() as the condition value.
	Resume Label
}

// AcceptVisitor calls v.VisitReceive().
func (t Receive) AcceptVisitor(ctx context.Context, v TransitionVisitor) error {
	return v.VisitReceive(ctx, t)
}

// SendAndReceive is a Transition that sends a payload on a session, then
// suspends the flow until the next envelope arrives on the same session.
type SendAndReceive struct {
	// SessionID is the session to send on and receive from.
	SessionID string

	// Payload is the payload to send.
	Payload dogma.Message

	// Resume is the label at which execution continues. The received payload
	// is passed to Resume() as the condition value.
	Resume Label
}

// AcceptVisitor calls v.VisitSendAndReceive().
func (t SendAndReceive) AcceptVisitor(ctx context.Context, v TransitionVisitor) error {
	return v.VisitSendAndReceive(ctx, t)
}

// Sleep is a Transition that suspends the flow until a specific time.
//
// If the time is already in the past, the flow resumes immediately.
type Sleep struct {
	// Until is the time at which the flow resumes.
	Until time.Time

	// Resume is the label at which execution continues.
	Resume Label
}

// AcceptVisitor calls v.VisitSleep().
func (t Sleep) AcceptVisitor(ctx context.Context, v TransitionVisitor) error {
	return v.VisitSleep(ctx, t)
}

// Call is a Transition that suspends the flow until a sub-flow completes.
//
// The sub-flow executes within the same flow instance. Its checkpoints are
// captured as an additional frame on the instance's call stack.
type Call struct {
	// Flow is the name under which the sub-flow's definition is registered.
	Flow string

	// Args is the argument passed to the sub-flow's Begin() method.
	Args dogma.Message

	// Resume is the label at which execution continues. The sub-flow's result
	// is passed to Resume() as the condition value.
	Resume Label
}

// AcceptVisitor calls v.VisitCall().
func (t Call) AcceptVisitor(ctx context.Context, v TransitionVisitor) error {
	return v.VisitCall(ctx, t)
}

// Complete is a Transition that ends the flow step's frame.
//
// If the frame belongs to a sub-flow, the parent frame resumes with the
// result as the condition value. Otherwise the flow reaches a terminal state:
// its sessions are closed and its checkpoint is removed.
type Complete struct {
	// Result is the flow's result. It may be nil.
	Result dogma.Message
}

// AcceptVisitor calls v.VisitComplete().
func (t Complete) AcceptVisitor(ctx context.Context, v TransitionVisitor) error {
	return v.VisitComplete(ctx, t)
}
