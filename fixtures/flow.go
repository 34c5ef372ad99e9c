package fixtures

import (
	"context"
	"fmt"

	"github.com/dogmatiq/attest/flow"
	"github.com/dogmatiq/dogma"
)

// FlowState is a flow state used by tests.
type FlowState struct {
	// Steps records the resumption points the flow has executed.
	Steps []string
}

// MessageDescription returns a human-readable description of the state.
func (s *FlowState) MessageDescription() string {
	return fmt.Sprintf("flow state stub after steps %v", s.Steps)
}

// Validate returns a non-nil error if the state is invalid.
func (s *FlowState) Validate() error {
	return nil
}

// Payload is an envelope payload used by tests.
type Payload struct {
	Value string
}

// MessageDescription returns a human-readable description of the payload.
func (p *Payload) MessageDescription() string {
	return fmt.Sprintf("payload stub with value %#v", p.Value)
}

// Validate returns a non-nil error if the payload is invalid.
func (p *Payload) Validate() error {
	return nil
}

// FlowDefinitionStub is a test implementation of the flow.Definition
// interface.
type FlowDefinitionStub struct {
	NewFunc    func() flow.State
	BeginFunc  func(context.Context, flow.Scope, flow.State, dogma.Message) (flow.Transition, error)
	ResumeFunc func(context.Context, flow.Scope, flow.State, flow.Label, dogma.Message) (flow.Transition, error)
}

// New returns a new flow state in its initial form.
func (d *FlowDefinitionStub) New() flow.State {
	if d.NewFunc != nil {
		return d.NewFunc()
	}

	return &FlowState{}
}

// Begin executes the flow's first step.
func (d *FlowDefinitionStub) Begin(
	ctx context.Context,
	sc flow.Scope,
	s flow.State,
	args dogma.Message,
) (flow.Transition, error) {
	if d.BeginFunc != nil {
		return d.BeginFunc(ctx, sc, s, args)
	}

	return flow.Complete{}, nil
}

// Resume executes the step that begins at the given resumption point.
func (d *FlowDefinitionStub) Resume(
	ctx context.Context,
	sc flow.Scope,
	s flow.State,
	at flow.Label,
	v dogma.Message,
) (flow.Transition, error) {
	if d.ResumeFunc != nil {
		return d.ResumeFunc(ctx, sc, s, at, v)
	}

	return flow.Complete{}, nil
}
