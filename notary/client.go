package notary

import (
	"context"
	"fmt"

	"github.com/dogmatiq/attest/flow"
	"github.com/dogmatiq/configkit"
	"github.com/dogmatiq/dogma"
)

// Client is the flow definition used by a party to have a transaction
// notarized.
//
// It is started with a NotarizationRequest argument, opens a session with the
// notary, and completes with the notary's NotarizationResponse as its result.
type Client struct {
	// Notary is the identity of the party that hosts the notary service.
	Notary configkit.Identity
}

// ClientState is the checkpointed state of a Client instance.
type ClientState struct {
	// SessionID is the session opened with the notary.
	SessionID string
}

// MessageDescription returns a human-readable description of the state.
func (s *ClientState) MessageDescription() string {
	return fmt.Sprintf(
		"notary client awaiting a response on session %s",
		s.SessionID,
	)
}

// Validate returns a non-nil error if the state is invalid.
func (s *ClientState) Validate() error {
	return nil
}

// New returns the client's state in its initial form.
func (f *Client) New() flow.State {
	return &ClientState{}
}

// Begin sends the request to the notary and suspends until it responds.
func (f *Client) Begin(
	ctx context.Context,
	sc flow.Scope,
	s flow.State,
	args dogma.Message,
) (flow.Transition, error) {
	req, ok := args.(*NotarizationRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected argument type %T", args)
	}

	st := s.(*ClientState)

	if req.Requester == nil {
		id := sc.Party()
		req.Requester = &id
	}

	id, err := sc.OpenSession(f.Notary)
	if err != nil {
		return nil, err
	}
	st.SessionID = id

	return flow.SendAndReceive{
		SessionID: id,
		Payload:   req,
		Resume:    "response",
	}, nil
}

// Resume completes the flow with the notary's response as its result.
func (f *Client) Resume(
	ctx context.Context,
	sc flow.Scope,
	s flow.State,
	at flow.Label,
	v dogma.Message,
) (flow.Transition, error) {
	if at != "response" {
		return nil, fmt.Errorf("unrecognized resumption point %#v", at)
	}

	resp, ok := v.(*NotarizationResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", v)
	}

	return flow.Complete{
		Result: resp,
	}, nil
}
