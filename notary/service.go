package notary

import (
	"context"
	"fmt"
	"time"

	"github.com/dogmatiq/attest/flow"
	"github.com/dogmatiq/attest/uniqueness"
	"github.com/dogmatiq/dogma"
)

const (
	// ServiceFlowName is the name under which the notary's responder flow is
	// registered.
	ServiceFlowName = "notary.service"

	// ClientFlowName is the name under which the requesting flow is
	// registered.
	ClientFlowName = "notary.client"

	// Version is the protocol version of the notary flows.
	Version = "1"
)

// DefaultRetryDelay is the default delay before re-submitting a command when
// the consensus cluster is unavailable.
const DefaultRetryDelay = 250 * time.Millisecond

// A Submitter replicates a command through the consensus cluster and returns
// the outcome of applying it to the replicated state machine.
type Submitter interface {
	Submit(ctx context.Context, cmd []byte) ([]byte, error)
}

// Service is the flow definition of the notary endpoint.
//
// It is registered as a responder for sessions opened by the client flow. It
// receives a NotarizationRequest, submits the request's inputs to the
// replicated commit log, and replies with a signed certificate or a conflict
// report.
//
// Because the service is itself a checkpointed flow, a crash mid-request is
// recoverable: on restart the pending submission is re-issued, and the
// uniqueness table's idempotency per transaction ID guarantees that the
// original outcome is returned rather than a duplicate commit or a spurious
// conflict.
type Service struct {
	// Node submits commands to the replicated commit log. Submissions are
	// forwarded to the current leader if the local node is a follower.
	Node Submitter

	// Signer produces the certificate signature for committed transactions.
	Signer Signer

	// RetryDelay is the delay before re-submitting when the consensus cluster
	// is unavailable. If it is zero, DefaultRetryDelay is used.
	RetryDelay time.Duration
}

// ServiceState is the checkpointed state of a Service instance.
type ServiceState struct {
	// SessionID is the session the request arrived on.
	SessionID string

	// Request is the request being processed.
	Request *NotarizationRequest
}

// MessageDescription returns a human-readable description of the state.
func (s *ServiceState) MessageDescription() string {
	if s.Request == nil {
		return fmt.Sprintf(
			"notary service awaiting a request on session %s",
			s.SessionID,
		)
	}

	return fmt.Sprintf(
		"notary service processing transaction %s",
		s.Request.TransactionID,
	)
}

// Validate returns a non-nil error if the state is invalid.
func (s *ServiceState) Validate() error {
	if s.Request != nil {
		return s.Request.Validate()
	}

	return nil
}

// New returns the service's state in its initial form.
func (f *Service) New() flow.State {
	return &ServiceState{}
}

// Begin suspends the flow until the requester sends its request.
func (f *Service) Begin(
	ctx context.Context,
	sc flow.Scope,
	s flow.State,
	args dogma.Message,
) (flow.Transition, error) {
	a, ok := args.(*flow.ResponderArgs)
	if !ok {
		return nil, fmt.Errorf("unexpected argument type %T", args)
	}

	st := s.(*ServiceState)
	st.SessionID = a.SessionID

	return flow.Receive{
		SessionID: st.SessionID,
		Resume:    "request",
	}, nil
}

// Resume executes the step that begins at the given resumption point.
func (f *Service) Resume(
	ctx context.Context,
	sc flow.Scope,
	s flow.State,
	at flow.Label,
	v dogma.Message,
) (flow.Transition, error) {
	st := s.(*ServiceState)

	switch at {
	case "request":
		req, ok := v.(*NotarizationRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected payload type %T", v)
		}
		st.Request = req

		return f.submit(ctx, sc, st)

	case "retry":
		return f.submit(ctx, sc, st)

	case "sent":
		return flow.Complete{}, nil
	}

	return nil, fmt.Errorf("unrecognized resumption point %#v", at)
}

// submit asks the replicated commit log to consume the request's inputs, then
// sends the response.
func (f *Service) submit(
	ctx context.Context,
	sc flow.Scope,
	st *ServiceState,
) (flow.Transition, error) {
	req := st.Request

	if w := req.TimeWindow; w != nil {
		now := time.Now()

		if !w.NotBefore.IsZero() && now.Before(w.NotBefore) {
			return flow.Sleep{
				Until:  w.NotBefore,
				Resume: "retry",
			}, nil
		}

		if !w.NotAfter.IsZero() && !now.Before(w.NotAfter) {
			return f.respond(st, &NotarizationResponse{
				TransactionID: req.TransactionID,
				Status:        StatusError,
				Error:         "the request's time-window has expired",
			})
		}
	}

	cmd, err := uniqueness.MarshalCommand(
		uniqueness.Command{
			TransactionID: req.TransactionID,
			Refs:          req.Inputs,
		},
	)
	if err != nil {
		return nil, err
	}

	out, err := f.Node.Submit(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}

		// Consensus faults are resolved by retrying the submission; they are
		// never surfaced to the requester. The commit is idempotent per
		// transaction ID, so re-submission of an already-committed request
		// returns the original outcome.
		sc.Log(
			"transaction %s could not be submitted for consensus, retrying: %s",
			req.TransactionID,
			err,
		)

		return flow.Sleep{
			Until:  time.Now().Add(f.retryDelay()),
			Resume: "retry",
		}, nil
	}

	o, err := uniqueness.UnmarshalOutcome(out)
	if err != nil {
		return nil, err
	}

	resp := &NotarizationResponse{
		TransactionID: req.TransactionID,
	}

	switch {
	case o.Error != "":
		resp.Status = StatusError
		resp.Error = o.Error

	case o.Committed:
		sig, err := f.Signer.Sign(ctx, req.TransactionID)
		if err != nil {
			return nil, err
		}

		resp.Status = StatusSigned
		resp.Signature = sig

		sc.Log("transaction %s is committed", req.TransactionID)

	default:
		resp.Status = StatusConflict
		resp.Conflicts = o.Conflicts

		sc.Log("transaction %s conflicts with a committed transaction", req.TransactionID)
	}

	return f.respond(st, resp)
}

func (f *Service) respond(
	st *ServiceState,
	resp *NotarizationResponse,
) (flow.Transition, error) {
	return flow.Send{
		SessionID: st.SessionID,
		Payload:   resp,
		Resume:    "sent",
	}, nil
}

func (f *Service) retryDelay() time.Duration {
	if f.RetryDelay > 0 {
		return f.RetryDelay
	}

	return DefaultRetryDelay
}
