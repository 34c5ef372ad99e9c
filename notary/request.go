package notary

import (
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/attest/uniqueness"
	"github.com/dogmatiq/configkit"
)

// Status enumerates the outcomes of a notarization request.
type Status string

const (
	// StatusSigned indicates that the request's inputs were committed and the
	// response carries a certificate signature.
	StatusSigned Status = "signed"

	// StatusConflict indicates that one or more of the request's inputs were
	// already consumed by other transactions. A conflict is a normal response
	// variant, not an error; it is never retried automatically.
	StatusConflict Status = "conflict"

	// StatusError indicates that the request was malformed or outside its
	// time-window.
	StatusError Status = "error"
)

// TimeWindow bounds the wall-clock validity of a notarization request.
type TimeWindow struct {
	// NotBefore is the earliest time at which the request may be committed.
	// It is ignored if zero.
	NotBefore time.Time

	// NotAfter is the time at which the request expires. It is ignored if
	// zero.
	NotAfter time.Time
}

// NotarizationRequest asks a notary to certify that a transaction does not
// conflict with any previously committed transaction.
//
// It is created by the requesting flow and consumed exactly once by the
// notary service.
type NotarizationRequest struct {
	// RequestID uniquely identifies this request.
	RequestID string

	// TransactionID identifies the transaction to be certified.
	TransactionID string

	// Inputs are the state references the transaction consumes.
	Inputs []uniqueness.StateRef

	// Requester is the identity of the requesting party. The client flow
	// populates it when the request is sent; it may be nil before then.
	Requester *configkit.Identity

	// TimeWindow bounds the request's validity. It is optional.
	TimeWindow *TimeWindow
}

// MessageDescription returns a human-readable description of the request.
func (r *NotarizationRequest) MessageDescription() string {
	return fmt.Sprintf(
		"request to notarize transaction %s",
		r.TransactionID,
	)
}

// Validate returns a non-nil error if the request is invalid.
func (r *NotarizationRequest) Validate() error {
	if r.RequestID == "" {
		return errors.New("notarization requests must have a request ID")
	}

	if r.TransactionID == "" {
		return errors.New("notarization requests must have a transaction ID")
	}

	if len(r.Inputs) == 0 {
		return errors.New("notarization requests must consume at least one state reference")
	}

	return nil
}

// NotarizationResponse is the notary's reply to a NotarizationRequest.
type NotarizationResponse struct {
	// TransactionID identifies the transaction the response refers to.
	TransactionID string

	// Status is the outcome of the request.
	Status Status

	// Signature is the certificate signature over the transaction ID. It is
	// populated only when Status is StatusSigned.
	Signature []byte

	// Conflicts names each input that was already consumed, and the
	// transaction that first consumed it. It is populated only when Status is
	// StatusConflict.
	Conflicts []uniqueness.Conflict

	// Error describes why the request could not be processed. It is populated
	// only when Status is StatusError.
	Error string
}

// MessageDescription returns a human-readable description of the response.
func (r *NotarizationResponse) MessageDescription() string {
	return fmt.Sprintf(
		"%s response for transaction %s",
		r.Status,
		r.TransactionID,
	)
}

// Validate returns a non-nil error if the response is invalid.
func (r *NotarizationResponse) Validate() error {
	if r.TransactionID == "" {
		return errors.New("notarization responses must have a transaction ID")
	}

	switch r.Status {
	case StatusSigned, StatusConflict, StatusError:
		return nil
	}

	return fmt.Errorf("unrecognized response status %#v", r.Status)
}
