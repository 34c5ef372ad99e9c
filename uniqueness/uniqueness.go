package uniqueness

import (
	"fmt"
)

// StateRef identifies a consumable transaction output.
type StateRef struct {
	// TransactionID is the ID of the transaction that produced the output.
	TransactionID string

	// Index is the position of the output within the producing transaction.
	Index uint64
}

func (r StateRef) String() string {
	return fmt.Sprintf("%s:%d", r.TransactionID, r.Index)
}

// CommitRecord records the consumption of a single state reference.
//
// At most one commit record ever exists for any state reference, for the
// lifetime of the cluster.
type CommitRecord struct {
	// Ref is the state reference that was consumed.
	Ref StateRef

	// TransactionID is the ID of the transaction that consumed the reference.
	TransactionID string

	// CommitIndex is the position in the replicated log at which the
	// consumption was committed.
	CommitIndex uint64
}

// Conflict describes the rejection of a single state reference that has
// already been consumed.
type Conflict struct {
	// Ref is the state reference that was rejected.
	Ref StateRef

	// Owner is the ID of the transaction that first consumed the reference.
	Owner string
}

func (c Conflict) String() string {
	return fmt.Sprintf(
		"%s is already consumed by %s",
		c.Ref,
		c.Owner,
	)
}
