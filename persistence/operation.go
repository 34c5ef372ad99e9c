package persistence

import (
	"context"
	"strings"
)

// Operation is a persistence operation that can be performed as part of an
// atomic batch.
type Operation interface {
	// AcceptVisitor calls the appropriate visit method on the given visitor.
	AcceptVisitor(context.Context, OperationVisitor) error

	// entityKey returns a key that uniquely identifies the entity that the
	// operation applies to.
	entityKey() entityKey
}

// OperationVisitor visits operations, calling a different method for each
// operation type.
type OperationVisitor interface {
	VisitSaveCheckpoint(context.Context, SaveCheckpoint) error
	VisitRemoveCheckpoint(context.Context, RemoveCheckpoint) error
	VisitSaveOutboxMessage(context.Context, SaveOutboxMessage) error
	VisitRemoveOutboxMessage(context.Context, RemoveOutboxMessage) error
}

// entityKey uniquely identifies the entity that an operation applies to.
//
// Two operations in the same batch must not share an entity key.
type entityKey [3]string

func (k entityKey) String() string {
	s := k[:]

	for len(s) > 0 && s[len(s)-1] == "" {
		s = s[:len(s)-1]
	}

	return strings.Join(s, "/")
}
