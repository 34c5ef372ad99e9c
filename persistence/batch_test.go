package persistence_test

import (
	"context"
	"errors"

	. "github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/session"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Batch", func() {
	Describe("func MustValidate()", func() {
		It("panics if the batch contains multiple operations for the same entity", func() {
			cp := Checkpoint{
				FlowID: "<flow-id>",
			}

			batch := Batch{
				SaveCheckpoint{Checkpoint: cp},
				RemoveCheckpoint{Checkpoint: cp},
			}

			Expect(func() {
				batch.MustValidate()
			}).To(PanicWith(
				"batch contains multiple operations for the same entity (checkpoint/<flow-id>)",
			))
		})

		It("does not panic if the batch contains no operations for the same entity", func() {
			env := session.Envelope{
				MetaData: session.MetaData{
					SessionID: "<session-id>",
					Seq:       0,
				},
			}

			next := env
			next.Seq = 1

			batch := Batch{
				SaveCheckpoint{
					Checkpoint: Checkpoint{
						FlowID: "<flow-id>",
					},
				},
				RemoveCheckpoint{
					Checkpoint: Checkpoint{
						FlowID: "<other-flow-id>",
					},
				},
				SaveOutboxMessage{Envelope: env},
				RemoveOutboxMessage{Envelope: next},
			}

			Expect(func() {
				batch.MustValidate()
			}).ToNot(Panic())
		})
	})

	Describe("func AcceptVisitor()", func() {
		It("visits each operation in the batch", func() {
			env := session.Envelope{
				MetaData: session.MetaData{
					SessionID: "<session-id>",
					Seq:       0,
				},
			}

			next := env
			next.Seq = 1

			batch := Batch{
				SaveCheckpoint{
					Checkpoint: Checkpoint{
						FlowID: "<flow-id>",
					},
				},
				RemoveCheckpoint{
					Checkpoint: Checkpoint{
						FlowID: "<other-flow-id>",
					},
				},
				SaveOutboxMessage{Envelope: env},
				RemoveOutboxMessage{Envelope: next},
			}

			var v visitor
			err := batch.AcceptVisitor(context.Background(), &v)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(v.operations).To(BeEquivalentTo(batch))
		})

		It("returns the error from the visitor", func() {
			batch := Batch{
				SaveCheckpoint{
					Checkpoint: Checkpoint{
						FlowID: "<flow-id>",
					},
				},
			}

			var v errorVisitor
			err := batch.AcceptVisitor(context.Background(), v)
			Expect(err).To(MatchError("SaveCheckpoint"))

			batch = Batch{
				RemoveOutboxMessage{
					Envelope: session.Envelope{
						MetaData: session.MetaData{
							SessionID: "<session-id>",
						},
					},
				},
			}

			err = batch.AcceptVisitor(context.Background(), v)
			Expect(err).To(MatchError("RemoveOutboxMessage"))
		})
	})
})

type visitor struct {
	operations []Operation
}

func (v *visitor) VisitSaveCheckpoint(_ context.Context, op SaveCheckpoint) error {
	v.operations = append(v.operations, op)
	return nil
}

func (v *visitor) VisitRemoveCheckpoint(_ context.Context, op RemoveCheckpoint) error {
	v.operations = append(v.operations, op)
	return nil
}

func (v *visitor) VisitSaveOutboxMessage(_ context.Context, op SaveOutboxMessage) error {
	v.operations = append(v.operations, op)
	return nil
}

func (v *visitor) VisitRemoveOutboxMessage(_ context.Context, op RemoveOutboxMessage) error {
	v.operations = append(v.operations, op)
	return nil
}

type errorVisitor struct{}

func (errorVisitor) VisitSaveCheckpoint(_ context.Context, _ SaveCheckpoint) error {
	return errors.New("SaveCheckpoint")
}

func (errorVisitor) VisitRemoveCheckpoint(_ context.Context, _ RemoveCheckpoint) error {
	return errors.New("RemoveCheckpoint")
}

func (errorVisitor) VisitSaveOutboxMessage(_ context.Context, _ SaveOutboxMessage) error {
	return errors.New("SaveOutboxMessage")
}

func (errorVisitor) VisitRemoveOutboxMessage(_ context.Context, _ RemoveOutboxMessage) error {
	return errors.New("RemoveOutboxMessage")
}
