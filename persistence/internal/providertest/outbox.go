package providertest

import (
	"context"

	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/configkit"
	"github.com/dogmatiq/marshalkit"
	"github.com/onsi/ginkgo"
	"github.com/onsi/gomega"
)

func declareOutboxTests(
	ctx *context.Context,
	dataStore *persistence.DataStore,
) {
	ginkgo.Describe("outbox repository and operations", func() {
		var envelope session.Envelope

		ginkgo.BeforeEach(func() {
			envelope = session.Envelope{
				MetaData: session.MetaData{
					SessionID: "<session-id>",
					Seq:       0,
					FlowID:    "<flow-id>",
					FlowName:  "<flow-name>",
					Sender:    configkit.MustNewIdentity("<sender>", "24c5a383-6a73-4e17-b8a2-0d9c4b5e6f71"),
					Recipient: configkit.MustNewIdentity("<recipient>", "4d92b1e0-58c7-4a6f-8b3d-2e1f0a9c8d7b"),
					Open:      true,
				},
				PortableName: "Payload",
				Packet: marshalkit.Packet{
					MediaType: "application/json; type=Payload",
					Data:      []byte(`{"Value":"<value>"}`),
				},
			}
		})

		ginkgo.Describe("func LoadOutboxMessages()", func() {
			ginkgo.It("returns every unacknowledged envelope", func() {
				next := envelope
				next.Seq = 1
				next.Open = false

				_, err := (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.SaveOutboxMessage{Envelope: envelope},
						persistence.SaveOutboxMessage{Envelope: next},
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				envelopes, err := (*dataStore).LoadOutboxMessages(*ctx)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(envelopes).To(gomega.ConsistOf(envelope, next))
			})
		})

		ginkgo.Describe("type SaveOutboxMessage", func() {
			ginkgo.It("has no effect if the envelope is already persisted", func() {
				for i := 0; i < 2; i++ {
					_, err := (*dataStore).Persist(
						*ctx,
						persistence.Batch{
							persistence.SaveOutboxMessage{Envelope: envelope},
						},
					)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				}

				envelopes, err := (*dataStore).LoadOutboxMessages(*ctx)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(envelopes).To(gomega.ConsistOf(envelope))
			})
		})

		ginkgo.Describe("type RemoveOutboxMessage", func() {
			ginkgo.It("removes the envelope", func() {
				_, err := (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.SaveOutboxMessage{Envelope: envelope},
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, err = (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.RemoveOutboxMessage{Envelope: envelope},
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				envelopes, err := (*dataStore).LoadOutboxMessages(*ctx)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(envelopes).To(gomega.BeEmpty())
			})

			ginkgo.It("returns a ConflictError if the envelope is not persisted", func() {
				_, err := (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.RemoveOutboxMessage{Envelope: envelope},
					},
				)
				gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))
			})
		})
	})
}
