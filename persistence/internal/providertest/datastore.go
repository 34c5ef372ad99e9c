package providertest

import (
	"context"

	"github.com/dogmatiq/attest/persistence"
	"github.com/onsi/ginkgo"
	"github.com/onsi/gomega"
)

func declareDataStoreTests(
	ctx *context.Context,
	dataStore *persistence.DataStore,
) {
	ginkgo.Describe("type DataStore (interface)", func() {
		ginkgo.Describe("func Close()", func() {
			ginkgo.It("returns ErrDataStoreClosed if the data-store is already closed", func() {
				err := (*dataStore).Close()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = (*dataStore).Close()
				gomega.Expect(err).To(gomega.Equal(persistence.ErrDataStoreClosed))
			})

			ginkgo.It("causes future calls to Persist() to return ErrDataStoreClosed", func() {
				err := (*dataStore).Close()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, err = (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.SaveCheckpoint{
							Checkpoint: persistence.Checkpoint{
								FlowID: "<flow-id>",
								Status: persistence.StatusSuspended,
							},
						},
					},
				)
				gomega.Expect(err).To(gomega.Equal(persistence.ErrDataStoreClosed))
			})
		})

		ginkgo.Describe("func Persist()", func() {
			ginkgo.It("does not apply any operation if the batch contains a conflicting operation", func() {
				_, err := (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.SaveCheckpoint{
							Checkpoint: persistence.Checkpoint{
								FlowID: "<flow-id>",
								Status: persistence.StatusSuspended,
							},
						},
						persistence.RemoveCheckpoint{
							Checkpoint: persistence.Checkpoint{
								FlowID: "<other-flow-id>",
							},
						},
					},
				)
				gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))

				cp, err := (*dataStore).LoadCheckpoint(*ctx, "<flow-id>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cp.Revision).To(
					gomega.BeEquivalentTo(0),
					"the non-conflicting operation in the batch was applied",
				)
			})
		})
	})
}
