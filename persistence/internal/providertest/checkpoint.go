package providertest

import (
	"context"

	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/marshalkit"
	"github.com/onsi/ginkgo"
	"github.com/onsi/gomega"
)

func declareCheckpointTests(
	ctx *context.Context,
	dataStore *persistence.DataStore,
) {
	ginkgo.Describe("checkpoint repository and operations", func() {
		var checkpoint persistence.Checkpoint

		ginkgo.BeforeEach(func() {
			checkpoint = persistence.Checkpoint{
				FlowID:  "<flow-id>",
				Status:  persistence.StatusSuspended,
				Version: "<version>",
				Frames: []persistence.Frame{
					{
						Flow: "<flow-name>",
						State: marshalkit.Packet{
							MediaType: "application/json; type=State",
							Data:      []byte(`{}`),
						},
					},
				},
				Suspension: persistence.Suspension{
					Kind: persistence.SuspendYield,
				},
			}
		})

		ginkgo.Describe("func LoadCheckpoint()", func() {
			ginkgo.It("returns a checkpoint with a revision of zero if the flow has never been persisted", func() {
				cp, err := (*dataStore).LoadCheckpoint(*ctx, "<flow-id>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cp).To(gomega.Equal(
					persistence.Checkpoint{
						FlowID: "<flow-id>",
					},
				))
			})

			ginkgo.It("returns the most recently persisted checkpoint", func() {
				res, err := (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.SaveCheckpoint{Checkpoint: checkpoint},
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.CheckpointRevisions).To(gomega.Equal(
					map[string]uint64{
						"<flow-id>": 1,
					},
				))

				cp, err := (*dataStore).LoadCheckpoint(*ctx, "<flow-id>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				checkpoint.Revision = 1
				gomega.Expect(cp).To(gomega.Equal(checkpoint))
			})
		})

		ginkgo.Describe("func LoadCheckpoints()", func() {
			ginkgo.It("returns the checkpoints of every flow", func() {
				other := checkpoint
				other.FlowID = "<other-flow-id>"

				_, err := (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.SaveCheckpoint{Checkpoint: checkpoint},
						persistence.SaveCheckpoint{Checkpoint: other},
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				checkpoints, err := (*dataStore).LoadCheckpoints(*ctx)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				checkpoint.Revision = 1
				other.Revision = 1
				gomega.Expect(checkpoints).To(gomega.ConsistOf(checkpoint, other))
			})
		})

		ginkgo.Describe("type SaveCheckpoint", func() {
			ginkgo.It("increments the revision on each save", func() {
				for rev := uint64(0); rev < 3; rev++ {
					checkpoint.Revision = rev

					res, err := (*dataStore).Persist(
						*ctx,
						persistence.Batch{
							persistence.SaveCheckpoint{Checkpoint: checkpoint},
						},
					)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(res.CheckpointRevisions["<flow-id>"]).To(
						gomega.Equal(rev + 1),
					)
				}
			})

			ginkgo.It("returns a ConflictError if the revision is not the persisted revision", func() {
				_, err := (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.SaveCheckpoint{Checkpoint: checkpoint},
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				// The persisted revision is now 1, but the checkpoint still
				// carries revision 0, as a stale writer would after a
				// failover.
				_, err = (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.SaveCheckpoint{Checkpoint: checkpoint},
					},
				)
				gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))
			})
		})

		ginkgo.Describe("type RemoveCheckpoint", func() {
			ginkgo.It("removes the checkpoint", func() {
				_, err := (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.SaveCheckpoint{Checkpoint: checkpoint},
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				checkpoint.Revision = 1
				_, err = (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.RemoveCheckpoint{Checkpoint: checkpoint},
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				cp, err := (*dataStore).LoadCheckpoint(*ctx, "<flow-id>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cp.Revision).To(gomega.BeEquivalentTo(0))
			})

			ginkgo.It("returns a ConflictError if the revision is not the persisted revision", func() {
				_, err := (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.SaveCheckpoint{Checkpoint: checkpoint},
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, err = (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.RemoveCheckpoint{Checkpoint: checkpoint},
					},
				)
				gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))
			})

			ginkgo.It("returns a ConflictError if the checkpoint does not exist", func() {
				_, err := (*dataStore).Persist(
					*ctx,
					persistence.Batch{
						persistence.RemoveCheckpoint{Checkpoint: checkpoint},
					},
				)
				gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))
			})
		})
	})
}
