package uniqueness_test

import (
	. "github.com/dogmatiq/attest/uniqueness"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Table", func() {
	var (
		table *Table
		ref   StateRef
	)

	apply := func(index uint64, cmd Command) Outcome {
		data, err := MarshalCommand(cmd)
		Expect(err).ShouldNot(HaveOccurred())

		o, err := UnmarshalOutcome(table.Apply(index, data))
		Expect(err).ShouldNot(HaveOccurred())

		return o
	}

	BeforeEach(func() {
		table = &Table{}
		ref = StateRef{
			TransactionID: "<tx-1>",
			Index:         0,
		}
	})

	Describe("func Apply()", func() {
		It("commits a command that consumes unconsumed references", func() {
			o := apply(1, Command{
				TransactionID: "<tx-2>",
				Refs:          []StateRef{ref},
			})

			Expect(o).To(Equal(
				Outcome{
					Committed: true,
				},
			))

			rec, ok := table.Record(ref)
			Expect(ok).To(BeTrue())
			Expect(rec).To(Equal(
				CommitRecord{
					Ref:           ref,
					TransactionID: "<tx-2>",
					CommitIndex:   1,
				},
			))
		})

		It("rejects a command that consumes an already-consumed reference", func() {
			apply(1, Command{
				TransactionID: "<tx-2>",
				Refs:          []StateRef{ref},
			})

			o := apply(2, Command{
				TransactionID: "<tx-3>",
				Refs:          []StateRef{ref},
			})

			Expect(o).To(Equal(
				Outcome{
					Conflicts: []Conflict{
						{
							Ref:   ref,
							Owner: "<tx-2>",
						},
					},
				},
			))
		})

		It("rejects the entire command if any reference conflicts", func() {
			apply(1, Command{
				TransactionID: "<tx-2>",
				Refs:          []StateRef{ref},
			})

			free := StateRef{
				TransactionID: "<tx-1>",
				Index:         1,
			}

			o := apply(2, Command{
				TransactionID: "<tx-3>",
				Refs:          []StateRef{free, ref},
			})
			Expect(o.Committed).To(BeFalse())

			// The conflict-free reference must remain available to other
			// transactions.
			_, ok := table.Record(free)
			Expect(ok).To(BeFalse())
		})

		It("returns the original outcome when a transaction is re-applied", func() {
			first := apply(1, Command{
				TransactionID: "<tx-2>",
				Refs:          []StateRef{ref},
			})

			again := apply(2, Command{
				TransactionID: "<tx-2>",
				Refs:          []StateRef{ref},
			})

			Expect(again).To(Equal(first))

			rec, _ := table.Record(ref)
			Expect(rec.CommitIndex).To(
				BeEquivalentTo(1),
				"re-application overwrote the original commit record",
			)
		})

		It("returns an erroneous outcome if the command is malformed", func() {
			o, err := UnmarshalOutcome(
				table.Apply(1, []byte("{")),
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o.Committed).To(BeFalse())
			Expect(o.Error).NotTo(BeEmpty())
		})
	})

	Describe("func Snapshot() and Restore()", func() {
		It("restores the table to the snapshotted state", func() {
			apply(1, Command{
				TransactionID: "<tx-2>",
				Refs:          []StateRef{ref},
			})

			data, err := table.Snapshot()
			Expect(err).ShouldNot(HaveOccurred())

			restored := &Table{}
			err = restored.Restore(data)
			Expect(err).ShouldNot(HaveOccurred())

			rec, ok := restored.Record(ref)
			Expect(ok).To(BeTrue())
			Expect(rec.TransactionID).To(Equal("<tx-2>"))

			// Idempotency survives the snapshot.
			data2, err := MarshalCommand(Command{
				TransactionID: "<tx-2>",
				Refs:          []StateRef{ref},
			})
			Expect(err).ShouldNot(HaveOccurred())

			o, err := UnmarshalOutcome(restored.Apply(9, data2))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o.Committed).To(BeTrue())
		})

		It("returns an error if the snapshot is corrupt", func() {
			err := table.Restore([]byte("{"))
			Expect(err).Should(HaveOccurred())
		})
	})
})
