package providertest

import (
	"context"

	"github.com/dogmatiq/attest/persistence"
	"github.com/onsi/ginkgo"
	"github.com/onsi/gomega"
)

func declareProviderTests(
	ctx *context.Context,
	provider *persistence.Provider,
) {
	ginkgo.Describe("type Provider (interface)", func() {
		ginkgo.Describe("func Open()", func() {
			ginkgo.It("returns ErrDataStoreLocked if the node's data-store is already open", func() {
				ds, err := (*provider).Open(*ctx, "<node-key>")
				if ds != nil {
					ds.Close()
				}
				gomega.Expect(err).To(gomega.Equal(persistence.ErrDataStoreLocked))
			})

			ginkgo.It("allows opening data-stores for different nodes", func() {
				ds, err := (*provider).Open(*ctx, "<other-key>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				ds.Close()
			})

			ginkgo.It("allows re-opening a closed data-store", func() {
				ds, err := (*provider).Open(*ctx, "<other-key>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = ds.Close()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				ds, err = (*provider).Open(*ctx, "<other-key>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				ds.Close()
			})
		})
	})
}
