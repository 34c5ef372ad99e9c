package session_test

import (
	. "github.com/dogmatiq/attest/session"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("func GenerateID()", func() {
	flowID := "27fb5f21-58dc-4322-a7a3-7a8bcdbcb1d4"

	It("returns the same ID for the same flow and ordinal", func() {
		Expect(GenerateID(flowID, 0)).To(Equal(GenerateID(flowID, 0)))
	})

	It("returns a different ID for each ordinal", func() {
		Expect(GenerateID(flowID, 0)).NotTo(Equal(GenerateID(flowID, 1)))
	})

	It("returns a different ID for each flow", func() {
		other := "b8f0b3a3-8f63-4a5f-9c94-8b10596a1b35"
		Expect(GenerateID(flowID, 0)).NotTo(Equal(GenerateID(other, 0)))
	})

	It("returns a well-formed UUID", func() {
		id := GenerateID(flowID, 0)

		_, err := uuid.Parse(id)
		Expect(err).ShouldNot(HaveOccurred())
	})
})
