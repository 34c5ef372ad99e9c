package flow_test

import (
	. "github.com/dogmatiq/attest/fixtures"
	"github.com/dogmatiq/attest/flow"
	"github.com/dogmatiq/dodeca/logging"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Registry", func() {
	var (
		logger   *logging.BufferedLogger
		registry *flow.Registry
	)

	BeforeEach(func() {
		logger = &logging.BufferedLogger{}
		registry = &flow.Registry{
			Logger: logger,
		}
	})

	Describe("func Register()", func() {
		It("panics if the name is empty", func() {
			Expect(func() {
				registry.Register("", &FlowDefinitionStub{}, "1")
			}).To(PanicWith("flow name must not be empty"))
		})

		It("panics if the definition is nil", func() {
			Expect(func() {
				registry.Register("<flow>", nil, "1")
			}).To(PanicWith("flow definition must not be nil"))
		})

		It("panics if a definition is already registered under the same name", func() {
			registry.Register("<flow>", &FlowDefinitionStub{}, "1")

			Expect(func() {
				registry.Register("<flow>", &FlowDefinitionStub{}, "2")
			}).To(PanicWith(`a flow is already registered as "<flow>"`))
		})
	})

	Describe("func Lookup()", func() {
		It("returns the definition and its version", func() {
			def := &FlowDefinitionStub{}
			registry.Register("<flow>", def, "1")

			d, version, ok := registry.Lookup("<flow>")
			Expect(ok).To(BeTrue())
			Expect(d).To(BeIdenticalTo(def))
			Expect(version).To(Equal("1"))
		})

		It("returns false if no definition is registered under the name", func() {
			_, _, ok := registry.Lookup("<flow>")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("func RegisterResponder()", func() {
		It("panics if no flow is registered under the name", func() {
			Expect(func() {
				registry.RegisterResponder("<initiator>", "<flow>", 0)
			}).To(PanicWith(`no flow is registered as "<flow>"`))
		})
	})

	Describe("func ResolveResponder()", func() {
		BeforeEach(func() {
			registry.Register("<flow>", &FlowDefinitionStub{}, "1")
			registry.Register("<other-flow>", &FlowDefinitionStub{}, "1")
		})

		It("returns the responder registered for the initiator", func() {
			registry.RegisterResponder("<initiator>", "<flow>", 0)

			name, ok := registry.ResolveResponder("<initiator>")
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("<flow>"))
		})

		It("returns the responder with the highest priority", func() {
			registry.RegisterResponder("<initiator>", "<flow>", 0)
			registry.RegisterResponder("<initiator>", "<other-flow>", 10)

			name, ok := registry.ResolveResponder("<initiator>")
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("<other-flow>"))
		})

		It("returns the first-registered responder and logs a warning if the priorities are equal", func() {
			registry.RegisterResponder("<initiator>", "<flow>", 0)
			registry.RegisterResponder("<initiator>", "<other-flow>", 0)

			name, ok := registry.ResolveResponder("<initiator>")
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("<flow>"))

			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: `multiple responders are registered for "<initiator>" with priority 0, using "<flow>"`,
				},
			))
		})

		It("returns false if no responder is registered for the initiator", func() {
			_, ok := registry.ResolveResponder("<initiator>")
			Expect(ok).To(BeFalse())
		})
	})
})
