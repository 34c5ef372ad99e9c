package session_test

import (
	"context"
	"errors"
	"time"

	. "github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/configkit"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type endpointStub struct {
	DeliverEnvelopeFunc func(context.Context, Envelope) error
}

func (e *endpointStub) DeliverEnvelope(ctx context.Context, env Envelope) error {
	if e.DeliverEnvelopeFunc != nil {
		return e.DeliverEnvelopeFunc(ctx, env)
	}

	return nil
}

var _ = Describe("type MemoryExchange", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		exchange  *MemoryExchange
		recipient configkit.Identity
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		exchange = &MemoryExchange{}
		recipient = configkit.MustNewIdentity("<recipient>", "4d92b1e0-58c7-4a6f-8b3d-2e1f0a9c8d7b")
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Deliver()", func() {
		It("delivers the envelope to the recipient's endpoint", func() {
			var delivered []Envelope

			exchange.Register(
				recipient,
				&endpointStub{
					DeliverEnvelopeFunc: func(_ context.Context, env Envelope) error {
						delivered = append(delivered, env)
						return nil
					},
				},
			)

			env := Envelope{
				MetaData: MetaData{
					SessionID: "<session-id>",
					Recipient: recipient,
				},
			}

			err := exchange.Deliver(ctx, env)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(delivered).To(ConsistOf(env))
		})

		It("propagates errors from the endpoint", func() {
			exchange.Register(
				recipient,
				&endpointStub{
					DeliverEnvelopeFunc: func(context.Context, Envelope) error {
						return ErrNotReady
					},
				},
			)

			err := exchange.Deliver(
				ctx,
				Envelope{
					MetaData: MetaData{
						Recipient: recipient,
					},
				},
			)
			Expect(err).To(Equal(ErrNotReady))
		})

		It("returns an UnknownPartyError if no endpoint is registered for the recipient", func() {
			err := exchange.Deliver(
				ctx,
				Envelope{
					MetaData: MetaData{
						Recipient: recipient,
					},
				},
			)
			Expect(err).To(Equal(
				UnknownPartyError{recipient},
			))
		})

		It("uses the most recently registered endpoint", func() {
			exchange.Register(
				recipient,
				&endpointStub{
					DeliverEnvelopeFunc: func(context.Context, Envelope) error {
						return errors.New("<stale endpoint>")
					},
				},
			)

			exchange.Register(recipient, &endpointStub{})

			err := exchange.Deliver(
				ctx,
				Envelope{
					MetaData: MetaData{
						Recipient: recipient,
					},
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
		})
	})
})
