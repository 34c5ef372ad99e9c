package notary_test

import (
	"context"
	"time"

	"github.com/dogmatiq/attest/flow"
	. "github.com/dogmatiq/attest/notary"
	"github.com/dogmatiq/configkit"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Client", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		sc      *scopeStub
		client  *Client
		state   flow.State
		request *NotarizationRequest
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		sc = &scopeStub{}

		client = &Client{
			Notary: configkit.MustNewIdentity(
				"<notary>",
				"3f9a7c21-0d4e-4c8b-8a5d-6e7f8a9b0c1d",
			),
		}

		state = client.New()

		request = &NotarizationRequest{
			RequestID:     "<request-id>",
			TransactionID: "<tx-1>",
		}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Begin()", func() {
		It("sends the request to the notary and suspends until it responds", func() {
			var remote configkit.Identity

			sc.OpenSessionFunc = func(id configkit.Identity) (string, error) {
				remote = id
				return "<session-id>", nil
			}

			tr, err := client.Begin(ctx, sc, state, request)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(remote).To(Equal(client.Notary))
			Expect(state.(*ClientState).SessionID).To(Equal("<session-id>"))

			Expect(tr).To(Equal(
				flow.SendAndReceive{
					SessionID: "<session-id>",
					Payload:   request,
					Resume:    "response",
				},
			))
		})

		It("identifies the hosting party as the requester", func() {
			_, err := client.Begin(ctx, sc, state, request)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(request.Requester).ToNot(BeNil())
			Expect(*request.Requester).To(Equal(sc.Party()))
		})

		It("does not replace a requester that is already identified", func() {
			requester := configkit.MustNewIdentity(
				"<requester>",
				"7b6d2e1a-4c2f-4b7e-9f3a-1d2c3b4a5e6f",
			)
			request.Requester = &requester

			_, err := client.Begin(ctx, sc, state, request)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(request.Requester).To(Equal(&requester))
		})

		It("returns an error if the argument is not a NotarizationRequest", func() {
			_, err := client.Begin(ctx, sc, state, &NotarizationResponse{})
			Expect(err).Should(HaveOccurred())
		})
	})

	Describe("func Resume()", func() {
		It("completes with the notary's response as its result", func() {
			resp := &NotarizationResponse{
				TransactionID: "<tx-1>",
				Status:        StatusSigned,
				Signature:     []byte("<signature>"),
			}

			tr, err := client.Resume(ctx, sc, state, "response", resp)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(tr).To(Equal(
				flow.Complete{
					Result: resp,
				},
			))
		})

		It("returns an error at an unrecognized resumption point", func() {
			_, err := client.Resume(ctx, sc, state, "<unknown>", nil)
			Expect(err).Should(HaveOccurred())
		})

		It("returns an error if the payload is not a NotarizationResponse", func() {
			_, err := client.Resume(ctx, sc, state, "response", request)
			Expect(err).Should(HaveOccurred())
		})
	})
})
