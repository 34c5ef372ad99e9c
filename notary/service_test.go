package notary_test

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/attest/fixtures"
	"github.com/dogmatiq/attest/flow"
	. "github.com/dogmatiq/attest/notary"
	"github.com/dogmatiq/attest/uniqueness"
	"github.com/dogmatiq/configkit"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// scopeStub is a test implementation of the flow.Scope interface.
type scopeStub struct {
	OpenSessionFunc func(configkit.Identity) (string, error)
}

func (s *scopeStub) FlowID() string {
	return "27fb5f21-58dc-4322-a7a3-7a8bcdbcb1d4"
}

func (s *scopeStub) Party() configkit.Identity {
	return configkit.MustNewIdentity(
		"<party>",
		"0e6a5f1c-32c9-430e-8c4f-4b6b05a6c0d7",
	)
}

func (s *scopeStub) OpenSession(remote configkit.Identity) (string, error) {
	if s.OpenSessionFunc != nil {
		return s.OpenSessionFunc(remote)
	}

	return "<session-id>", nil
}

func (s *scopeStub) Log(f string, v ...interface{}) {
}

// submitterStub is a test implementation of the Submitter interface.
type submitterStub struct {
	SubmitFunc func(context.Context, []byte) ([]byte, error)
}

func (s *submitterStub) Submit(ctx context.Context, cmd []byte) ([]byte, error) {
	if s.SubmitFunc != nil {
		return s.SubmitFunc(ctx, cmd)
	}

	return uniqueness.MarshalOutcome(uniqueness.Outcome{Committed: true})
}

var _ = Describe("type Service", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		sc        *scopeStub
		submitter *submitterStub
		service   *Service
		state     flow.State
		request   *NotarizationRequest
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		requester := configkit.MustNewIdentity(
			"<requester>",
			"7b6d2e1a-4c2f-4b7e-9f3a-1d2c3b4a5e6f",
		)

		sc = &scopeStub{}
		submitter = &submitterStub{}

		service = &Service{
			Node:   submitter,
			Signer: &fixtures.SignerStub{},
		}

		state = service.New()

		request = &NotarizationRequest{
			RequestID:     "<request-id>",
			TransactionID: "<tx-1>",
			Inputs: []uniqueness.StateRef{
				{
					TransactionID: "<tx-0>",
					Index:         0,
				},
			},
			Requester: &requester,
		}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Begin()", func() {
		It("suspends until the requester sends its request", func() {
			tr, err := service.Begin(
				ctx,
				sc,
				state,
				&flow.ResponderArgs{
					SessionID: "<session-id>",
					Peer:      *request.Requester,
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(tr).To(Equal(
				flow.Receive{
					SessionID: "<session-id>",
					Resume:    "request",
				},
			))
		})

		It("returns an error if the argument is not a ResponderArgs", func() {
			_, err := service.Begin(ctx, sc, state, request)
			Expect(err).Should(HaveOccurred())
		})
	})

	Describe("func Resume()", func() {
		BeforeEach(func() {
			_, err := service.Begin(
				ctx,
				sc,
				state,
				&flow.ResponderArgs{
					SessionID: "<session-id>",
					Peer:      *request.Requester,
				},
			)
			Expect(err).ShouldNot(HaveOccurred())
		})

		When("the request's inputs are unconsumed", func() {
			It("submits the inputs for consensus and replies with a signed certificate", func() {
				var submitted uniqueness.Command

				submitter.SubmitFunc = func(_ context.Context, cmd []byte) ([]byte, error) {
					var err error
					submitted, err = uniqueness.UnmarshalCommand(cmd)
					Expect(err).ShouldNot(HaveOccurred())

					return uniqueness.MarshalOutcome(
						uniqueness.Outcome{Committed: true},
					)
				}

				tr, err := service.Resume(ctx, sc, state, "request", request)
				Expect(err).ShouldNot(HaveOccurred())

				Expect(submitted).To(Equal(
					uniqueness.Command{
						TransactionID: "<tx-1>",
						Refs:          request.Inputs,
					},
				))

				Expect(tr).To(Equal(
					flow.Send{
						SessionID: "<session-id>",
						Payload: &NotarizationResponse{
							TransactionID: "<tx-1>",
							Status:        StatusSigned,
							Signature:     []byte("signed:<tx-1>"),
						},
						Resume: "sent",
					},
				))
			})
		})

		When("an input is already consumed", func() {
			It("replies with a conflict report", func() {
				conflicts := []uniqueness.Conflict{
					{
						Ref:   request.Inputs[0],
						Owner: "<other-tx>",
					},
				}

				submitter.SubmitFunc = func(context.Context, []byte) ([]byte, error) {
					return uniqueness.MarshalOutcome(
						uniqueness.Outcome{Conflicts: conflicts},
					)
				}

				tr, err := service.Resume(ctx, sc, state, "request", request)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(tr).To(Equal(
					flow.Send{
						SessionID: "<session-id>",
						Payload: &NotarizationResponse{
							TransactionID: "<tx-1>",
							Status:        StatusConflict,
							Conflicts:     conflicts,
						},
						Resume: "sent",
					},
				))
			})
		})

		When("the command is rejected as malformed", func() {
			It("replies with an erroneous status", func() {
				submitter.SubmitFunc = func(context.Context, []byte) ([]byte, error) {
					return uniqueness.MarshalOutcome(
						uniqueness.Outcome{Error: "<error>"},
					)
				}

				tr, err := service.Resume(ctx, sc, state, "request", request)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(tr).To(Equal(
					flow.Send{
						SessionID: "<session-id>",
						Payload: &NotarizationResponse{
							TransactionID: "<tx-1>",
							Status:        StatusError,
							Error:         "<error>",
						},
						Resume: "sent",
					},
				))
			})
		})

		When("the consensus cluster is unavailable", func() {
			It("sleeps before re-submitting", func() {
				service.RetryDelay = 250 * time.Millisecond

				submitter.SubmitFunc = func(context.Context, []byte) ([]byte, error) {
					return nil, errors.New("no leader is known")
				}

				before := time.Now()

				tr, err := service.Resume(ctx, sc, state, "request", request)
				Expect(err).ShouldNot(HaveOccurred())

				sleep, ok := tr.(flow.Sleep)
				Expect(ok).To(BeTrue())
				Expect(sleep.Resume).To(Equal(flow.Label("retry")))
				Expect(sleep.Until).To(BeTemporally(
					"~",
					before.Add(250*time.Millisecond),
					100*time.Millisecond,
				))
			})

			It("re-submits the original request at the retry resumption point", func() {
				submissions := 0

				submitter.SubmitFunc = func(context.Context, []byte) ([]byte, error) {
					submissions++
					return uniqueness.MarshalOutcome(
						uniqueness.Outcome{Committed: true},
					)
				}

				st := state.(*ServiceState)
				st.Request = request

				tr, err := service.Resume(ctx, sc, state, "retry", nil)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(submissions).To(Equal(1))
				Expect(tr).To(BeAssignableToTypeOf(flow.Send{}))
			})

			It("propagates the error if the context is canceled", func() {
				canceled, cancelNow := context.WithCancel(ctx)
				cancelNow()

				submitter.SubmitFunc = func(ctx context.Context, _ []byte) ([]byte, error) {
					return nil, ctx.Err()
				}

				_, err := service.Resume(canceled, sc, state, "request", request)
				Expect(err).To(Equal(context.Canceled))
			})
		})

		When("the request carries a time-window", func() {
			It("sleeps until the window opens", func() {
				notBefore := time.Now().Add(1 * time.Hour)
				request.TimeWindow = &TimeWindow{
					NotBefore: notBefore,
				}

				tr, err := service.Resume(ctx, sc, state, "request", request)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(tr).To(Equal(
					flow.Sleep{
						Until:  notBefore,
						Resume: "retry",
					},
				))
			})

			It("replies with an erroneous status if the window has expired", func() {
				request.TimeWindow = &TimeWindow{
					NotAfter: time.Now().Add(-1 * time.Hour),
				}

				submitter.SubmitFunc = func(context.Context, []byte) ([]byte, error) {
					Fail("an expired request was submitted for consensus")
					return nil, nil
				}

				tr, err := service.Resume(ctx, sc, state, "request", request)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(tr).To(Equal(
					flow.Send{
						SessionID: "<session-id>",
						Payload: &NotarizationResponse{
							TransactionID: "<tx-1>",
							Status:        StatusError,
							Error:         "the request's time-window has expired",
						},
						Resume: "sent",
					},
				))
			})
		})

		It("completes once the response is sent", func() {
			tr, err := service.Resume(ctx, sc, state, "sent", nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(tr).To(Equal(flow.Complete{}))
		})

		It("returns an error at an unrecognized resumption point", func() {
			_, err := service.Resume(ctx, sc, state, "<unknown>", nil)
			Expect(err).Should(HaveOccurred())
		})
	})
})
