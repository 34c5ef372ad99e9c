package scheduler_test

import (
	"context"
	"sync"
	"time"

	. "github.com/dogmatiq/attest/fixtures"
	"github.com/dogmatiq/attest/flow"
	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/persistence/provider/memory"
	. "github.com/dogmatiq/attest/scheduler"
	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/configkit"
	"github.com/dogmatiq/dogma"
	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/marshalkit"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Scheduler", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		exchange *session.MemoryExchange
	)

	// newParty returns a running scheduler for a party with the given identity,
	// registered as an endpoint on the shared exchange.
	newParty := func(
		id configkit.Identity,
		setup func(*flow.Registry),
	) *Scheduler {
		provider := &memory.Provider{}

		ds, err := provider.Open(ctx, id.Key)
		Expect(err).ShouldNot(HaveOccurred())

		registry := &flow.Registry{}
		if setup != nil {
			setup(registry)
		}

		s := &Scheduler{
			DataStore:       ds,
			Marshaler:       Marshaler,
			Registry:        registry,
			Exchange:        exchange,
			Identity:        id,
			BackoffStrategy: backoff.Constant(10 * time.Millisecond),
		}

		exchange.Register(id, s)

		go s.Run(ctx)

		return s
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		exchange = &session.MemoryExchange{}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Start()", func() {
		It("executes a flow to completion", func() {
			s := newParty(
				configkit.MustNewIdentity("<party>", "819c96fa-e273-4389-91f0-0c0a9d55b194"),
				func(r *flow.Registry) {
					r.Register(
						"<flow>",
						&FlowDefinitionStub{
							BeginFunc: func(
								context.Context,
								flow.Scope,
								flow.State,
								dogma.Message,
							) (flow.Transition, error) {
								return flow.Complete{
									Result: &Payload{Value: "<done>"},
								}, nil
							},
						},
						"1",
					)
				},
			)

			handle, err := s.Start(ctx, "<flow>", nil)
			Expect(err).ShouldNot(HaveOccurred())

			result, err := handle.Await(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(result).To(Equal(&Payload{Value: "<done>"}))
		})

		It("passes the start arguments to the first step", func() {
			var got dogma.Message

			s := newParty(
				configkit.MustNewIdentity("<party>", "819c96fa-e273-4389-91f0-0c0a9d55b194"),
				func(r *flow.Registry) {
					r.Register(
						"<flow>",
						&FlowDefinitionStub{
							BeginFunc: func(
								_ context.Context,
								_ flow.Scope,
								_ flow.State,
								args dogma.Message,
							) (flow.Transition, error) {
								got = args
								return flow.Complete{}, nil
							},
						},
						"1",
					)
				},
			)

			handle, err := s.Start(ctx, "<flow>", &Payload{Value: "<args>"})
			Expect(err).ShouldNot(HaveOccurred())

			_, err = handle.Await(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(got).To(Equal(&Payload{Value: "<args>"}))
		})

		It("returns an error if no flow is registered under the name", func() {
			s := newParty(
				configkit.MustNewIdentity("<party>", "819c96fa-e273-4389-91f0-0c0a9d55b194"),
				nil,
			)

			_, err := s.Start(ctx, "<flow>", nil)
			Expect(err).To(MatchError(`no flow is registered as "<flow>"`))
		})

		It("resumes a sleeping flow once its wake time arrives", func() {
			wake := time.Now().Add(100 * time.Millisecond)

			s := newParty(
				configkit.MustNewIdentity("<party>", "819c96fa-e273-4389-91f0-0c0a9d55b194"),
				func(r *flow.Registry) {
					r.Register(
						"<flow>",
						&FlowDefinitionStub{
							BeginFunc: func(
								context.Context,
								flow.Scope,
								flow.State,
								dogma.Message,
							) (flow.Transition, error) {
								return flow.Sleep{
									Until:  wake,
									Resume: "woken",
								}, nil
							},
							ResumeFunc: func(
								_ context.Context,
								_ flow.Scope,
								_ flow.State,
								at flow.Label,
								_ dogma.Message,
							) (flow.Transition, error) {
								Expect(at).To(Equal(flow.Label("woken")))
								return flow.Complete{}, nil
							},
						},
						"1",
					)
				},
			)

			handle, err := s.Start(ctx, "<flow>", nil)
			Expect(err).ShouldNot(HaveOccurred())

			_, err = handle.Await(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(time.Now()).To(BeTemporally(">=", wake))
		})

		It("executes a sub-flow within the same instance", func() {
			s := newParty(
				configkit.MustNewIdentity("<party>", "819c96fa-e273-4389-91f0-0c0a9d55b194"),
				func(r *flow.Registry) {
					r.Register(
						"<parent>",
						&FlowDefinitionStub{
							BeginFunc: func(
								context.Context,
								flow.Scope,
								flow.State,
								dogma.Message,
							) (flow.Transition, error) {
								return flow.Call{
									Flow:   "<child>",
									Args:   &Payload{Value: "<input>"},
									Resume: "returned",
								}, nil
							},
							ResumeFunc: func(
								_ context.Context,
								_ flow.Scope,
								_ flow.State,
								at flow.Label,
								v dogma.Message,
							) (flow.Transition, error) {
								Expect(at).To(Equal(flow.Label("returned")))
								return flow.Complete{Result: v}, nil
							},
						},
						"1",
					)

					r.Register(
						"<child>",
						&FlowDefinitionStub{
							BeginFunc: func(
								_ context.Context,
								_ flow.Scope,
								_ flow.State,
								args dogma.Message,
							) (flow.Transition, error) {
								p := args.(*Payload)
								return flow.Complete{
									Result: &Payload{
										Value: "<output from " + p.Value + ">",
									},
								}, nil
							},
						},
						"1",
					)
				},
			)

			handle, err := s.Start(ctx, "<parent>", nil)
			Expect(err).ShouldNot(HaveOccurred())

			result, err := handle.Await(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(result).To(Equal(
				&Payload{Value: "<output from <input>>"},
			))
		})

		It("fails the flow if a session receives nothing before the deadline", func() {
			remote := configkit.MustNewIdentity("<remote>", "3f105c12-68e4-4b42-a4a9-4b47867d4a7b")

			s := newParty(
				configkit.MustNewIdentity("<party>", "819c96fa-e273-4389-91f0-0c0a9d55b194"),
				func(r *flow.Registry) {
					r.Register(
						"<flow>",
						&FlowDefinitionStub{
							BeginFunc: func(
								_ context.Context,
								sc flow.Scope,
								_ flow.State,
								_ dogma.Message,
							) (flow.Transition, error) {
								id, err := sc.OpenSession(remote)
								if err != nil {
									return nil, err
								}

								return flow.SendAndReceive{
									SessionID: id,
									Payload:   &Payload{Value: "<unanswered>"},
									Resume:    "replied",
								}, nil
							},
						},
						"1",
					)
				},
			)

			handle, err := s.Start(
				ctx,
				"<flow>",
				nil,
				WithDeadline(time.Now().Add(100*time.Millisecond)),
			)
			Expect(err).ShouldNot(HaveOccurred())

			_, err = handle.Await(ctx)
			Expect(err).To(BeAssignableToTypeOf(SessionTimeoutError{}))
		})
	})

	Describe("func DeliverEnvelope()", func() {
		It("exchanges payloads between flows hosted by different parties", func() {
			client := configkit.MustNewIdentity("<client>", "5d3f8e2a-9b1c-4d6e-af2b-3c4d5e6f7a8b")
			server := configkit.MustNewIdentity("<server>", "b9f17b2d-0be4-49f2-91a5-8a42da1fd3a9")

			newParty(server, func(r *flow.Registry) {
				r.Register(
					"<server-flow>",
					&FlowDefinitionStub{
						BeginFunc: func(
							_ context.Context,
							_ flow.Scope,
							s flow.State,
							args dogma.Message,
						) (flow.Transition, error) {
							a := args.(*flow.ResponderArgs)

							// Stash the session ID so that later steps can
							// reply on it.
							s.(*FlowState).Steps = []string{a.SessionID}

							return flow.Receive{
								SessionID: a.SessionID,
								Resume:    "request",
							}, nil
						},
						ResumeFunc: func(
							_ context.Context,
							_ flow.Scope,
							s flow.State,
							at flow.Label,
							v dogma.Message,
						) (flow.Transition, error) {
							switch at {
							case "request":
								return flow.Send{
									SessionID: s.(*FlowState).Steps[0],
									Payload: &Payload{
										Value: "pong: " + v.(*Payload).Value,
									},
									Resume: "sent",
								}, nil

							default:
								return flow.Complete{}, nil
							}
						},
					},
					"1",
				)

				r.RegisterResponder("<client-flow>", "<server-flow>", 0)
			})

			clientSched := newParty(client, func(r *flow.Registry) {
				r.Register(
					"<client-flow>",
					&FlowDefinitionStub{
						BeginFunc: func(
							_ context.Context,
							sc flow.Scope,
							_ flow.State,
							_ dogma.Message,
						) (flow.Transition, error) {
							id, err := sc.OpenSession(server)
							if err != nil {
								return nil, err
							}

							return flow.SendAndReceive{
								SessionID: id,
								Payload:   &Payload{Value: "ping"},
								Resume:    "replied",
							}, nil
						},
						ResumeFunc: func(
							_ context.Context,
							_ flow.Scope,
							_ flow.State,
							_ flow.Label,
							v dogma.Message,
						) (flow.Transition, error) {
							return flow.Complete{Result: v}, nil
						},
					},
					"1",
				)
			})

			handle, err := clientSched.Start(ctx, "<client-flow>", nil)
			Expect(err).ShouldNot(HaveOccurred())

			result, err := handle.Await(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(result).To(Equal(&Payload{Value: "pong: ping"}))
		})

		It("delivers a session's envelopes in sequence order even when delivery must be retried", func() {
			identity := configkit.MustNewIdentity("<party>", "819c96fa-e273-4389-91f0-0c0a9d55b194")
			remote := configkit.MustNewIdentity("<remote>", "3f105c12-68e4-4b42-a4a9-4b47867d4a7b")

			var (
				m        sync.Mutex
				failures int
				acked    []uint64
			)

			flaky := &exchangeStub{
				DeliverFunc: func(_ context.Context, env session.Envelope) error {
					m.Lock()
					defer m.Unlock()

					if env.Seq == 0 && failures < 2 {
						failures++
						return session.ErrNotReady
					}

					acked = append(acked, env.Seq)
					return nil
				},
			}

			provider := &memory.Provider{}
			ds, err := provider.Open(ctx, identity.Key)
			Expect(err).ShouldNot(HaveOccurred())

			registry := &flow.Registry{}
			registry.Register(
				"<flow>",
				&FlowDefinitionStub{
					BeginFunc: func(
						_ context.Context,
						sc flow.Scope,
						_ flow.State,
						_ dogma.Message,
					) (flow.Transition, error) {
						id, err := sc.OpenSession(remote)
						if err != nil {
							return nil, err
						}

						return flow.Send{
							SessionID: id,
							Payload:   &Payload{Value: "<request>"},
							Resume:    "sent",
						}, nil
					},
					ResumeFunc: func(
						context.Context,
						flow.Scope,
						flow.State,
						flow.Label,
						dogma.Message,
					) (flow.Transition, error) {
						return flow.Complete{}, nil
					},
				},
				"1",
			)

			s := &Scheduler{
				DataStore:       ds,
				Marshaler:       Marshaler,
				Registry:        registry,
				Exchange:        flaky,
				Identity:        identity,
				BackoffStrategy: backoff.Constant(10 * time.Millisecond),
			}

			go s.Run(ctx)

			handle, err := s.Start(ctx, "<flow>", nil)
			Expect(err).ShouldNot(HaveOccurred())

			_, err = handle.Await(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			// The payload at sequence 0 and the close at sequence 1 share the
			// session, so the close must not be acknowledged while the payload
			// is still being retried.
			Eventually(func() []uint64 {
				m.Lock()
				defer m.Unlock()
				return append([]uint64(nil), acked...)
			}, "3s", "10ms").Should(Equal([]uint64{0, 1}))

			m.Lock()
			Expect(failures).To(Equal(2))
			m.Unlock()
		})
	})

	Describe("func Run()", func() {
		It("resumes suspended flows after a restart", func() {
			identity := configkit.MustNewIdentity("<party>", "819c96fa-e273-4389-91f0-0c0a9d55b194")
			provider := &memory.Provider{}

			resumed := make(chan struct{})

			registry := &flow.Registry{}
			registry.Register(
				"<flow>",
				&FlowDefinitionStub{
					BeginFunc: func(
						context.Context,
						flow.Scope,
						flow.State,
						dogma.Message,
					) (flow.Transition, error) {
						return flow.Sleep{
							Until:  time.Now().Add(500 * time.Millisecond),
							Resume: "woken",
						}, nil
					},
					ResumeFunc: func(
						context.Context,
						flow.Scope,
						flow.State,
						flow.Label,
						dogma.Message,
					) (flow.Transition, error) {
						close(resumed)
						return flow.Complete{}, nil
					},
				},
				"1",
			)

			runCtx, crash := context.WithCancel(ctx)

			ds, err := provider.Open(ctx, identity.Key)
			Expect(err).ShouldNot(HaveOccurred())

			s := &Scheduler{
				DataStore: ds,
				Marshaler: Marshaler,
				Registry:  registry,
				Exchange:  exchange,
				Identity:  identity,
			}

			go s.Run(runCtx)

			handle, err := s.Start(runCtx, "<flow>", nil)
			Expect(err).ShouldNot(HaveOccurred())

			// Wait for the sleep suspension to be checkpointed, then crash the
			// scheduler before the wake time arrives.
			Eventually(func() uint64 {
				cp, err := ds.LoadCheckpoint(ctx, handle.FlowID())
				Expect(err).ShouldNot(HaveOccurred())
				return cp.Revision
			}, "3s", "10ms").Should(BeEquivalentTo(2))

			crash()
			ds.Close()

			ds, err = provider.Open(ctx, identity.Key)
			Expect(err).ShouldNot(HaveOccurred())

			s = &Scheduler{
				DataStore: ds,
				Marshaler: Marshaler,
				Registry:  registry,
				Exchange:  exchange,
				Identity:  identity,
			}

			go s.Run(ctx)

			Eventually(resumed, "3s").Should(BeClosed())
		})

		It("parks a flow whose checkpoint was produced by a different definition version", func() {
			identity := configkit.MustNewIdentity("<party>", "819c96fa-e273-4389-91f0-0c0a9d55b194")
			provider := &memory.Provider{}

			ds, err := provider.Open(ctx, identity.Key)
			Expect(err).ShouldNot(HaveOccurred())

			cp := persistence.Checkpoint{
				FlowID:  "27fb5f21-58dc-4322-a7a3-7a8bcdbcb1d4",
				Status:  persistence.StatusSuspended,
				Version: "<old>",
				Frames: []persistence.Frame{
					{
						Flow:  "<flow>",
						State: marshalkit.MustMarshalMessage(Marshaler, &FlowState{}),
					},
				},
				Suspension: persistence.Suspension{
					Kind: persistence.SuspendYield,
				},
			}

			_, err = ds.Persist(
				ctx,
				persistence.Batch{
					persistence.SaveCheckpoint{Checkpoint: cp},
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			registry := &flow.Registry{}
			registry.Register("<flow>", &FlowDefinitionStub{}, "<new>")

			s := &Scheduler{
				DataStore: ds,
				Marshaler: Marshaler,
				Registry:  registry,
				Exchange:  exchange,
				Identity:  identity,
			}

			go s.Run(ctx)

			Eventually(func() persistence.Status {
				cp, err := ds.LoadCheckpoint(ctx, cp.FlowID)
				Expect(err).ShouldNot(HaveOccurred())
				return cp.Status
			}, "3s", "10ms").Should(Equal(persistence.StatusFailed))
		})
	})
})

// exchangeStub is a test implementation of the session.Exchange interface.
type exchangeStub struct {
	DeliverFunc func(context.Context, session.Envelope) error
}

func (x *exchangeStub) Deliver(ctx context.Context, env session.Envelope) error {
	if x.DeliverFunc != nil {
		return x.DeliverFunc(ctx, env)
	}

	return nil
}
