package raft_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/dogmatiq/attest/raft"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// fsmStub is a deterministic FSM that records the commands applied to it.
type fsmStub struct {
	m       sync.Mutex
	applied []string
}

func (f *fsmStub) Apply(index uint64, cmd []byte) []byte {
	f.m.Lock()
	defer f.m.Unlock()

	f.applied = append(f.applied, string(cmd))

	return []byte("applied: " + string(cmd))
}

func (f *fsmStub) Snapshot() ([]byte, error) {
	f.m.Lock()
	defer f.m.Unlock()

	return json.Marshal(f.applied)
}

func (f *fsmStub) Restore(data []byte) error {
	f.m.Lock()
	defer f.m.Unlock()

	f.applied = nil

	return json.Unmarshal(data, &f.applied)
}

func (f *fsmStub) Applied() []string {
	f.m.Lock()
	defer f.m.Unlock()

	return append([]string(nil), f.applied...)
}

var _ = Describe("type Node", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		network *Network
		nodes   map[string]*Node
		fsms    map[string]*fsmStub
	)

	newCluster := func(ids ...string) {
		for _, id := range ids {
			fsm := &fsmStub{}
			store := &MemoryStore{}

			n := &Node{
				ID:                id,
				Members:           ids,
				FSM:               fsm,
				Log:               store,
				Stable:            store,
				ElectionTimeout:   50 * time.Millisecond,
				HeartbeatInterval: 10 * time.Millisecond,
				SnapshotThreshold: 1,
			}

			n.Transport = network.Join(n)

			nodes[id] = n
			fsms[id] = fsm

			go n.Run(ctx)
		}
	}

	// awaitLeader blocks until some member believes itself to be the leader,
	// then returns that member.
	awaitLeader := func() *Node {
		var leader *Node

		Eventually(func() bool {
			for _, n := range nodes {
				if id, ok := n.Leader(); ok && id == n.ID {
					leader = n
					return true
				}
			}

			return false
		}, "5s", "10ms").Should(BeTrue())

		return leader
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)

		network = &Network{}
		nodes = map[string]*Node{}
		fsms = map[string]*fsmStub{}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Submit()", func() {
		It("commits by local append alone in a single-member cluster", func() {
			newCluster("<node-1>")

			leader := awaitLeader()

			out, err := leader.Submit(ctx, []byte("<command>"))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(out).To(Equal([]byte("applied: <command>")))
		})

		It("applies committed commands on every member", func() {
			newCluster("<node-1>", "<node-2>", "<node-3>")

			leader := awaitLeader()

			_, err := leader.Submit(ctx, []byte("<command>"))
			Expect(err).ShouldNot(HaveOccurred())

			for id := range nodes {
				fsm := fsms[id]

				Eventually(func() []string {
					return fsm.Applied()
				}, "5s", "10ms").Should(Equal(
					[]string{"<command>"},
				))
			}
		})

		It("forwards submissions to the leader", func() {
			newCluster("<node-1>", "<node-2>", "<node-3>")

			leader := awaitLeader()

			var follower *Node
			for id, n := range nodes {
				if id != leader.ID {
					follower = n
					break
				}
			}

			// The follower needs to have heard from the leader before it can
			// forward.
			Eventually(func() bool {
				id, ok := follower.Leader()
				return ok && id == leader.ID
			}, "5s", "10ms").Should(BeTrue())

			out, err := follower.Submit(ctx, []byte("<command>"))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(out).To(Equal([]byte("applied: <command>")))
		})

		It("returns ErrUnavailable if no leader is known", func() {
			fsm := &fsmStub{}
			store := &MemoryStore{}

			// The node is never run, so it never hears from a leader and never
			// campaigns.
			n := &Node{
				ID:      "<node-1>",
				Members: []string{"<node-1>", "<node-2>", "<node-3>"},
				FSM:     fsm,
				Log:     store,
				Stable:  store,
			}
			n.Transport = network.Join(n)

			_, err := n.Submit(ctx, []byte("<command>"))
			Expect(err).To(Equal(ErrUnavailable))
		})
	})

	Describe("func Run()", func() {
		It("elects a new leader when the leader is disconnected", func() {
			newCluster("<node-1>", "<node-2>", "<node-3>")

			before := awaitLeader()
			commitBefore := before.CommitIndex()

			network.Disconnect(before.ID)
			defer network.Reconnect(before.ID)

			var after *Node

			Eventually(func() bool {
				for id, n := range nodes {
					if id == before.ID {
						continue
					}

					if leaderID, ok := n.Leader(); ok && leaderID == n.ID {
						after = n
						return true
					}
				}

				return false
			}, "5s", "10ms").Should(BeTrue())

			Expect(after.CurrentTerm()).To(BeNumerically(">", before.CurrentTerm()))

			_, err := after.Submit(ctx, []byte("<command>"))
			Expect(err).ShouldNot(HaveOccurred())

			Expect(after.CommitIndex()).To(BeNumerically(">=", commitBefore))
		})

		It("delivers commands committed during a partition to the reconnected member", func() {
			newCluster("<node-1>", "<node-2>", "<node-3>")

			leader := awaitLeader()

			var partitioned string
			for id := range nodes {
				if id != leader.ID {
					partitioned = id
					break
				}
			}

			network.Disconnect(partitioned)

			_, err := leader.Submit(ctx, []byte("<command>"))
			Expect(err).ShouldNot(HaveOccurred())

			network.Reconnect(partitioned)

			fsm := fsms[partitioned]
			Eventually(func() []string {
				return fsm.Applied()
			}, "5s", "10ms").Should(Equal(
				[]string{"<command>"},
			))
		})
	})

	Describe("func Compact()", func() {
		It("brings a lagging member up to date by installing a snapshot", func() {
			newCluster("<node-1>", "<node-2>", "<node-3>")

			leader := awaitLeader()

			var partitioned string
			for id := range nodes {
				if id != leader.ID {
					partitioned = id
					break
				}
			}

			network.Disconnect(partitioned)

			commands := []string{"<command-1>", "<command-2>", "<command-3>"}
			for _, cmd := range commands {
				_, err := leader.Submit(ctx, []byte(cmd))
				Expect(err).ShouldNot(HaveOccurred())
			}

			// The threshold is one, so compaction discards the entries the
			// partitioned member is missing.
			err := leader.Compact(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			first, err := leader.Log.FirstIndex()
			Expect(err).ShouldNot(HaveOccurred())
			Expect(first).To(BeEquivalentTo(0))

			network.Reconnect(partitioned)

			fsm := fsms[partitioned]
			Eventually(func() []string {
				return fsm.Applied()
			}, "5s", "10ms").Should(Equal(commands))
		})
	})

	Describe("func ChangeMembership()", func() {
		It("applies the new membership on every member", func() {
			newCluster("<node-1>", "<node-2>", "<node-3>")

			leader := awaitLeader()

			err := leader.ChangeMembership(
				ctx,
				[]string{"<node-1>", "<node-2>", "<node-3>", "<node-4>"},
			)
			Expect(err).ShouldNot(HaveOccurred())

			// The change is visible as soon as a subsequent command commits on
			// a quorum that includes the new member count.
			_, err = leader.Submit(ctx, []byte("<command>"))
			Expect(err).ShouldNot(HaveOccurred())
		})
	})
})
