package scheduler

import (
	"context"
	"sync"

	"github.com/dogmatiq/attest/internal/mlog"
	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
)

// outbox is the retransmission state for the unacknowledged envelopes of a
// single session.
//
// A session's envelopes are delivered strictly in order of their sequence
// numbers. Delivery of an envelope does not begin until its predecessor has
// been acknowledged, so a closing envelope can not overtake the payload that
// precedes it.
type outbox struct {
	m        sync.Mutex
	pending  []session.Envelope
	draining bool
}

// insert adds env to the pending envelopes, keeping them ordered by sequence
// number, unless an envelope with the same sequence number is already pending.
func (ob *outbox) insert(env session.Envelope) {
	i := 0
	for i < len(ob.pending) && ob.pending[i].Seq < env.Seq {
		i++
	}

	if i < len(ob.pending) && ob.pending[i].Seq == env.Seq {
		return
	}

	ob.pending = append(ob.pending, session.Envelope{})
	copy(ob.pending[i+1:], ob.pending[i:])
	ob.pending[i] = env
}

// remove discards the pending envelope with the given sequence number.
func (ob *outbox) remove(seq uint64) {
	for i := range ob.pending {
		if ob.pending[i].Seq == seq {
			ob.pending = append(ob.pending[:i], ob.pending[i+1:]...)
			return
		}
	}
}

// transmit queues env for delivery to its recipient, retrying in the
// background until it is acknowledged or ctx is canceled.
//
// Once acknowledged the envelope is retired from the outbox, which stops it
// being retransmitted after a restart.
func (s *Scheduler) transmit(ctx context.Context, env session.Envelope) {
	v, _ := s.outboxes.LoadOrStore(env.SessionID, &outbox{})
	ob := v.(*outbox)

	ob.m.Lock()
	ob.insert(env)

	if ob.draining {
		ob.m.Unlock()
		return
	}

	ob.draining = true
	ob.m.Unlock()

	go s.drain(ctx, ob)
}

// drain delivers the outbox's pending envelopes in order until none remain or
// ctx is canceled.
func (s *Scheduler) drain(ctx context.Context, ob *outbox) {
	strategy := s.backoff()

	for {
		ob.m.Lock()
		if len(ob.pending) == 0 {
			ob.draining = false
			ob.m.Unlock()
			return
		}
		env := ob.pending[0]
		ob.m.Unlock()

		var fc uint

		for {
			mlog.LogProduce(s.Logger, &env, fc)

			if err := s.Exchange.Deliver(ctx, env); err == nil {
				break
			} else if ctx.Err() != nil {
				return
			} else {
				d := strategy(err, fc)
				fc++

				if linger.Sleep(ctx, d) != nil {
					return
				}
			}
		}

		if _, err := s.DataStore.Persist(
			ctx,
			persistence.Batch{
				persistence.RemoveOutboxMessage{Envelope: env},
			},
		); err != nil {
			logging.Log(
				s.Logger,
				"envelope %d on session %s could not be retired from the outbox: %s",
				env.Seq,
				env.SessionID,
				err,
			)
		}

		ob.m.Lock()
		ob.remove(env.Seq)
		ob.m.Unlock()
	}
}
