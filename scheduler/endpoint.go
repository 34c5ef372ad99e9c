package scheduler

import (
	"context"
	"fmt"

	"github.com/dogmatiq/attest/flow"
	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/marshalkit"
	"github.com/google/uuid"
)

// DeliverEnvelope delivers env to the flow that is awaiting it, starting a
// responder flow if env opens a new session.
//
// It implements the session.Endpoint interface. A nil return value is the
// durable acknowledgement that allows the sender to retire the envelope from
// its outbox; it is given only once the envelope's consumption has been
// checkpointed, or the envelope is known to be a duplicate.
func (s *Scheduler) DeliverEnvelope(ctx context.Context, env session.Envelope) error {
	s.init()

	v, ok := s.sessions.Load(env.SessionID)
	if !ok {
		if !env.Open {
			// The session is unknown and the envelope does not open one, so it
			// must be a retransmission for a flow that has already completed.
			return nil
		}

		return s.accept(ctx, env)
	}

	return s.deliver(ctx, v.(string), env)
}

// deliver buffers env for the flow that owns its session.
func (s *Scheduler) deliver(
	ctx context.Context,
	flowID string,
	env session.Envelope,
) error {
	v, ok := s.records.Load(flowID)
	if !ok {
		// The session is indexed but the record is not loaded yet, so a
		// concurrent accept() is still persisting the responder's first
		// checkpoint.
		return session.ErrNotReady
	}
	rec := v.(*record)

	if err := rec.m.Lock(ctx); err != nil {
		return err
	}

	if rec.cp.Status == persistence.StatusFailed {
		// A parked flow never consumes, so acknowledge to stop the
		// retransmissions.
		rec.m.Unlock()
		return nil
	}

	if sess := findSession(rec.cp.Sessions, env.SessionID); sess != nil {
		if env.Seq < sess.NextRecvSeq {
			rec.m.Unlock()
			return nil
		}
	}

	if env.Close {
		if rec.closed == nil {
			rec.closed = map[string]uint64{}
		}
		rec.closed[env.SessionID] = env.Seq
		rec.m.Unlock()

		s.activate(flowID)

		return nil
	}

	rec.buffer(env)
	rec.m.Unlock()

	s.activate(flowID)

	return session.ErrNotReady
}

// accept starts a responder flow for a remotely opened session.
func (s *Scheduler) accept(ctx context.Context, env session.Envelope) error {
	name, ok := s.Registry.ResolveResponder(env.FlowName)
	if !ok {
		return fmt.Errorf(
			"no responder is registered for sessions opened by %#v",
			env.FlowName,
		)
	}

	def, version, ok := s.Registry.Lookup(name)
	if !ok {
		return fmt.Errorf("no flow is registered as %#v", name)
	}

	flowID := uuid.NewString()

	if v, loaded := s.sessions.LoadOrStore(env.SessionID, flowID); loaded {
		// Lost a race against a concurrent retransmission of the same open
		// envelope.
		return s.deliver(ctx, v.(string), env)
	}

	args := &flow.ResponderArgs{
		SessionID: env.SessionID,
		Peer:      env.Sender,
	}

	cp := persistence.Checkpoint{
		FlowID:  flowID,
		Status:  persistence.StatusSuspended,
		Version: version,
		Frames: []persistence.Frame{
			{
				Flow:  name,
				State: marshalkit.MustMarshalMessage(s.Marshaler, def.New()),
			},
		},
		Suspension: persistence.Suspension{
			Kind:  persistence.SuspendYield,
			Value: marshalkit.MustMarshalMessage(s.Marshaler, args),
		},
		Sessions: []session.Session{
			{
				ID:       env.SessionID,
				FlowID:   flowID,
				FlowName: name,
				Remote:   env.Sender,
			},
		},
	}

	res, err := s.DataStore.Persist(
		ctx,
		persistence.Batch{
			persistence.SaveCheckpoint{Checkpoint: cp},
		},
	)
	if err != nil {
		s.sessions.Delete(env.SessionID)
		return err
	}
	cp.Revision = res.CheckpointRevisions[flowID]

	rec := s.registerRecord(cp)

	if err := rec.m.Lock(ctx); err != nil {
		return err
	}
	rec.buffer(env)
	rec.m.Unlock()

	s.activate(flowID)

	return session.ErrNotReady
}
