package scheduler

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/dogmatiq/attest/flow"
	"github.com/dogmatiq/attest/internal/mlog"
	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/dogma"
	"github.com/dogmatiq/marshalkit"
)

// driver executes the steps of a single flow while the record's mutex is
// held.
type driver struct {
	scheduler *Scheduler
	rec       *record

	// cp is the working copy of the checkpoint being built by the current
	// step. It replaces rec.cp only once it has been persisted.
	cp persistence.Checkpoint

	// batch accumulates the operations to be persisted with the checkpoint.
	batch persistence.Batch

	// outgoing accumulates the envelopes to transmit after a successful
	// persist.
	outgoing []session.Envelope

	// consumed is the envelope consumed by the current step, if any.
	consumed *session.Envelope

	// terminal is true once the flow's root frame has completed. result is its
	// result.
	terminal bool
	result   dogma.Message
}

// run drives the flow until it blocks on an unmet condition, reaches a
// terminal state, or fails.
func (d *driver) run(ctx context.Context) {
	for {
		if d.rec.cp.Status != persistence.StatusSuspended {
			return
		}

		d.cp = cloneCheckpoint(d.rec.cp)
		d.batch = nil
		d.outgoing = nil
		d.consumed = nil

		value, blocked, err := d.await(ctx)
		if err != nil {
			d.park(ctx, err)
			return
		}
		if blocked {
			return
		}

		if err := d.step(ctx, value); err != nil {
			d.park(ctx, err)
			return
		}

		if !d.persist(ctx) {
			return
		}

		if d.terminal {
			d.rec.handle.resolve(d.result, nil)
			return
		}
	}
}

// await checks the condition named by the current suspension.
//
// If the condition is met it returns the value to deliver at the resumption
// point. If it is not, blocked is true and a timer is armed for any
// time-based condition.
func (d *driver) await(ctx context.Context) (value dogma.Message, blocked bool, err error) {
	s := d.scheduler
	susp := d.cp.Suspension

	switch susp.Kind {
	case persistence.SuspendYield:
		if susp.Value.MediaType != "" {
			value, err = marshalkit.UnmarshalMessage(s.Marshaler, susp.Value)
			if err != nil {
				return nil, false, CheckpointCorruptionError{
					FlowID: d.cp.FlowID,
					Cause:  err,
				}
			}
		}

		return value, false, nil

	case persistence.SuspendReceive:
		env, ok := d.rec.peekPending(susp.SessionID, susp.Seq)
		if !ok {
			// The session is closed only once the awaited sequence number
			// reaches the closing envelope. Payloads that precede the close
			// may still arrive out of order.
			if seq, closed := d.rec.closed[susp.SessionID]; closed && susp.Seq >= seq {
				return nil, false, SessionClosedError{
					FlowID:    d.cp.FlowID,
					SessionID: susp.SessionID,
				}
			}

			if !d.cp.Deadline.IsZero() {
				if !time.Now().Before(d.cp.Deadline) {
					return nil, false, SessionTimeoutError{
						FlowID:    d.cp.FlowID,
						SessionID: susp.SessionID,
					}
				}

				s.armTimer(d.cp.Deadline, d.cp.FlowID)
			}

			return nil, true, nil
		}

		value, err = marshalkit.UnmarshalMessage(s.Marshaler, env.Packet)
		if err != nil {
			return nil, false, CheckpointCorruptionError{
				FlowID: d.cp.FlowID,
				Cause:  err,
			}
		}

		if sess := findSession(d.cp.Sessions, susp.SessionID); sess != nil {
			sess.NextRecvSeq = env.Seq + 1
		}

		d.consumed = &env
		mlog.LogConsume(s.Logger, &env)

		return value, false, nil

	case persistence.SuspendSleep:
		if time.Now().Before(susp.Until) {
			s.armTimer(susp.Until, d.cp.FlowID)
			return nil, true, nil
		}

		return nil, false, nil
	}

	return nil, false, CheckpointCorruptionError{
		FlowID: d.cp.FlowID,
		Cause:  fmt.Errorf("unrecognized suspension kind %#v", susp.Kind),
	}
}

// step executes one step of the innermost frame, then applies the resulting
// transition to the working checkpoint.
func (d *driver) step(ctx context.Context, value dogma.Message) error {
	s := d.scheduler
	frame := &d.cp.Frames[len(d.cp.Frames)-1]

	def, version, ok := s.Registry.Lookup(frame.Flow)
	if !ok {
		return fmt.Errorf("no flow is registered as %#v", frame.Flow)
	}

	if version != d.cp.Version {
		return VersionMismatchError{
			FlowID:            d.cp.FlowID,
			Flow:              frame.Flow,
			CheckpointVersion: d.cp.Version,
			RegisteredVersion: version,
		}
	}

	state, err := marshalkit.UnmarshalMessage(s.Marshaler, frame.State)
	if err != nil {
		return CheckpointCorruptionError{
			FlowID: d.cp.FlowID,
			Cause:  err,
		}
	}

	sc := &scope{driver: d}

	var tr flow.Transition

	if at := flow.Label(d.cp.Suspension.Resume); at == "" {
		tr, err = def.Begin(ctx, sc, state, value)
	} else {
		tr, err = def.Resume(ctx, sc, state, at, value)
	}
	if err != nil {
		return err
	}

	frame.State = marshalkit.MustMarshalMessage(s.Marshaler, state)

	if err := tr.AcceptVisitor(ctx, d); err != nil {
		return err
	}

	if !d.terminal {
		inner := &d.cp.Frames[len(d.cp.Frames)-1]
		inner.Resume = d.cp.Suspension.Resume

		if _, version, ok := s.Registry.Lookup(inner.Flow); ok {
			d.cp.Version = version
		}
	}

	return nil
}

// persist atomically commits the working checkpoint and the operations
// accumulated by the step.
//
// On success the working copy becomes the record's current state and any
// outgoing envelopes begin transmission. On failure the working copy is
// discarded; the flow re-executes the step on its next drive.
func (d *driver) persist(ctx context.Context) bool {
	s := d.scheduler

	if d.terminal {
		d.closeSessions()
		d.batch = append(d.batch, persistence.RemoveCheckpoint{
			Checkpoint: d.cp,
		})
	} else {
		d.batch = append(d.batch, persistence.SaveCheckpoint{
			Checkpoint: d.cp,
		})
	}

	res, err := s.DataStore.Persist(ctx, d.batch)
	if err != nil {
		logging.Log(
			s.Logger,
			"flow %s could not be checkpointed: %s",
			mlog.FormatID(d.cp.FlowID),
			err,
		)
		return false
	}

	if d.terminal {
		for _, sess := range d.cp.Sessions {
			s.sessions.Delete(sess.ID)
		}
		s.records.Delete(d.cp.FlowID)
	} else {
		d.cp.Revision = res.CheckpointRevisions[d.cp.FlowID]
		d.rec.cp = d.cp

		for _, sess := range d.cp.Sessions {
			s.sessions.Store(sess.ID, d.cp.FlowID)
		}

		mlog.LogSuspend(
			s.Logger,
			d.cp.FlowID,
			d.cp.Frames[0].Flow,
			describeSuspension(d.cp.Suspension),
		)
	}

	if d.consumed != nil {
		d.rec.dropPending(d.consumed.SessionID, d.consumed.Seq+1)
	}

	for _, env := range d.outgoing {
		s.transmit(ctx, env)
	}

	return true
}

// park fails the flow, closing its sessions and recording the cause so that
// an operator can intervene.
func (d *driver) park(ctx context.Context, cause error) {
	s := d.scheduler

	d.cp = cloneCheckpoint(d.rec.cp)
	d.batch = nil
	d.outgoing = nil

	d.cp.Status = persistence.StatusFailed
	d.cp.FailureMessage = cause.Error()

	d.closeSessions()
	d.batch = append(d.batch, persistence.SaveCheckpoint{
		Checkpoint: d.cp,
	})

	res, err := s.DataStore.Persist(ctx, d.batch)
	if err != nil {
		logging.Log(
			s.Logger,
			"flow %s could not be parked: %s",
			mlog.FormatID(d.cp.FlowID),
			err,
		)
		return
	}

	d.cp.Revision = res.CheckpointRevisions[d.cp.FlowID]
	d.rec.cp = d.cp

	for _, env := range d.outgoing {
		s.transmit(ctx, env)
	}

	mlog.LogParked(
		s.Logger,
		d.cp.FlowID,
		d.cp.Frames[0].Flow,
		cause,
	)

	d.rec.handle.resolve(nil, cause)
}

// closeSessions appends a closing envelope for each of the flow's sessions to
// the working batch.
func (d *driver) closeSessions() {
	for i := range d.cp.Sessions {
		sess := &d.cp.Sessions[i]

		env := session.Envelope{
			MetaData: session.MetaData{
				SessionID: sess.ID,
				Seq:       sess.NextSendSeq,
				FlowID:    d.cp.FlowID,
				Sender:    d.scheduler.Identity,
				Recipient: sess.Remote,
				Close:     true,
			},
		}
		sess.NextSendSeq++

		d.batch = append(d.batch, persistence.SaveOutboxMessage{Envelope: env})
		d.outgoing = append(d.outgoing, env)
	}
}

// send appends an envelope carrying payload to the working batch.
func (d *driver) send(sessionID string, payload dogma.Message) error {
	s := d.scheduler

	sess := findSession(d.cp.Sessions, sessionID)
	if sess == nil {
		return fmt.Errorf(
			"flow %s does not own session %s",
			d.cp.FlowID,
			sessionID,
		)
	}

	env := session.Envelope{
		MetaData: session.MetaData{
			SessionID: sess.ID,
			Seq:       sess.NextSendSeq,
			FlowID:    d.cp.FlowID,
			Sender:    s.Identity,
			Recipient: sess.Remote,
		},
		PortableName: marshalkit.MustMarshalType(
			s.Marshaler,
			reflect.TypeOf(payload),
		),
		Packet: marshalkit.MustMarshalMessage(s.Marshaler, payload),
	}

	if sess.Initiator && sess.NextSendSeq == 0 {
		env.Open = true
		env.FlowName = sess.FlowName
	}

	sess.NextSendSeq++

	d.batch = append(d.batch, persistence.SaveOutboxMessage{Envelope: env})
	d.outgoing = append(d.outgoing, env)

	return nil
}

// VisitSend sends the payload then leaves the flow immediately runnable.
func (d *driver) VisitSend(ctx context.Context, t flow.Send) error {
	if err := d.send(t.SessionID, t.Payload); err != nil {
		return err
	}

	d.cp.Suspension = persistence.Suspension{
		Kind:   persistence.SuspendYield,
		Resume: string(t.Resume),
	}

	return nil
}

// VisitReceive suspends the flow until the next envelope arrives on the
// session.
func (d *driver) VisitReceive(ctx context.Context, t flow.Receive) error {
	sess := findSession(d.cp.Sessions, t.SessionID)
	if sess == nil {
		return fmt.Errorf(
			"flow %s does not own session %s",
			d.cp.FlowID,
			t.SessionID,
		)
	}

	d.cp.Suspension = persistence.Suspension{
		Kind:      persistence.SuspendReceive,
		SessionID: t.SessionID,
		Seq:       sess.NextRecvSeq,
		Resume:    string(t.Resume),
	}

	return nil
}

// VisitSendAndReceive sends the payload then suspends the flow until the next
// envelope arrives on the same session.
func (d *driver) VisitSendAndReceive(ctx context.Context, t flow.SendAndReceive) error {
	if err := d.send(t.SessionID, t.Payload); err != nil {
		return err
	}

	sess := findSession(d.cp.Sessions, t.SessionID)

	d.cp.Suspension = persistence.Suspension{
		Kind:      persistence.SuspendReceive,
		SessionID: t.SessionID,
		Seq:       sess.NextRecvSeq,
		Resume:    string(t.Resume),
	}

	return nil
}

// VisitSleep suspends the flow until a specific time.
func (d *driver) VisitSleep(ctx context.Context, t flow.Sleep) error {
	d.cp.Suspension = persistence.Suspension{
		Kind:   persistence.SuspendSleep,
		Until:  t.Until,
		Resume: string(t.Resume),
	}

	return nil
}

// VisitCall pushes a frame for the sub-flow onto the call stack.
func (d *driver) VisitCall(ctx context.Context, t flow.Call) error {
	s := d.scheduler

	def, _, ok := s.Registry.Lookup(t.Flow)
	if !ok {
		return fmt.Errorf("no flow is registered as %#v", t.Flow)
	}

	d.cp.Frames[len(d.cp.Frames)-1].Resume = string(t.Resume)

	d.cp.Frames = append(d.cp.Frames, persistence.Frame{
		Flow:  t.Flow,
		State: marshalkit.MustMarshalMessage(s.Marshaler, def.New()),
	})

	susp := persistence.Suspension{
		Kind: persistence.SuspendYield,
	}

	if t.Args != nil {
		susp.Value = marshalkit.MustMarshalMessage(s.Marshaler, t.Args)
	}

	d.cp.Suspension = susp

	return nil
}

// VisitComplete pops the innermost frame, resuming the parent frame with the
// result, or ends the flow if the root frame completed.
func (d *driver) VisitComplete(ctx context.Context, t flow.Complete) error {
	n := len(d.cp.Frames)

	if n > 1 {
		parent := d.cp.Frames[n-2]

		susp := persistence.Suspension{
			Kind:   persistence.SuspendYield,
			Resume: parent.Resume,
		}

		if t.Result != nil {
			susp.Value = marshalkit.MustMarshalMessage(
				d.scheduler.Marshaler,
				t.Result,
			)
		}

		d.cp.Frames = d.cp.Frames[:n-1]
		d.cp.Suspension = susp

		return nil
	}

	d.terminal = true
	d.result = t.Result

	return nil
}

// describeSuspension renders a suspension for log output.
func describeSuspension(susp persistence.Suspension) string {
	switch susp.Kind {
	case persistence.SuspendReceive:
		return fmt.Sprintf(
			"awaiting envelope %d on session %s",
			susp.Seq,
			mlog.FormatID(susp.SessionID),
		)

	case persistence.SuspendSleep:
		return fmt.Sprintf(
			"sleeping until %s",
			susp.Until.Format(time.RFC3339),
		)

	default:
		return "checkpointed"
	}
}
