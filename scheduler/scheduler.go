package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dogmatiq/attest/flow"
	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/semaphore"
	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/configkit"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/dogma"
	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/marshalkit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Scheduler executes the flows hosted by a single party.
//
// It drives each flow from resumption point to suspension point, captures a
// checkpoint at each suspension, and resumes flows when the conditions they
// await are met. Flows survive process restarts: on startup the scheduler
// reloads every checkpoint from the data store and picks up where each flow
// left off.
type Scheduler struct {
	// DataStore is the store used to persist checkpoints and outbound
	// envelopes.
	DataStore persistence.DataStore

	// Marshaler is used to marshal flow state and envelope payloads.
	Marshaler marshalkit.Marshaler

	// Registry contains the flow definitions hosted by this party.
	Registry *flow.Registry

	// Exchange is used to deliver envelopes to remote parties.
	Exchange session.Exchange

	// Identity is the identity of the party that hosts this scheduler.
	Identity configkit.Identity

	// Semaphore limits the number of flow steps executed concurrently. The
	// zero-value imposes no limit.
	Semaphore semaphore.Semaphore

	// BackoffStrategy is the strategy used to delay between envelope delivery
	// attempts. If it is nil, backoff.DefaultStrategy is used.
	BackoffStrategy backoff.Strategy

	// Logger is the target for log messages about the flows that are executed.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	initOnce sync.Once
	work     chan string
	records  sync.Map // string -> *record
	sessions sync.Map // string -> flow ID
	outboxes sync.Map // string -> *outbox
	timers   timerQueue
}

func (s *Scheduler) init() {
	s.initOnce.Do(func() {
		s.work = make(chan string, 128)
		s.timers.wake = make(chan struct{}, 1)
	})
}

// Run executes flows until ctx is canceled or an error occurs.
//
// It restores any flows that were suspended when the scheduler last stopped,
// and resumes retransmission of any unacknowledged outbound envelopes.
func (s *Scheduler) Run(ctx context.Context) error {
	s.init()

	g, ctx := errgroup.WithContext(ctx)

	if err := s.restore(ctx); err != nil {
		return err
	}

	g.Go(func() error {
		return s.dispatch(ctx)
	})

	g.Go(func() error {
		return s.runTimers(ctx)
	})

	return g.Wait()
}

// Start begins executing a new instance of the flow registered under the given
// name.
//
// args is passed to the definition's Begin() method. It may be nil.
//
// The returned handle can be used to await the flow's result. The flow itself
// is durable; it continues to execute even if the handle is discarded, and
// even across a restart of the process.
func (s *Scheduler) Start(
	ctx context.Context,
	name string,
	args dogma.Message,
	options ...StartOption,
) (*Handle, error) {
	s.init()

	def, version, ok := s.Registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no flow is registered as %#v", name)
	}

	opts := resolveStartOptions(options)

	cp := persistence.Checkpoint{
		FlowID:  uuid.NewString(),
		Status:  persistence.StatusSuspended,
		Version: version,
		Frames: []persistence.Frame{
			{
				Flow:  name,
				State: marshalkit.MustMarshalMessage(s.Marshaler, def.New()),
			},
		},
		Suspension: persistence.Suspension{
			Kind: persistence.SuspendYield,
		},
		Deadline: opts.Deadline,
	}

	if args != nil {
		cp.Suspension.Value = marshalkit.MustMarshalMessage(s.Marshaler, args)
	}

	res, err := s.DataStore.Persist(
		ctx,
		persistence.Batch{
			persistence.SaveCheckpoint{Checkpoint: cp},
		},
	)
	if err != nil {
		return nil, err
	}
	cp.Revision = res.CheckpointRevisions[cp.FlowID]

	rec := s.registerRecord(cp)
	s.activate(cp.FlowID)

	return rec.handle, nil
}

// restore loads the suspended flows and unacknowledged envelopes persisted by
// a prior run.
func (s *Scheduler) restore(ctx context.Context) error {
	checkpoints, err := s.DataStore.LoadCheckpoints(ctx)
	if err != nil {
		return err
	}

	for _, cp := range checkpoints {
		rec := s.registerRecord(cp)

		if cp.Status == persistence.StatusSuspended {
			s.activate(cp.FlowID)
		} else {
			rec.handle.resolve(
				nil,
				errors.New(cp.FailureMessage),
			)
		}
	}

	envelopes, err := s.DataStore.LoadOutboxMessages(ctx)
	if err != nil {
		return err
	}

	for _, env := range envelopes {
		s.transmit(ctx, env)
	}

	return nil
}

// dispatch executes drives for activated flows, bounded by the semaphore.
func (s *Scheduler) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case id := <-s.work:
			if err := s.Semaphore.Acquire(ctx); err != nil {
				return err
			}

			go func() {
				defer s.Semaphore.Release()
				s.drive(ctx, id)
			}()
		}
	}
}

// activate marks the flow with the given ID as runnable.
func (s *Scheduler) activate(id string) {
	select {
	case s.work <- id:
	default:
		go func() {
			s.work <- id
		}()
	}
}

// drive executes the flow with the given ID until it blocks on an unmet
// condition or reaches a terminal state.
func (s *Scheduler) drive(ctx context.Context, id string) {
	v, ok := s.records.Load(id)
	if !ok {
		return
	}
	rec := v.(*record)

	if err := rec.m.Lock(ctx); err != nil {
		return
	}
	defer rec.m.Unlock()

	d := &driver{
		scheduler: s,
		rec:       rec,
	}

	d.run(ctx)
}

// registerRecord adds an in-memory record for the given checkpoint, and
// indexes its sessions.
//
// If a record already exists for the same flow it is returned unchanged.
func (s *Scheduler) registerRecord(cp persistence.Checkpoint) *record {
	rec := &record{
		cp:     cp,
		handle: newHandle(cp.FlowID),
	}

	if v, loaded := s.records.LoadOrStore(cp.FlowID, rec); loaded {
		return v.(*record)
	}

	for _, sess := range cp.Sessions {
		s.sessions.Store(sess.ID, cp.FlowID)
	}

	return rec
}

// backoff returns the strategy used to delay between envelope delivery
// attempts.
func (s *Scheduler) backoff() backoff.Strategy {
	if s.BackoffStrategy != nil {
		return s.BackoffStrategy
	}

	return backoff.DefaultStrategy
}
