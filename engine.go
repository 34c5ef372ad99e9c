package attest

import (
	"context"

	"github.com/dogmatiq/attest/flow"
	"github.com/dogmatiq/attest/notary"
	"github.com/dogmatiq/attest/scheduler"
	"github.com/dogmatiq/attest/semaphore"
	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/attest/uniqueness"
	"github.com/dogmatiq/dogma"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Engine hosts a single notarizing party.
//
// It runs the party's flow scheduler and, if the party is a member of the
// notary cluster, its consensus node and the notary service flow.
type Engine struct {
	opts      *engineOptions
	registry  *flow.Registry
	table     *uniqueness.Table
	ready     chan struct{}
	scheduler *scheduler.Scheduler
}

// New returns a new engine.
func New(options ...EngineOption) *Engine {
	opts := resolveEngineOptions(options...)

	e := &Engine{
		opts: opts,
		registry: &flow.Registry{
			Logger: opts.Logger,
		},
		ready: make(chan struct{}),
	}

	for _, reg := range opts.Flows {
		e.registry.Register(reg.Name, reg.Definition, reg.Version)
	}

	if opts.Node != nil {
		e.table = &uniqueness.Table{}
		opts.Node.FSM = e.table

		e.registry.Register(
			notary.ServiceFlowName,
			&notary.Service{
				Node:   opts.Node,
				Signer: opts.Signer,
			},
			notary.Version,
		)

		e.registry.RegisterResponder(
			notary.ClientFlowName,
			notary.ServiceFlowName,
			0,
		)
	}

	for _, reg := range opts.Responders {
		e.registry.RegisterResponder(reg.Initiator, reg.Name, reg.Priority)
	}

	return e
}

// Run hosts the party until ctx is canceled or an error occurs.
func (e *Engine) Run(ctx context.Context) error {
	parent := ctx
	g, ctx := errgroup.WithContext(ctx)

	ds, err := e.opts.PersistenceProvider.Open(ctx, e.opts.Identity.Key)
	if err != nil {
		return err
	}

	e.scheduler = &scheduler.Scheduler{
		DataStore:       ds,
		Marshaler:       e.opts.Marshaler,
		Registry:        e.registry,
		Exchange:        e.opts.Exchange,
		Identity:        e.opts.Identity,
		Semaphore:       semaphore.New(int(e.opts.ConcurrencyLimit)),
		BackoffStrategy: e.opts.MessageBackoff,
		Logger:          e.opts.Logger,
	}

	if x, ok := e.opts.Exchange.(*session.MemoryExchange); ok {
		x.Register(e.opts.Identity, e.scheduler)
	}

	close(e.ready)

	g.Go(func() error {
		return e.scheduler.Run(ctx)
	})

	if e.opts.Node != nil {
		g.Go(func() error {
			return e.opts.Node.Run(ctx)
		})

		g.Go(func() error {
			return e.runCompactor(ctx)
		})
	}

	err = multierr.Append(
		g.Wait(),
		ds.Close(),
	)

	if parent.Err() != nil {
		return parent.Err()
	}

	return err
}

// Start begins executing a new instance of the flow registered under the
// given name.
//
// It blocks until the engine is running, then behaves as
// scheduler.Scheduler.Start().
func (e *Engine) Start(
	ctx context.Context,
	name string,
	args dogma.Message,
	options ...scheduler.StartOption,
) (*scheduler.Handle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.ready:
	}

	return e.scheduler.Start(ctx, name, args, options...)
}

// DeliverEnvelope delivers env to the flow that is awaiting it.
//
// It implements the session.Endpoint interface, allowing the engine to be
// registered with an exchange directly.
func (e *Engine) DeliverEnvelope(ctx context.Context, env session.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ready:
	}

	return e.scheduler.DeliverEnvelope(ctx, env)
}
