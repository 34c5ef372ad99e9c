package fixtures

import (
	"context"

	"github.com/dogmatiq/attest/session"
)

// ExchangeStub is a test implementation of the session.Exchange interface.
type ExchangeStub struct {
	session.Exchange

	DeliverFunc func(context.Context, session.Envelope) error
}

// Deliver delivers env to the party identified by env.Recipient.
func (x *ExchangeStub) Deliver(ctx context.Context, env session.Envelope) error {
	if x.DeliverFunc != nil {
		return x.DeliverFunc(ctx, env)
	}

	if x.Exchange != nil {
		return x.Exchange.Deliver(ctx, env)
	}

	return nil
}
