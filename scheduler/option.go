package scheduler

import (
	"time"
)

// StartOption configures the behavior of a flow started via Scheduler.Start().
type StartOption func(*startOptions)

type startOptions struct {
	Deadline time.Time
}

// WithDeadline is a StartOption that sets the time after which the flow's
// pending exchanges are considered abandoned.
//
// If the flow is awaiting an envelope when the deadline passes, it fails with
// a SessionTimeoutError.
func WithDeadline(t time.Time) StartOption {
	return func(opts *startOptions) {
		opts.Deadline = t
	}
}

func resolveStartOptions(options []StartOption) startOptions {
	var opts startOptions

	for _, o := range options {
		o(&opts)
	}

	return opts
}
