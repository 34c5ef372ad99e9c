package scheduler

import (
	"context"
	"sync"

	"github.com/dogmatiq/dogma"
)

// Handle provides access to the result of a flow started by this process.
type Handle struct {
	id string

	once   sync.Once
	done   chan struct{}
	result dogma.Message
	err    error
}

func newHandle(id string) *Handle {
	return &Handle{
		id:   id,
		done: make(chan struct{}),
	}
}

// FlowID returns the ID of the flow instance.
func (h *Handle) FlowID() string {
	return h.id
}

// Await blocks until the flow reaches a terminal state, then returns its
// result or its failure.
func (h *Handle) Await(ctx context.Context) (dogma.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-h.done:
		return h.result, h.err
	}
}

// resolve records the flow's terminal outcome and wakes any waiters.
func (h *Handle) resolve(result dogma.Message, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}
