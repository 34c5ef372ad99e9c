package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/attest/internal/x/containerx/pdeque"
)

// timerQueue tracks the times at which suspended flows become runnable again,
// such as the expiry of a sleep or a receive deadline.
type timerQueue struct {
	m    sync.Mutex
	q    pdeque.Deque
	wake chan struct{}
}

// timer is an element on the timer queue.
type timer struct {
	at     time.Time
	flowID string
}

func (t timer) Less(e pdeque.Elem) bool {
	return t.at.Before(e.(timer).at)
}

// armTimer schedules the flow with the given ID to be activated at the given
// time.
func (s *Scheduler) armTimer(at time.Time, flowID string) {
	s.timers.m.Lock()
	front := s.timers.q.Push(timer{at, flowID})
	s.timers.m.Unlock()

	// Wake the timer loop if the next expiry moved closer.
	if front {
		select {
		case s.timers.wake <- struct{}{}:
		default:
		}
	}
}

// runTimers waits for timers to expire and activates the flows they refer to.
func (s *Scheduler) runTimers(ctx context.Context) error {
	for {
		s.timers.m.Lock()
		e, ok := s.timers.q.PeekFront()
		s.timers.m.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()

			case <-s.timers.wake:
			}

			continue
		}

		expiry := time.NewTimer(
			time.Until(e.(timer).at),
		)

		select {
		case <-ctx.Done():
			expiry.Stop()
			return ctx.Err()

		case <-s.timers.wake:
			expiry.Stop()

		case <-expiry.C:
			s.timers.m.Lock()

			now := time.Now()
			for {
				e, ok := s.timers.q.PeekFront()
				if !ok || e.(timer).at.After(now) {
					break
				}

				s.timers.q.PopFront()
				s.activate(e.(timer).flowID)
			}

			s.timers.m.Unlock()
		}
	}
}
