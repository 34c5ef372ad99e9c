package scheduler

import (
	"github.com/dogmatiq/attest/internal/mlog"
	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/configkit"
)

// scope is the flow.Scope passed to flow steps.
type scope struct {
	driver *driver
}

func (sc *scope) FlowID() string {
	return sc.driver.cp.FlowID
}

func (sc *scope) Party() configkit.Identity {
	return sc.driver.scheduler.Identity
}

// OpenSession opens a new session with the party identified by remote.
//
// The session ID is derived from the flow ID and the number of sessions the
// flow has opened, so a step that is re-executed after a crash opens the same
// session it opened before the crash.
func (sc *scope) OpenSession(remote configkit.Identity) (string, error) {
	d := sc.driver

	n := 0
	for _, sess := range d.cp.Sessions {
		if sess.Initiator {
			n++
		}
	}

	id := session.GenerateID(d.cp.FlowID, n)

	d.cp.Sessions = append(d.cp.Sessions, session.Session{
		ID:        id,
		FlowID:    d.cp.FlowID,
		FlowName:  d.cp.Frames[0].Flow,
		Remote:    remote,
		Initiator: true,
	})

	return id, nil
}

func (sc *scope) Log(f string, v ...interface{}) {
	d := sc.driver

	mlog.LogFromFlow(
		d.scheduler.Logger,
		d.cp.FlowID,
		d.cp.Frames[len(d.cp.Frames)-1].Flow,
		f,
		v,
	)
}
