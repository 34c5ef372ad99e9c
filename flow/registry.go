package flow

import (
	"fmt"
	"sync"

	"github.com/dogmatiq/dodeca/logging"
)

// Registry is a collection of flow definitions hosted by an engine, and the
// responders used to accept remotely opened sessions.
type Registry struct {
	// Logger is the target for warnings about ambiguous responder
	// registrations. If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m          sync.RWMutex
	flows      map[string]registration
	responders map[string][]responder
}

type registration struct {
	def     Definition
	version string
}

type responder struct {
	name     string
	priority int
}

// Register adds a flow definition to the registry under the given name.
//
// version identifies the revision of the definition. It is captured in each
// checkpoint the flow produces, and a checkpoint is only resumed by a
// definition with a matching version.
//
// It panics if a definition is already registered under the same name.
func (r *Registry) Register(name string, d Definition, version string) {
	if name == "" {
		panic("flow name must not be empty")
	}

	if d == nil {
		panic("flow definition must not be nil")
	}

	r.m.Lock()
	defer r.m.Unlock()

	if _, ok := r.flows[name]; ok {
		panic(fmt.Sprintf(
			"a flow is already registered as %#v",
			name,
		))
	}

	if r.flows == nil {
		r.flows = map[string]registration{}
	}

	r.flows[name] = registration{d, version}
}

// Lookup returns the definition registered under the given name, and its
// version.
//
// ok is false if no definition is registered under that name.
func (r *Registry) Lookup(name string) (d Definition, version string, ok bool) {
	r.m.RLock()
	defer r.m.RUnlock()

	reg, ok := r.flows[name]
	return reg.def, reg.version, ok
}

// RegisterResponder nominates a registered flow to respond to sessions opened
// by remote flows with the given initiator name.
//
// The responder flow is started with a ResponderArgs argument when such a
// session is opened. If multiple responders are registered for the same
// initiator, the one with the highest priority is used.
//
// It panics if no flow is registered under name.
func (r *Registry) RegisterResponder(initiator, name string, priority int) {
	r.m.Lock()
	defer r.m.Unlock()

	if _, ok := r.flows[name]; !ok {
		panic(fmt.Sprintf(
			"no flow is registered as %#v",
			name,
		))
	}

	if r.responders == nil {
		r.responders = map[string][]responder{}
	}

	r.responders[initiator] = append(
		r.responders[initiator],
		responder{name, priority},
	)
}

// ResolveResponder returns the name of the flow nominated to respond to
// sessions opened by remote flows with the given initiator name.
//
// If multiple responders are registered with equal priority, the one that was
// registered first is used and a warning is logged.
//
// ok is false if no responder is registered for the initiator.
func (r *Registry) ResolveResponder(initiator string) (name string, ok bool) {
	r.m.RLock()
	defer r.m.RUnlock()

	candidates := r.responders[initiator]
	if len(candidates) == 0 {
		return "", false
	}

	best := candidates[0]
	ambiguous := false

	for _, c := range candidates[1:] {
		if c.priority > best.priority {
			best = c
			ambiguous = false
		} else if c.priority == best.priority {
			ambiguous = true
		}
	}

	if ambiguous {
		logging.Log(
			r.Logger,
			"multiple responders are registered for %#v with priority %d, using %#v",
			initiator,
			best.priority,
			best.name,
		)
	}

	return best.name, true
}
