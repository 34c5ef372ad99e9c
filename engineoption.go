package attest

import (
	"reflect"
	"runtime"
	"time"

	"github.com/dogmatiq/attest/flow"
	"github.com/dogmatiq/attest/notary"
	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/persistence/provider/boltdb"
	"github.com/dogmatiq/attest/raft"
	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/configkit"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/dogma"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/marshalkit"
	"github.com/dogmatiq/marshalkit/codec"
	"github.com/dogmatiq/marshalkit/codec/json"
)

var (
	// DefaultPersistenceProvider is the default persistence provider.
	//
	// It is overridden by the WithPersistence() option.
	DefaultPersistenceProvider persistence.Provider = &boltdb.FileProvider{
		Path: "/var/run/attest.boltdb",
	}

	// DefaultMessageBackoff is the default backoff strategy for envelope
	// delivery retries.
	//
	// It is overridden by the WithMessageBackoff() option.
	DefaultMessageBackoff backoff.Strategy = backoff.WithTransforms(
		backoff.Exponential(100*time.Millisecond),
		linger.FullJitter,
		linger.Limiter(0, 1*time.Minute),
	)

	// DefaultConcurrencyLimit is the default number of flow steps to execute
	// concurrently.
	//
	// It is overridden by the WithConcurrencyLimit() option.
	DefaultConcurrencyLimit = uint(runtime.GOMAXPROCS(0) * 2)

	// DefaultCompactionInterval is the default interval at which the engine
	// compacts the consensus node's log.
	//
	// It is overridden by the WithCompactionInterval() option.
	DefaultCompactionInterval = 1 * time.Minute

	// DefaultLogger is the default target for log messages produced by the
	// engine.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = logging.DefaultLogger
)

// EngineOption configures the behavior of an engine.
type EngineOption func(*engineOptions)

// WithIdentity returns an engine option that sets the identity of the party
// hosted by the engine.
//
// This option is required.
func WithIdentity(id configkit.Identity) EngineOption {
	return func(opts *engineOptions) {
		opts.Identity = id
	}
}

// WithPersistence returns an engine option that sets the persistence provider
// used to store checkpoints and unacknowledged envelopes.
//
// If this option is omitted or p is nil, DefaultPersistenceProvider is used.
func WithPersistence(p persistence.Provider) EngineOption {
	return func(opts *engineOptions) {
		opts.PersistenceProvider = p
	}
}

// WithExchange returns an engine option that sets the exchange used to
// deliver envelopes to remote parties.
//
// If x is a *session.MemoryExchange the engine registers itself as the
// endpoint for its own identity when it starts.
//
// If this option is omitted or x is nil, a process-local MemoryExchange is
// used.
func WithExchange(x session.Exchange) EngineOption {
	return func(opts *engineOptions) {
		opts.Exchange = x
	}
}

// WithFlow returns an engine option that registers a flow definition under
// the given name.
//
// version identifies the revision of the definition; a checkpoint is only
// resumed by a definition with a matching version.
func WithFlow(name string, d flow.Definition, version string) EngineOption {
	return func(opts *engineOptions) {
		opts.Flows = append(opts.Flows, flowRegistration{name, d, version})
	}
}

// WithResponder returns an engine option that nominates a registered flow to
// respond to sessions opened by remote flows with the given initiator name.
//
// If multiple responders are registered for the same initiator, the one with
// the highest priority is used.
func WithResponder(initiator, name string, priority int) EngineOption {
	return func(opts *engineOptions) {
		opts.Responders = append(
			opts.Responders,
			responderRegistration{initiator, name, priority},
		)
	}
}

// WithNode returns an engine option that makes the party a member of the
// notary cluster.
//
// The engine supplies the node's state machine, runs the node's consensus
// protocol, compacts its log, and registers the notary service flow as the
// responder for notarization sessions. The WithSigner() option must also be
// specified.
func WithNode(n *raft.Node) EngineOption {
	return func(opts *engineOptions) {
		opts.Node = n
	}
}

// WithSigner returns an engine option that sets the signer used by the notary
// service to produce certificate signatures.
//
// It is required when WithNode() is specified, and has no effect otherwise.
func WithSigner(s notary.Signer) EngineOption {
	return func(opts *engineOptions) {
		opts.Signer = s
	}
}

// WithCompactionInterval returns an engine option that sets the interval at
// which the engine compacts the consensus node's log.
//
// If this option is omitted or d is zero DefaultCompactionInterval is used.
func WithCompactionInterval(d time.Duration) EngineOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *engineOptions) {
		opts.CompactionInterval = d
	}
}

// WithMessageBackoff returns an engine option that sets the backoff strategy
// used to delay envelope delivery retries.
//
// If this option is omitted or s is nil DefaultMessageBackoff is used.
func WithMessageBackoff(s backoff.Strategy) EngineOption {
	return func(opts *engineOptions) {
		opts.MessageBackoff = s
	}
}

// WithConcurrencyLimit returns an engine option that limits the number of
// flow steps that will be executed at the same time.
//
// If this option is omitted or n is non-positive DefaultConcurrencyLimit is
// used.
func WithConcurrencyLimit(n uint) EngineOption {
	return func(opts *engineOptions) {
		opts.ConcurrencyLimit = n
	}
}

// WithMessageTypes returns an engine option that registers the types of the
// given values with the default marshaler.
//
// Flow state and payload types must be registered so that they can be
// captured in checkpoints and envelopes. It has no effect if the
// WithMarshaler() option is specified.
func WithMessageTypes(values ...dogma.Message) EngineOption {
	return func(opts *engineOptions) {
		for _, v := range values {
			opts.MessageTypes = append(opts.MessageTypes, reflect.TypeOf(v))
		}
	}
}

// NewDefaultMarshaler returns the default marshaler, with the given types
// registered in addition to the engine's own wire types.
//
// It is used if the WithMarshaler() option is omitted.
func NewDefaultMarshaler(types ...reflect.Type) marshalkit.Marshaler {
	m, err := codec.NewMarshaler(
		append(
			[]reflect.Type{
				reflect.TypeOf(&flow.ResponderArgs{}),
				reflect.TypeOf(&notary.NotarizationRequest{}),
				reflect.TypeOf(&notary.NotarizationResponse{}),
				reflect.TypeOf(&notary.ServiceState{}),
				reflect.TypeOf(&notary.ClientState{}),
			},
			types...,
		),
		[]codec.Codec{
			&json.Codec{},
		},
	)
	if err != nil {
		panic(err)
	}

	return m
}

// WithMarshaler returns an engine option that sets the marshaler used to
// marshal and unmarshal flow state and envelope payloads.
//
// If this option is omitted or m is nil, NewDefaultMarshaler() is called to
// obtain the default marshaler.
func WithMarshaler(m marshalkit.Marshaler) EngineOption {
	return func(opts *engineOptions) {
		opts.Marshaler = m
	}
}

// WithLogger returns an engine option that sets the target for log messages
// produced by the engine.
//
// If this option is omitted or l is nil DefaultLogger is used.
func WithLogger(l logging.Logger) EngineOption {
	return func(opts *engineOptions) {
		opts.Logger = l
	}
}

type flowRegistration struct {
	Name       string
	Definition flow.Definition
	Version    string
}

type responderRegistration struct {
	Initiator string
	Name      string
	Priority  int
}

// engineOptions is a container for a fully-resolved set of engine options.
type engineOptions struct {
	Identity            configkit.Identity
	PersistenceProvider persistence.Provider
	Exchange            session.Exchange
	Flows               []flowRegistration
	Responders          []responderRegistration
	Node                *raft.Node
	Signer              notary.Signer
	CompactionInterval  time.Duration
	MessageBackoff      backoff.Strategy
	ConcurrencyLimit    uint
	MessageTypes        []reflect.Type
	Marshaler           marshalkit.Marshaler
	Logger              logging.Logger
}

// resolveEngineOptions returns a fully-populated set of engine options built
// from the given set of option functions.
func resolveEngineOptions(options ...EngineOption) *engineOptions {
	opts := &engineOptions{}

	for _, o := range options {
		o(opts)
	}

	if opts.Identity.Key == "" {
		panic("no identity configured, see attest.WithIdentity()")
	}

	if opts.PersistenceProvider == nil {
		opts.PersistenceProvider = DefaultPersistenceProvider
	}

	if opts.Exchange == nil {
		opts.Exchange = &session.MemoryExchange{}
	}

	if opts.Node != nil && opts.Signer == nil {
		panic("no signer configured for the notary service, see attest.WithSigner()")
	}

	if opts.CompactionInterval == 0 {
		opts.CompactionInterval = DefaultCompactionInterval
	}

	if opts.MessageBackoff == nil {
		opts.MessageBackoff = DefaultMessageBackoff
	}

	if opts.ConcurrencyLimit == 0 {
		opts.ConcurrencyLimit = DefaultConcurrencyLimit
	}

	if opts.Marshaler == nil {
		opts.Marshaler = NewDefaultMarshaler(opts.MessageTypes...)
	}

	if opts.Logger == nil {
		opts.Logger = DefaultLogger
	}

	return opts
}
