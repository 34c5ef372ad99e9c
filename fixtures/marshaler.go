package fixtures

import (
	"reflect"

	"github.com/dogmatiq/attest"
	"github.com/dogmatiq/marshalkit"
)

// Marshaler is a marshaler with the engine's wire types and the fixture types
// in this package pre-registered.
var Marshaler marshalkit.Marshaler = attest.NewDefaultMarshaler(
	reflect.TypeOf(&FlowState{}),
	reflect.TypeOf(&Payload{}),
)
