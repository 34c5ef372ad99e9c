package uniqueness

import (
	"encoding/json"
)

// Command is a replicated command that atomically consumes a set of state
// references on behalf of a transaction.
type Command struct {
	// TransactionID is the ID of the consuming transaction. It also serves as
	// the command's idempotency key: re-applying a command with the same
	// transaction ID returns the original outcome.
	TransactionID string

	// Refs are the state references to consume.
	Refs []StateRef
}

// Outcome is the result of applying a Command.
//
// A rejected command is a normal outcome variant, not an error.
type Outcome struct {
	// Committed is true if every reference in the command was recorded as
	// consumed by the command's transaction.
	Committed bool

	// Conflicts describes the references that were already consumed by other
	// transactions. It is empty when Committed is true.
	Conflicts []Conflict

	// Error describes a malformed command. It is empty otherwise.
	Error string
}

// MarshalCommand marshals a command to its wire representation.
func MarshalCommand(c Command) ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCommand unmarshals a command from its wire representation.
func UnmarshalCommand(data []byte) (Command, error) {
	var c Command
	err := json.Unmarshal(data, &c)
	return c, err
}

// MarshalOutcome marshals an outcome to its wire representation.
func MarshalOutcome(o Outcome) ([]byte, error) {
	return json.Marshal(o)
}

// UnmarshalOutcome unmarshals an outcome from its wire representation.
func UnmarshalOutcome(data []byte) (Outcome, error) {
	var o Outcome
	err := json.Unmarshal(data, &o)
	return o, err
}
