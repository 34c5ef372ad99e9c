package uniqueness

import (
	"encoding/json"
	"sync"
)

// Table is the authoritative record of which transaction first consumed each
// state reference.
//
// It is the state machine replicated by the consensus module: it is mutated
// only by applying committed commands in log order, so every cluster member
// materializes the same table.
type Table struct {
	m        sync.RWMutex
	records  map[StateRef]CommitRecord
	outcomes map[string]Outcome
}

// Apply applies a committed command to the table and returns its marshaled
// outcome.
//
// Commands are applied all-or-nothing: if any reference in the command is
// already consumed by a different transaction, no reference is recorded and
// the outcome names every conflicting reference and its first consumer.
//
// index is the log index of the entry that carried the command.
func (t *Table) Apply(index uint64, cmd []byte) []byte {
	t.m.Lock()
	defer t.m.Unlock()

	c, err := UnmarshalCommand(cmd)
	if err != nil {
		return mustMarshalOutcome(Outcome{
			Error: err.Error(),
		})
	}

	// Duplicate submission of an already-applied transaction returns the
	// original outcome, not a new conflict or a second commit.
	if o, ok := t.outcomes[c.TransactionID]; ok {
		return mustMarshalOutcome(o)
	}

	var conflicts []Conflict

	for _, ref := range c.Refs {
		if rec, ok := t.records[ref]; ok && rec.TransactionID != c.TransactionID {
			conflicts = append(conflicts, Conflict{
				Ref:   ref,
				Owner: rec.TransactionID,
			})
		}
	}

	o := Outcome{
		Committed: len(conflicts) == 0,
		Conflicts: conflicts,
	}

	if o.Committed {
		if t.records == nil {
			t.records = map[StateRef]CommitRecord{}
		}

		for _, ref := range c.Refs {
			t.records[ref] = CommitRecord{
				Ref:           ref,
				TransactionID: c.TransactionID,
				CommitIndex:   index,
			}
		}
	}

	if t.outcomes == nil {
		t.outcomes = map[string]Outcome{}
	}
	t.outcomes[c.TransactionID] = o

	return mustMarshalOutcome(o)
}

// Record returns the commit record for the given state reference.
//
// ok is false if the reference has not been consumed.
func (t *Table) Record(ref StateRef) (rec CommitRecord, ok bool) {
	t.m.RLock()
	defer t.m.RUnlock()

	rec, ok = t.records[ref]
	return rec, ok
}

// tableSnapshot is the serialized form of a Table.
type tableSnapshot struct {
	Records  map[string]CommitRecord
	Outcomes map[string]Outcome
}

// Snapshot returns an opaque serialization of the table's current state.
func (t *Table) Snapshot() ([]byte, error) {
	t.m.RLock()
	defer t.m.RUnlock()

	snap := tableSnapshot{
		Records:  map[string]CommitRecord{},
		Outcomes: map[string]Outcome{},
	}

	for ref, rec := range t.records {
		snap.Records[ref.String()] = rec
	}

	for id, o := range t.outcomes {
		snap.Outcomes[id] = o
	}

	return json.Marshal(snap)
}

// Restore replaces the table's state with a snapshot previously produced by
// Snapshot().
func (t *Table) Restore(data []byte) error {
	var snap tableSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	t.m.Lock()
	defer t.m.Unlock()

	t.records = map[StateRef]CommitRecord{}
	t.outcomes = map[string]Outcome{}

	for _, rec := range snap.Records {
		t.records[rec.Ref] = rec
	}

	for id, o := range snap.Outcomes {
		t.outcomes[id] = o
	}

	return nil
}

func mustMarshalOutcome(o Outcome) []byte {
	data, err := MarshalOutcome(o)
	if err != nil {
		panic(err)
	}

	return data
}
