package raft

import (
	"sync"
)

// MemoryStore is an implementation of LogStore and StableStore that keeps a
// node's consensus state in memory.
//
// It does not survive a process restart, and is intended for tests and
// single-process clusters.
type MemoryStore struct {
	m        sync.RWMutex
	entries  []Entry
	term     uint64
	votedFor string
	snap     Snapshot
	hasSnap  bool
}

// FirstIndex returns the index of the first entry in the log. It returns zero
// if the log is empty.
func (s *MemoryStore) FirstIndex() (uint64, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	if len(s.entries) == 0 {
		return 0, nil
	}

	return s.entries[0].Index, nil
}

// LastIndex returns the index of the last entry in the log. It returns zero
// if the log is empty.
func (s *MemoryStore) LastIndex() (uint64, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	if len(s.entries) == 0 {
		return 0, nil
	}

	return s.entries[len(s.entries)-1].Index, nil
}

// Entry returns the entry at the given index.
func (s *MemoryStore) Entry(index uint64) (Entry, bool, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	i, ok := s.offset(index)
	if !ok {
		return Entry{}, false, nil
	}

	return s.entries[i], true, nil
}

// Entries returns the entries with indexes in the range [lo, hi], inclusive.
func (s *MemoryStore) Entries(lo, hi uint64) ([]Entry, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	var entries []Entry

	for x := lo; x <= hi; x++ {
		i, ok := s.offset(x)
		if !ok {
			break
		}

		entries = append(entries, s.entries[i])
	}

	return entries, nil
}

// Append appends entries to the log.
func (s *MemoryStore) Append(entries []Entry) error {
	s.m.Lock()
	defer s.m.Unlock()

	s.entries = append(s.entries, entries...)

	return nil
}

// TruncateAfter removes all entries with an index greater than the given
// index.
func (s *MemoryStore) TruncateAfter(index uint64) error {
	s.m.Lock()
	defer s.m.Unlock()

	for i, e := range s.entries {
		if e.Index > index {
			s.entries = s.entries[:i]
			break
		}
	}

	return nil
}

// TruncateBefore removes all entries with an index lower than the given
// index.
func (s *MemoryStore) TruncateBefore(index uint64) error {
	s.m.Lock()
	defer s.m.Unlock()

	for i, e := range s.entries {
		if e.Index >= index {
			s.entries = append([]Entry{}, s.entries[i:]...)
			return nil
		}
	}

	s.entries = nil

	return nil
}

// SetState persists the node's current term and the candidate it voted for in
// that term.
func (s *MemoryStore) SetState(term uint64, votedFor string) error {
	s.m.Lock()
	defer s.m.Unlock()

	s.term = term
	s.votedFor = votedFor

	return nil
}

// State returns the most recently persisted term and vote.
func (s *MemoryStore) State() (uint64, string, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	return s.term, s.votedFor, nil
}

// SetSnapshot persists a snapshot, replacing any existing snapshot.
func (s *MemoryStore) SetSnapshot(snap Snapshot) error {
	s.m.Lock()
	defer s.m.Unlock()

	s.snap = snap
	s.hasSnap = true

	return nil
}

// Snapshot returns the most recently persisted snapshot.
func (s *MemoryStore) Snapshot() (Snapshot, bool, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	return s.snap, s.hasSnap, nil
}

// offset returns the position of the entry with the given index within
// s.entries.
func (s *MemoryStore) offset(index uint64) (int, bool) {
	if len(s.entries) == 0 {
		return 0, false
	}

	first := s.entries[0].Index
	if index < first {
		return 0, false
	}

	i := int(index - first)
	if i >= len(s.entries) {
		return 0, false
	}

	return i, true
}
