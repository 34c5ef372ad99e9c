package raft

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dogmatiq/attest/internal/x/bboltx"
	"go.etcd.io/bbolt"
)

var (
	// logBucketKey is the key for the bucket containing log entries.
	//
	// The keys are entry indexes, marshaled as big-endian uint64. The values
	// are Entry values marshaled using JSON.
	logBucketKey = []byte("log")

	// stateBucketKey is the key for the bucket containing the node's durable
	// term and vote.
	stateBucketKey = []byte("state")

	// snapshotBucketKey is the key for the bucket containing the node's most
	// recent snapshot.
	snapshotBucketKey = []byte("snapshot")

	termKey     = []byte("term")
	votedForKey = []byte("votedFor")
	snapshotKey = []byte("snapshot")
)

// BoltStore is an implementation of LogStore and StableStore that persists a
// node's consensus state to a BoltDB database.
type BoltStore struct {
	db   *bbolt.DB
	root []byte
}

// NewBoltStore returns a BoltStore that stores consensus state in the given
// database.
//
// k is the identity key of the node, used to namespace the stored state.
func NewBoltStore(db *bbolt.DB, k string) *BoltStore {
	return &BoltStore{
		db:   db,
		root: []byte("raft." + k),
	}
}

// FirstIndex returns the index of the first entry in the log. It returns zero
// if the log is empty.
func (s *BoltStore) FirstIndex() (_ uint64, err error) {
	defer bboltx.Recover(&err)

	var index uint64

	bboltx.View(
		s.db,
		func(tx *bbolt.Tx) {
			if b, ok := bboltx.TryBucket(tx, s.root, logBucketKey); ok {
				if k, _ := b.Cursor().First(); k != nil {
					index = unmarshalIndex(k)
				}
			}
		},
	)

	return index, nil
}

// LastIndex returns the index of the last entry in the log. It returns zero
// if the log is empty.
func (s *BoltStore) LastIndex() (_ uint64, err error) {
	defer bboltx.Recover(&err)

	var index uint64

	bboltx.View(
		s.db,
		func(tx *bbolt.Tx) {
			if b, ok := bboltx.TryBucket(tx, s.root, logBucketKey); ok {
				if k, _ := b.Cursor().Last(); k != nil {
					index = unmarshalIndex(k)
				}
			}
		},
	)

	return index, nil
}

// Entry returns the entry at the given index.
func (s *BoltStore) Entry(index uint64) (e Entry, ok bool, err error) {
	defer bboltx.Recover(&err)

	bboltx.View(
		s.db,
		func(tx *bbolt.Tx) {
			data := bboltx.GetPath(tx, s.root, logBucketKey, marshalIndex(index))
			if data == nil {
				return
			}

			e = unmarshalEntry(data)
			ok = true
		},
	)

	return e, ok, nil
}

// Entries returns the entries with indexes in the range [lo, hi], inclusive.
func (s *BoltStore) Entries(lo, hi uint64) (entries []Entry, err error) {
	defer bboltx.Recover(&err)

	bboltx.View(
		s.db,
		func(tx *bbolt.Tx) {
			b, ok := bboltx.TryBucket(tx, s.root, logBucketKey)
			if !ok {
				return
			}

			for x := lo; x <= hi; x++ {
				data := b.Get(marshalIndex(x))
				if data == nil {
					return
				}

				entries = append(entries, unmarshalEntry(data))
			}
		},
	)

	return entries, nil
}

// Append appends entries to the log.
func (s *BoltStore) Append(entries []Entry) (err error) {
	defer bboltx.Recover(&err)

	bboltx.Update(
		s.db,
		func(tx *bbolt.Tx) {
			b := bboltx.CreateBucketIfNotExists(tx, s.root, logBucketKey)

			for _, e := range entries {
				data, err := json.Marshal(e)
				bboltx.Must(err)

				bboltx.Put(b, marshalIndex(e.Index), data)
			}
		},
	)

	return nil
}

// TruncateAfter removes all entries with an index greater than the given
// index.
func (s *BoltStore) TruncateAfter(index uint64) (err error) {
	defer bboltx.Recover(&err)

	bboltx.Update(
		s.db,
		func(tx *bbolt.Tx) {
			b, ok := bboltx.TryBucket(tx, s.root, logBucketKey)
			if !ok {
				return
			}

			c := b.Cursor()
			for k, _ := c.Last(); k != nil; k, _ = c.Last() {
				if unmarshalIndex(k) <= index {
					return
				}

				bboltx.Must(c.Delete())
			}
		},
	)

	return nil
}

// TruncateBefore removes all entries with an index lower than the given
// index.
func (s *BoltStore) TruncateBefore(index uint64) (err error) {
	defer bboltx.Recover(&err)

	bboltx.Update(
		s.db,
		func(tx *bbolt.Tx) {
			b, ok := bboltx.TryBucket(tx, s.root, logBucketKey)
			if !ok {
				return
			}

			c := b.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.First() {
				if unmarshalIndex(k) >= index {
					return
				}

				bboltx.Must(c.Delete())
			}
		},
	)

	return nil
}

// SetState persists the node's current term and the candidate it voted for in
// that term.
func (s *BoltStore) SetState(term uint64, votedFor string) (err error) {
	defer bboltx.Recover(&err)

	bboltx.Update(
		s.db,
		func(tx *bbolt.Tx) {
			b := bboltx.CreateBucketIfNotExists(tx, s.root, stateBucketKey)

			bboltx.Put(b, termKey, marshalIndex(term))
			bboltx.Put(b, votedForKey, []byte(votedFor))
		},
	)

	return nil
}

// State returns the most recently persisted term and vote.
func (s *BoltStore) State() (term uint64, votedFor string, err error) {
	defer bboltx.Recover(&err)

	bboltx.View(
		s.db,
		func(tx *bbolt.Tx) {
			b, ok := bboltx.TryBucket(tx, s.root, stateBucketKey)
			if !ok {
				return
			}

			if data := b.Get(termKey); data != nil {
				term = unmarshalIndex(data)
			}

			votedFor = string(b.Get(votedForKey))
		},
	)

	return term, votedFor, nil
}

// SetSnapshot persists a snapshot, replacing any existing snapshot.
func (s *BoltStore) SetSnapshot(snap Snapshot) (err error) {
	defer bboltx.Recover(&err)

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	bboltx.Update(
		s.db,
		func(tx *bbolt.Tx) {
			bboltx.PutPath(tx, data, s.root, snapshotBucketKey, snapshotKey)
		},
	)

	return nil
}

// Snapshot returns the most recently persisted snapshot.
func (s *BoltStore) Snapshot() (snap Snapshot, ok bool, err error) {
	defer bboltx.Recover(&err)

	bboltx.View(
		s.db,
		func(tx *bbolt.Tx) {
			data := bboltx.GetPath(tx, s.root, snapshotBucketKey, snapshotKey)
			if data == nil {
				return
			}

			bboltx.Must(json.Unmarshal(data, &snap))
			ok = true
		},
	)

	return snap, ok, nil
}

// marshalIndex marshals a log index to a big-endian byte-slice.
func marshalIndex(index uint64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, index)
	return data
}

// unmarshalIndex unmarshals a log index from a big-endian byte-slice.
func unmarshalIndex(data []byte) uint64 {
	if len(data) != 8 {
		bboltx.Must(fmt.Errorf("data is corrupt, expected 8 bytes, got %d", len(data)))
	}

	return binary.BigEndian.Uint64(data)
}

// unmarshalEntry unmarshals a log entry from its JSON representation.
func unmarshalEntry(data []byte) Entry {
	var e Entry
	bboltx.Must(json.Unmarshal(data, &e))

	return e
}
