package raft

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when a command can not be submitted because no
// leader is known to the cluster.
//
// It is a transient condition; the caller is expected to retry with backoff
// once an election has completed.
var ErrUnavailable = errors.New("no consensus leader is available")

// NotLeaderError is returned by a node that receives a request it can only
// serve as the leader.
type NotLeaderError struct {
	// LeaderID is the ID of the node believed to be the current leader. It is
	// empty if no leader is known.
	LeaderID string
}

func (e NotLeaderError) Error() string {
	if e.LeaderID == "" {
		return "this node is not the leader, and no leader is known"
	}

	return fmt.Sprintf(
		"this node is not the leader, try %s",
		e.LeaderID,
	)
}
