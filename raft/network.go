package raft

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Network is a Transport fabric that connects nodes hosted within the same
// process.
//
// It is used by tests and by single-process clusters. Individual nodes can be
// disconnected to simulate partitions and crashes.
type Network struct {
	m     sync.RWMutex
	nodes map[string]*Node
	down  map[string]struct{}
}

// Join registers a node with the network and returns the Transport the node
// should use to communicate with its peers.
func (nw *Network) Join(n *Node) Transport {
	nw.m.Lock()
	defer nw.m.Unlock()

	if nw.nodes == nil {
		nw.nodes = map[string]*Node{}
	}

	nw.nodes[n.ID] = n

	return &networkTransport{nw, n.ID}
}

// Disconnect isolates the node with the given ID. Any request sent to or from
// the node fails until it is reconnected.
func (nw *Network) Disconnect(id string) {
	nw.m.Lock()
	defer nw.m.Unlock()

	if nw.down == nil {
		nw.down = map[string]struct{}{}
	}

	nw.down[id] = struct{}{}
}

// Reconnect restores connectivity to the node with the given ID.
func (nw *Network) Reconnect(id string) {
	nw.m.Lock()
	defer nw.m.Unlock()

	delete(nw.down, id)
}

// dial returns the node with the given ID, if it is reachable from the node
// with the given source ID.
func (nw *Network) dial(from, to string) (*Node, error) {
	nw.m.RLock()
	defer nw.m.RUnlock()

	if _, ok := nw.down[from]; ok {
		return nil, errors.New("local node is disconnected")
	}

	if _, ok := nw.down[to]; ok {
		return nil, fmt.Errorf("%s is disconnected", to)
	}

	n, ok := nw.nodes[to]
	if !ok {
		return nil, fmt.Errorf("%s is not a member of the network", to)
	}

	return n, nil
}

// networkTransport is the Transport used by a single member of a Network.
type networkTransport struct {
	network *Network
	id      string
}

func (t *networkTransport) RequestVote(
	_ context.Context,
	id string,
	req RequestVoteRequest,
) (RequestVoteResponse, error) {
	n, err := t.network.dial(t.id, id)
	if err != nil {
		return RequestVoteResponse{}, err
	}

	return n.HandleRequestVote(req), nil
}

func (t *networkTransport) AppendEntries(
	_ context.Context,
	id string,
	req AppendEntriesRequest,
) (AppendEntriesResponse, error) {
	n, err := t.network.dial(t.id, id)
	if err != nil {
		return AppendEntriesResponse{}, err
	}

	return n.HandleAppendEntries(req), nil
}

func (t *networkTransport) InstallSnapshot(
	_ context.Context,
	id string,
	req InstallSnapshotRequest,
) (InstallSnapshotResponse, error) {
	n, err := t.network.dial(t.id, id)
	if err != nil {
		return InstallSnapshotResponse{}, err
	}

	return n.HandleInstallSnapshot(req), nil
}

func (t *networkTransport) Submit(
	ctx context.Context,
	id string,
	cmd []byte,
) ([]byte, error) {
	n, err := t.network.dial(t.id, id)
	if err != nil {
		return nil, err
	}

	return n.HandleSubmit(ctx, cmd)
}
