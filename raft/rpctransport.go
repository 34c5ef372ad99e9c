package raft

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"sync"
)

// SubmitRequest is the argument to the Submit RPC.
type SubmitRequest struct {
	// Command is the command being submitted.
	Command []byte
}

// SubmitResponse is the reply to the Submit RPC.
type SubmitResponse struct {
	// Outcome is the outcome of applying the command to the FSM.
	Outcome []byte

	// Unavailable is true if the receiving node knows of no leader to serve
	// the submission.
	Unavailable bool

	// NotLeader is true if the receiving node is not the leader.
	NotLeader bool

	// LeaderID is the receiving node's view of the current leader. It is
	// only meaningful when NotLeader is true, and is empty if no leader is
	// known.
	LeaderID string
}

// RPCServer exposes a node's consensus handlers to remote cluster members via
// net/rpc.
type RPCServer struct {
	// Node is the node that requests are dispatched to.
	Node *Node
}

// Serve accepts connections from l and services consensus RPCs until ctx is
// canceled or the listener fails.
func (s *RPCServer) Serve(ctx context.Context, l net.Listener) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Raft", s); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		go srv.ServeConn(conn)
	}
}

// RequestVote services a RequestVote RPC.
func (s *RPCServer) RequestVote(req *RequestVoteRequest, resp *RequestVoteResponse) error {
	*resp = s.Node.HandleRequestVote(*req)
	return nil
}

// AppendEntries services an AppendEntries RPC.
func (s *RPCServer) AppendEntries(req *AppendEntriesRequest, resp *AppendEntriesResponse) error {
	*resp = s.Node.HandleAppendEntries(*req)
	return nil
}

// InstallSnapshot services an InstallSnapshot RPC.
func (s *RPCServer) InstallSnapshot(req *InstallSnapshotRequest, resp *InstallSnapshotResponse) error {
	*resp = s.Node.HandleInstallSnapshot(*req)
	return nil
}

// Submit services a forwarded command submission.
func (s *RPCServer) Submit(req *SubmitRequest, resp *SubmitResponse) error {
	out, err := s.Node.HandleSubmit(context.Background(), req.Command)

	var hint NotLeaderError
	if errors.As(err, &hint) {
		resp.NotLeader = true
		resp.LeaderID = hint.LeaderID
		return nil
	}

	if errors.Is(err, ErrUnavailable) {
		resp.Unavailable = true
		return nil
	}

	if err != nil {
		return err
	}

	resp.Outcome = out
	return nil
}

// RPCTransport is an implementation of Transport that communicates with other
// cluster members via net/rpc.
type RPCTransport struct {
	// Addresses maps the ID of each cluster member to its network address.
	Addresses map[string]string

	m       sync.Mutex
	clients map[string]*rpc.Client
}

// RequestVote sends a RequestVote RPC to the node with the given ID.
func (t *RPCTransport) RequestVote(
	ctx context.Context,
	id string,
	req RequestVoteRequest,
) (RequestVoteResponse, error) {
	var resp RequestVoteResponse
	err := t.call(ctx, id, "Raft.RequestVote", &req, &resp)
	return resp, err
}

// AppendEntries sends an AppendEntries RPC to the node with the given ID.
func (t *RPCTransport) AppendEntries(
	ctx context.Context,
	id string,
	req AppendEntriesRequest,
) (AppendEntriesResponse, error) {
	var resp AppendEntriesResponse
	err := t.call(ctx, id, "Raft.AppendEntries", &req, &resp)
	return resp, err
}

// InstallSnapshot sends an InstallSnapshot RPC to the node with the given ID.
func (t *RPCTransport) InstallSnapshot(
	ctx context.Context,
	id string,
	req InstallSnapshotRequest,
) (InstallSnapshotResponse, error) {
	var resp InstallSnapshotResponse
	err := t.call(ctx, id, "Raft.InstallSnapshot", &req, &resp)
	return resp, err
}

// Submit forwards a command submission to the node with the given ID.
func (t *RPCTransport) Submit(
	ctx context.Context,
	id string,
	cmd []byte,
) ([]byte, error) {
	req := SubmitRequest{Command: cmd}

	var resp SubmitResponse
	if err := t.call(ctx, id, "Raft.Submit", &req, &resp); err != nil {
		return nil, err
	}

	if resp.NotLeader {
		return nil, NotLeaderError{LeaderID: resp.LeaderID}
	}

	if resp.Unavailable {
		return nil, ErrUnavailable
	}

	return resp.Outcome, nil
}

// call invokes a method on the node with the given ID, dialing a connection
// if one is not already established.
func (t *RPCTransport) call(
	ctx context.Context,
	id string,
	method string,
	args, reply interface{},
) error {
	c, err := t.client(id)
	if err != nil {
		return err
	}

	call := c.Go(method, args, reply, make(chan *rpc.Call, 1))

	select {
	case <-ctx.Done():
		return ctx.Err()

	case <-call.Done:
		if call.Error != nil {
			t.discard(id, c)
			return call.Error
		}
		return nil
	}
}

func (t *RPCTransport) client(id string) (*rpc.Client, error) {
	t.m.Lock()
	defer t.m.Unlock()

	if c, ok := t.clients[id]; ok {
		return c, nil
	}

	addr, ok := t.Addresses[id]
	if !ok {
		return nil, errors.New("no address is known for " + id)
	}

	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	if t.clients == nil {
		t.clients = map[string]*rpc.Client{}
	}

	t.clients[id] = c

	return c, nil
}

// discard drops a cached client after a failed call, so that the next call
// dials a fresh connection.
func (t *RPCTransport) discard(id string, c *rpc.Client) {
	t.m.Lock()
	defer t.m.Unlock()

	if t.clients[id] == c {
		delete(t.clients, id)
		c.Close()
	}
}
