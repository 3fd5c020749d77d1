package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/gridcore/pkg/txn"
)

// DialPrimary opens a gRPC connection to a remote primary at addr using
// the JSON codec in place of generated protobuf marshalling (see
// codec.go). Additional opts are appended after the codec selection, so
// callers can still add transport credentials or interceptors.
func DialPrimary(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	}, opts...)
	return grpc.NewClient(addr, dialOpts...)
}

// RemotePrimary adapts a PrimaryClient to pkg/txn's Primary interface,
// so Coordinator can drive a real remote primary exactly like the
// in-process fakes used in its own tests.
type RemotePrimary struct {
	name   string
	client PrimaryClient
}

// NewRemotePrimary wraps client as a txn.Primary named name (the key
// WriteOp.Primary must use to select it).
func NewRemotePrimary(name string, client PrimaryClient) *RemotePrimary {
	return &RemotePrimary{name: name, client: client}
}

func (r *RemotePrimary) Lock(ctx context.Context, xid, key string, dhtVersion int64) (txn.PrimaryReply, error) {
	reply, err := r.client.Lock(ctx, &LockRequest{Xid: xid, Key: key, DhtVersion: dhtVersion})
	if err != nil {
		return txn.PrimaryReply{}, err
	}
	return toTxnReply(reply), nil
}

func (r *RemotePrimary) CheckConflict(ctx context.Context, xid, key string, dhtVersion int64) (txn.PrimaryReply, error) {
	reply, err := r.client.CheckConflict(ctx, &CheckConflictRequest{Xid: xid, Key: key, DhtVersion: dhtVersion})
	if err != nil {
		return txn.PrimaryReply{}, err
	}
	return toTxnReply(reply), nil
}

func (r *RemotePrimary) Apply(ctx context.Context, xid string, writeVersion int64) error {
	_, err := r.client.Apply(ctx, &ApplyRequest{Xid: xid, WriteVersion: writeVersion})
	return err
}

func (r *RemotePrimary) Unlock(xid, key string) {
	// Best-effort: rollback/post-commit unlocks don't carry a deadline
	// of their own, so a fresh background context with no deadline is
	// used rather than threading one through txn.Primary's synchronous
	// signature.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _ = r.client.Unlock(ctx, &UnlockRequest{Xid: xid, Key: key})
}

func toTxnReply(r *LockReply) txn.PrimaryReply {
	return txn.PrimaryReply{
		Primary:      r.Primary,
		DhtVersion:   r.DhtVersion,
		EntryVersion: r.EntryVersion,
		RetryHint:    r.RetryHint,
	}
}

// LocalPrimaryServer adapts a txn.Primary implementation to PrimaryServer,
// so the same Lock/CheckConflict/Apply/Unlock logic that backs a local
// fake in tests can be exposed over gRPC to remote coordinators.
type LocalPrimaryServer struct {
	name    string
	primary txn.Primary
}

// NewLocalPrimaryServer wraps primary, identified as name, for serving.
func NewLocalPrimaryServer(name string, primary txn.Primary) *LocalPrimaryServer {
	return &LocalPrimaryServer{name: name, primary: primary}
}

func (s *LocalPrimaryServer) Lock(ctx context.Context, in *LockRequest) (*LockReply, error) {
	reply, err := s.primary.Lock(ctx, in.Xid, in.Key, in.DhtVersion)
	if err != nil {
		return nil, err
	}
	return fromTxnReply(reply), nil
}

func (s *LocalPrimaryServer) CheckConflict(ctx context.Context, in *CheckConflictRequest) (*LockReply, error) {
	reply, err := s.primary.CheckConflict(ctx, in.Xid, in.Key, in.DhtVersion)
	if err != nil {
		return nil, err
	}
	return fromTxnReply(reply), nil
}

func (s *LocalPrimaryServer) Apply(ctx context.Context, in *ApplyRequest) (*ApplyReply, error) {
	if err := s.primary.Apply(ctx, in.Xid, in.WriteVersion); err != nil {
		return nil, err
	}
	return &ApplyReply{}, nil
}

func (s *LocalPrimaryServer) Unlock(_ context.Context, in *UnlockRequest) (*UnlockReply, error) {
	s.primary.Unlock(in.Xid, in.Key)
	return &UnlockReply{}, nil
}

func fromTxnReply(r txn.PrimaryReply) *LockReply {
	return &LockReply{
		Primary:      r.Primary,
		DhtVersion:   r.DhtVersion,
		EntryVersion: r.EntryVersion,
		RetryHint:    r.RetryHint,
	}
}
