package rpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/gridcore/pkg/txn"
)

// localPrimary is the same shape of in-process fake pkg/txn's own tests
// use, reused here as the thing actually served over the wire.
type localPrimary struct {
	mu     sync.Mutex
	locked map[string]string
	applied []string
}

func newLocalPrimary() *localPrimary {
	return &localPrimary{locked: map[string]string{}}
}

func (p *localPrimary) Lock(_ context.Context, xid, key string, dhtVersion int64) (txn.PrimaryReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if holder, ok := p.locked[key]; ok && holder != xid {
		return txn.PrimaryReply{DhtVersion: -1}, nil
	}
	p.locked[key] = xid
	return txn.PrimaryReply{Primary: "remote", DhtVersion: dhtVersion}, nil
}

func (p *localPrimary) CheckConflict(_ context.Context, _, _ string, dhtVersion int64) (txn.PrimaryReply, error) {
	return txn.PrimaryReply{Primary: "remote", DhtVersion: dhtVersion}, nil
}

func (p *localPrimary) Apply(_ context.Context, _ string, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, "applied")
	return nil
}

func (p *localPrimary) Unlock(xid, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locked[key] == xid {
		delete(p.locked, key)
	}
}

func startTestServer(t *testing.T, primary txn.Primary) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	RegisterPrimaryServer(srv, NewLocalPrimaryServer("remote", primary))

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestRemotePrimaryRoundTripsOverGRPC(t *testing.T) {
	local := newLocalPrimary()
	addr := startTestServer(t, local)

	conn, err := DialPrimary(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	remote := NewRemotePrimary("remote", NewPrimaryClient(conn))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := remote.Lock(ctx, "xid-1", "k1", 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), reply.DhtVersion)

	require.NoError(t, remote.Apply(ctx, "xid-1", 1))
	require.Len(t, local.applied, 1)

	remote.Unlock("xid-1", "k1")
	_, ok := local.locked["k1"]
	require.False(t, ok)
}

func TestCoordinatorDrivesRemotePrimary(t *testing.T) {
	local := newLocalPrimary()
	addr := startTestServer(t, local)

	conn, err := DialPrimary(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	remote := NewRemotePrimary("a", NewPrimaryClient(conn))
	coord := txn.NewCoordinator(txn.Config{}, map[string]txn.Primary{"a": remote})

	tx := coord.Begin(txn.Pessimistic, time.Now().Add(5*time.Second))
	writes := []txn.WriteOp{{Key: "k1", Primary: "a", DhtVersion: 0}}

	require.NoError(t, coord.Prepare(context.Background(), tx, writes))
	require.NoError(t, coord.Commit(context.Background(), tx, 1))
	require.Equal(t, txn.StateCommitted, tx.State())
}
