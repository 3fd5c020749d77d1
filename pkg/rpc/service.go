package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const primaryServiceName = "gridcore.txn.Primary"

// PrimaryServer is implemented by the node holding a partition's
// primary copy; it is the server side of the §4.H prepare/commit/
// rollback protocol.
type PrimaryServer interface {
	Lock(context.Context, *LockRequest) (*LockReply, error)
	CheckConflict(context.Context, *CheckConflictRequest) (*LockReply, error)
	Apply(context.Context, *ApplyRequest) (*ApplyReply, error)
	Unlock(context.Context, *UnlockRequest) (*UnlockReply, error)
}

// PrimaryClient is the coordinator-side stub for PrimaryServer.
type PrimaryClient interface {
	Lock(ctx context.Context, in *LockRequest, opts ...grpc.CallOption) (*LockReply, error)
	CheckConflict(ctx context.Context, in *CheckConflictRequest, opts ...grpc.CallOption) (*LockReply, error)
	Apply(ctx context.Context, in *ApplyRequest, opts ...grpc.CallOption) (*ApplyReply, error)
	Unlock(ctx context.Context, in *UnlockRequest, opts ...grpc.CallOption) (*UnlockReply, error)
}

type primaryClient struct {
	cc grpc.ClientConnInterface
}

// NewPrimaryClient wraps a grpc.ClientConn as a PrimaryClient.
func NewPrimaryClient(cc grpc.ClientConnInterface) PrimaryClient {
	return &primaryClient{cc: cc}
}

func (c *primaryClient) Lock(ctx context.Context, in *LockRequest, opts ...grpc.CallOption) (*LockReply, error) {
	out := new(LockReply)
	if err := c.cc.Invoke(ctx, "/"+primaryServiceName+"/Lock", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *primaryClient) CheckConflict(ctx context.Context, in *CheckConflictRequest, opts ...grpc.CallOption) (*LockReply, error) {
	out := new(LockReply)
	if err := c.cc.Invoke(ctx, "/"+primaryServiceName+"/CheckConflict", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *primaryClient) Apply(ctx context.Context, in *ApplyRequest, opts ...grpc.CallOption) (*ApplyReply, error) {
	out := new(ApplyReply)
	if err := c.cc.Invoke(ctx, "/"+primaryServiceName+"/Apply", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *primaryClient) Unlock(ctx context.Context, in *UnlockRequest, opts ...grpc.CallOption) (*UnlockReply, error) {
	out := new(UnlockReply)
	if err := c.cc.Invoke(ctx, "/"+primaryServiceName+"/Unlock", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func primaryLockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrimaryServer).Lock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + primaryServiceName + "/Lock"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrimaryServer).Lock(ctx, req.(*LockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func primaryCheckConflictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckConflictRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrimaryServer).CheckConflict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + primaryServiceName + "/CheckConflict"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrimaryServer).CheckConflict(ctx, req.(*CheckConflictRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func primaryApplyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ApplyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrimaryServer).Apply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + primaryServiceName + "/Apply"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrimaryServer).Apply(ctx, req.(*ApplyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func primaryUnlockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UnlockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrimaryServer).Unlock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + primaryServiceName + "/Unlock"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrimaryServer).Unlock(ctx, req.(*UnlockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var primaryServiceDesc = grpc.ServiceDesc{
	ServiceName: primaryServiceName,
	HandlerType: (*PrimaryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Lock", Handler: primaryLockHandler},
		{MethodName: "CheckConflict", Handler: primaryCheckConflictHandler},
		{MethodName: "Apply", Handler: primaryApplyHandler},
		{MethodName: "Unlock", Handler: primaryUnlockHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/rpc/service.go",
}

// RegisterPrimaryServer registers srv as the handler for the Primary
// service on s.
func RegisterPrimaryServer(s grpc.ServiceRegistrar, srv PrimaryServer) {
	s.RegisterService(&primaryServiceDesc, srv)
}
