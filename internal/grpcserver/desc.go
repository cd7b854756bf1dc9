package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// opsServer is the handler type checked by grpc.Server.RegisterService.
type opsServer interface {
	RunCrawl(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunRefresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DispatchPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunAlertBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*opsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RunCrawl", opsServer.RunCrawl),
		unary("RunRefresh", opsServer.RunRefresh),
		unary("DispatchPending", opsServer.DispatchPending),
		unary("RunAlertBatch", opsServer.RunAlertBatch),
		unary("GetJob", opsServer.GetJob),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "aucradar/ops/v1/ops.proto",
}

// unary builds the method descriptor for a Struct-in, Struct-out RPC.
func unary(name string, call func(opsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(opsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(opsServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
