package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName gRPC 服务全名
const ServiceName = "sessionpool.v1.Control"

// ControlServer 会话池控制接口，请求和响应均为 structpb.Struct
type ControlServer interface {
	Add(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Remove(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BroadcastForce(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearForce(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type methodFunc func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call methodFunc) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc 手写的服务描述
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Add", ControlServer.Add),
		unaryHandler("Remove", ControlServer.Remove),
		unaryHandler("Status", ControlServer.Status),
		unaryHandler("BroadcastForce", ControlServer.BroadcastForce),
		unaryHandler("ClearForce", ControlServer.ClearForce),
		unaryHandler("StopAll", ControlServer.StopAll),
		unaryHandler("Send", ControlServer.Send),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sessionpool/v1/control.proto",
}

// RegisterControlServer 注册控制服务
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
