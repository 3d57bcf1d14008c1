// Package api exposes the daemon over a local gRPC control service. Requests
// and responses are structpb.Struct values so that the service needs no
// generated stubs.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wallchat.v1.Control"

// Full method names.
const (
	MethodStatus        = "/" + ServiceName + "/Status"
	MethodConversations = "/" + ServiceName + "/Conversations"
	MethodMessages      = "/" + ServiceName + "/Messages"
	MethodMarkRead      = "/" + ServiceName + "/MarkRead"
	MethodSend          = "/" + ServiceName + "/Send"
	MethodPoll          = "/" + ServiceName + "/Poll"
	MethodVote          = "/" + ServiceName + "/Vote"
	MethodClear         = "/" + ServiceName + "/Clear"
	MethodWatch         = "/" + ServiceName + "/Watch"
)

// ControlServer is the server API for the control service.
type ControlServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Conversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Messages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Poll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Vote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Clear(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&controlServiceDesc, srv)
}

type unaryMethod func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).Watch(in, stream)
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: unaryHandler(MethodStatus, ControlServer.Status)},
		{MethodName: "Conversations", Handler: unaryHandler(MethodConversations, ControlServer.Conversations)},
		{MethodName: "Messages", Handler: unaryHandler(MethodMessages, ControlServer.Messages)},
		{MethodName: "MarkRead", Handler: unaryHandler(MethodMarkRead, ControlServer.MarkRead)},
		{MethodName: "Send", Handler: unaryHandler(MethodSend, ControlServer.Send)},
		{MethodName: "Poll", Handler: unaryHandler(MethodPoll, ControlServer.Poll)},
		{MethodName: "Vote", Handler: unaryHandler(MethodVote, ControlServer.Vote)},
		{MethodName: "Clear", Handler: unaryHandler(MethodClear, ControlServer.Clear)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "wallchat/v1/control",
}
