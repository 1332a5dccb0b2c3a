package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/orbit-app/orbit/internal/message"
	"github.com/orbit-app/orbit/internal/transport"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "orbit.v1.Orbit"

// Empty is the request of parameterless methods.
type Empty struct{}

// service adapts transport.Handler to the Orbit gRPC service.
type service struct {
	handler transport.Handler
}

// Ask answers one turn. Assistant failures are reported in the result, the
// same way the HTTP transport reports them.
func (s *service) Ask(ctx context.Context, req *message.ChatRequest) (*message.ChatResult, error) {
	return s.handler.Chat(ctx, req), nil
}

// AskStream sends the answer as a sequence of chunks ending with a final
// one. A failed turn ends the stream with a status error.
func (s *service) AskStream(req *message.ChatRequest, stream grpc.ServerStream) error {
	result := s.handler.ChatStream(stream.Context(), req, func(c message.StreamChunk) error {
		return stream.SendMsg(&c)
	})
	if result.Error != "" {
		return status.Error(errorCode(result.ErrorKind), result.Error)
	}
	return nil
}

func errorCode(kind string) codes.Code {
	switch kind {
	case "rate_limited":
		return codes.ResourceExhausted
	case "unsupported":
		return codes.Unimplemented
	case "invalid_request":
		return codes.InvalidArgument
	case "cancelled":
		return codes.Canceled
	default:
		return codes.Internal
	}
}

func (s *service) ClearMemory(ctx context.Context, req *message.ClearMemoryRequest) (*message.ControlResponse, error) {
	return s.handler.ClearMemory(ctx, req.SessionID), nil
}

func (s *service) ResetAssistant(ctx context.Context, _ *Empty) (*message.ControlResponse, error) {
	return s.handler.ResetAssistant(ctx), nil
}

func (s *service) ExecuteCommand(ctx context.Context, cmd *json.RawMessage) (*message.AbletonControlResponse, error) {
	if cmd == nil || len(*cmd) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty command")
	}
	return s.handler.ExecuteCommand(ctx, *cmd), nil
}

func (s *service) ConnectAbleton(ctx context.Context, _ *Empty) (*message.AbletonControlResponse, error) {
	return s.handler.ConnectAbleton(ctx), nil
}

func (s *service) DisconnectAbleton(ctx context.Context, _ *Empty) (*message.AbletonControlResponse, error) {
	return s.handler.DisconnectAbleton(ctx), nil
}

func (s *service) AbletonStatus(context.Context, *Empty) (*message.AbletonStatus, error) {
	st := s.handler.AbletonStatus()
	return &st, nil
}

// unary builds a method handler that decodes Req and calls fn.
func unary[Req any, Resp any](name string, fn func(*service, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*service)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*Req))
			})
		},
	}
}

func askStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(message.ChatRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*service).AskStream(in, stream)
}

// ServiceDesc describes the Orbit service for grpc.Server.RegisterService
// and for clients opening streams.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ask", (*service).Ask),
		unary("ClearMemory", (*service).ClearMemory),
		unary("ResetAssistant", (*service).ResetAssistant),
		unary("ExecuteCommand", (*service).ExecuteCommand),
		unary("ConnectAbleton", (*service).ConnectAbleton),
		unary("DisconnectAbleton", (*service).DisconnectAbleton),
		unary("AbletonStatus", (*service).AbletonStatus),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "AskStream",
			Handler:       askStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "orbit/v1/orbit.proto",
}
