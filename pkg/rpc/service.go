package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit from a .proto file: one entry per unary RPC plus the
// Subscribe server-stream. grpc.Server.RegisterService only needs this
// struct and a matching handle — it never requires protobuf-generated
// code, just a codec (ours is jsonCodec) and a description of the methods.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "tidestream.meta.Meta",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterWorker", Handler: unaryHandler(func(s *Server) func(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
			return s.registerWorker
		})},
		{MethodName: "Heartbeat", Handler: unaryHandler(func(s *Server) func(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error) {
			return s.heartbeat
		})},
		{MethodName: "Activate", Handler: unaryHandler(func(s *Server) func(context.Context, *ActivateRequest) (*ActivateResponse, error) {
			return s.activate
		})},
		{MethodName: "PinSnapshot", Handler: unaryHandler(func(s *Server) func(context.Context, *PinSnapshotRequest) (*PinSnapshotResponse, error) {
			return s.pinSnapshot
		})},
		{MethodName: "UnpinSnapshotBefore", Handler: unaryHandler(func(s *Server) func(context.Context, *UnpinSnapshotBeforeRequest) (*UnpinSnapshotBeforeResponse, error) {
			return s.unpinSnapshotBefore
		})},
		{MethodName: "AddTables", Handler: unaryHandler(func(s *Server) func(context.Context, *AddTablesRequest) (*AddTablesResponse, error) {
			return s.addTables
		})},
		{MethodName: "GetCompactionTask", Handler: unaryHandler(func(s *Server) func(context.Context, *GetCompactionTaskRequest) (*GetCompactionTaskResponse, error) {
			return s.getCompactionTask
		})},
		{MethodName: "ReportCompactionTask", Handler: unaryHandler(func(s *Server) func(context.Context, *ReportCompactionTaskRequest) (*ReportCompactionTaskResponse, error) {
			return s.reportCompactionTask
		})},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "tidestream/meta.proto",
}

// unaryHandler adapts one of Server's typed (ctx, *Req) (*Resp, error)
// methods into the untyped grpc.methodHandler signature every
// grpc.MethodDesc.Handler must satisfy. method is resolved against the
// concrete *Server at call time rather than stored directly, since Go has
// no way to name the method's request type generically without one
// closure per RPC.
func unaryHandler[Req, Resp any](pick func(*Server) func(context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		s, ok := srv.(*Server)
		if !ok {
			return nil, fmt.Errorf("rpc: unexpected server type %T", srv)
		}
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		method := pick(s)
		if interceptor == nil {
			return method(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: s}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return method(ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	s, ok := srv.(*Server)
	if !ok {
		return fmt.Errorf("rpc: unexpected server type %T", srv)
	}
	var req SubscribeRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}

	ch := make(chan *Notification, 16)
	s.mu.Lock()
	s.subs[req.WorkerID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, req.WorkerID)
		s.mu.Unlock()
	}()

	for {
		select {
		case n := <-ch:
			if err := stream.SendMsg(n); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}
