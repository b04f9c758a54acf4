package main

import (
	"github.com/charmbracelet/log"
	"google.golang.org/grpc"

	"github.com/PaulBabatuyi/realtyhub/internal/live"
)

const (
	liveServiceName   = "realtyhub.live.v1.LiveService"
	liveConnectMethod = "/" + liveServiceName + "/Connect"
)

// LiveServer is the gRPC face of the live update channel. Frames travel as
// google.protobuf.Struct values shaped like the WebSocket frames,
// {"event": ..., "data": ...}.
type LiveServer interface {
	Connect(stream grpc.ServerStream) error
}

// liveServiceDesc is written by hand: the service has a single bidi stream
// whose messages are well-known types, so there is no generated code.
var liveServiceDesc = grpc.ServiceDesc{
	ServiceName: liveServiceName,
	HandlerType: (*LiveServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "realtyhub/live/v1/live.proto",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(LiveServer).Connect(stream)
}

// Server implements LiveServer over a live.Channel.
type Server struct {
	channel *live.Channel
	logger  *log.Logger
}

// newServer returns a Server that opens one session per stream.
func newServer(channel *live.Channel, logger *log.Logger) *Server {
	return &Server{channel: channel, logger: logger.With("component", "grpc")}
}

// registerService registers the LiveService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	s.RegisterService(&liveServiceDesc, srv)
}
