package main

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/realtyhub/internal/auth"
)

// bundleStreamInterceptor moves the credential bundle from the
// authorization metadata into the stream context. The bundle is verified by
// the live session, which may rotate it or, when it does not verify, keep
// the stream unauthenticated. A stream without the header is refused.
func bundleStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Errorf(codes.Unauthenticated, "missing metadata")
		}
		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return status.Errorf(codes.Unauthenticated, "missing authorization header")
		}
		newCtx := auth.ContextWithBundle(ss.Context(), authHeaders[0])
		return handler(srv, wrappedStream{ServerStream: ss, ctx: newCtx})
	}
}

// wrappedStream wraps grpc.ServerStream to override Context().
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w wrappedStream) Context() context.Context { return w.ctx }
