package main

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/realtyhub/internal/events"
	"github.com/PaulBabatuyi/realtyhub/internal/middleware"
	"github.com/PaulBabatuyi/realtyhub/internal/obs"
)

const bufSize = 1024 * 1024

func startBufServer(t *testing.T, env *testEnv, limiter *middleware.LimiterStore) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(grpc.ChainStreamInterceptor(
		middleware.RateLimitStreamInterceptor(limiter, map[string]bool{liveConnectMethod: true}),
		bundleStreamInterceptor(),
	))
	registerService(s, newServer(env.channel, obs.Discard()))
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	// Dialer via bufconn
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func connect(ctx context.Context, conn *grpc.ClientConn, bundle string) (grpc.ClientStream, error) {
	if bundle != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", bundle)
	}
	return conn.NewStream(ctx, &liveServiceDesc.Streams[0], liveConnectMethod)
}

// recvUntil skips presence updates and returns the first event named name.
func recvUntil(t *testing.T, s grpc.ClientStream, name string) *structpb.Struct {
	t.Helper()
	for {
		in := &structpb.Struct{}
		if err := s.RecvMsg(in); err != nil {
			t.Fatalf("RecvMsg waiting for %s: %v", name, err)
		}
		if in.GetFields()["event"].GetStringValue() == name {
			return in
		}
	}
}

func TestLiveStreamRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	limiter := middleware.NewLimiterStore(60, 10, time.Minute)
	defer limiter.Stop()
	conn := startBufServer(t, env, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bob, err := connect(ctx, conn, "Bearer "+env.pairs["bob"].String())
	if err != nil {
		t.Fatalf("bob connect: %v", err)
	}
	alice, err := connect(ctx, conn, "Bearer "+env.pairs["alice"].String())
	if err != nil {
		t.Fatalf("alice connect: %v", err)
	}
	// a round trip per stream makes sure both sessions are open
	for _, s := range []grpc.ClientStream{bob, alice} {
		ping, _ := structpb.NewStruct(map[string]any{"event": "ping"})
		if err := s.SendMsg(ping); err != nil {
			t.Fatalf("SendMsg: %v", err)
		}
		recvUntil(t, s, events.Error)
	}

	if err := alice.SendMsg(env.sendFrame(t, "alice", "over grpc")); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	in := recvUntil(t, bob, events.MessageSent)
	text := in.GetFields()["data"].GetStructValue().GetFields()["text"].GetStringValue()
	if text != "over grpc" {
		t.Fatalf("text = %q", text)
	}

	if err := alice.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
}

func TestLiveStreamRequiresAuthorization(t *testing.T) {
	env := newTestEnv(t)
	limiter := middleware.NewLimiterStore(60, 10, time.Minute)
	defer limiter.Stop()
	conn := startBufServer(t, env, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := connect(ctx, conn, "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	err = s.RecvMsg(&structpb.Struct{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("RecvMsg error = %v, want Unauthenticated", err)
	}
}

func TestLiveStreamIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	limiter := middleware.NewLimiterStore(1, 1, time.Hour)
	defer limiter.Stop()
	conn := startBufServer(t, env, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bundle := "Bearer " + env.pairs["alice"].String()
	first, err := connect(ctx, conn, bundle)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ping, _ := structpb.NewStruct(map[string]any{"event": "ping"})
	if err := first.SendMsg(ping); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	if err := first.RecvMsg(&structpb.Struct{}); err != nil {
		t.Fatalf("first stream RecvMsg: %v", err)
	}

	second, err := connect(ctx, conn, bundle)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	err = second.RecvMsg(&structpb.Struct{})
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second stream error = %v, want ResourceExhausted", err)
	}
}

func TestLiveStreamWithBadBundleIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	limiter := middleware.NewLimiterStore(60, 10, time.Minute)
	defer limiter.Stop()
	conn := startBufServer(t, env, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// three tokens do not form a bundle; the stream still opens
	s, err := connect(ctx, conn, "Bearer one two three")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.SendMsg(env.sendFrame(t, "alice", "hi")); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	in := recvUntil(t, s, events.Error)
	msg := in.GetFields()["data"].GetStructValue().GetFields()["msg"].GetStringValue()
	if msg == "" {
		t.Fatal("error event without a message")
	}
	u, err := env.store.GetUserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.SocketID != "" {
		t.Fatalf("unauthenticated stream recorded presence %q", u.SocketID)
	}
}
