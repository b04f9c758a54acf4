package middleware

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestLimiterStoreAllowAndSweep(t *testing.T) {
	s := NewLimiterStore(5, 5, time.Hour)
	defer s.Stop()

	key := "ip:10.0.0.1"
	for i := 0; i < 5; i++ {
		if !s.Allow(key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}
	if s.Allow(key) {
		t.Fatal("expected limiter to block after burst consumed")
	}
	if !s.Allow("ip:10.0.0.2") {
		t.Fatal("keys must be limited independently")
	}

	s.sweep(time.Now().Add(2 * time.Hour))
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("idle entries not swept: %d left", n)
	}
	s.Stop()
}

func TestRateLimitHandler(t *testing.T) {
	s := NewLimiterStore(1, 2, time.Hour)
	defer s.Stop()
	h := RateLimit(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	got := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = "192.0.2.7:51000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		got = append(got, rec.Code)
	}
	if got[0] != http.StatusNoContent || got[1] != http.StatusNoContent || got[2] != http.StatusTooManyRequests {
		t.Fatalf("status codes: %v", got)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	if ip := ClientIP(req); ip != "198.51.100.1" {
		t.Fatalf("ClientIP = %q", ip)
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestRateLimitStreamInterceptor(t *testing.T) {
	s := NewLimiterStore(1, 1, time.Hour)
	defer s.Stop()
	icpt := RateLimitStreamInterceptor(s, map[string]bool{"/svc/Limited": true})

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4000}})
	ss := fakeStream{ctx: ctx}
	ok := func(any, grpc.ServerStream) error { return nil }

	if err := icpt(nil, ss, &grpc.StreamServerInfo{FullMethod: "/svc/Limited"}, ok); err != nil {
		t.Fatalf("first call: %v", err)
	}
	err := icpt(nil, ss, &grpc.StreamServerInfo{FullMethod: "/svc/Limited"}, ok)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second call: want ResourceExhausted, got %v", err)
	}
	if err := icpt(nil, ss, &grpc.StreamServerInfo{FullMethod: "/svc/Other"}, ok); err != nil {
		t.Fatalf("unlimited method: %v", err)
	}
}
