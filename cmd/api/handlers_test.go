package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/auth"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/events"
	"github.com/PaulBabatuyi/realtyhub/internal/live"
	"github.com/PaulBabatuyi/realtyhub/internal/memstore"
	"github.com/PaulBabatuyi/realtyhub/internal/obs"
	"github.com/PaulBabatuyi/realtyhub/internal/rooms"
)

// testEnv is a live channel over the in-memory store with two users, alice
// and bob, sharing a dm room.
type testEnv struct {
	store   *memstore.Store
	jwt     *auth.JWTManager
	hub     *live.Hub
	channel *live.Channel
	org     bson.ObjectID
	room    *data.Room
	pairs   map[string]auth.Pair
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	mem, err := memstore.New()
	if err != nil {
		t.Fatalf("memstore.New: %v", err)
	}
	env := &testEnv{
		store: mem,
		jwt:   auth.NewJWTManager("grpc-test-secret", time.Minute, time.Hour),
		pairs: map[string]auth.Pair{},
	}
	for _, name := range []string{"alice", "bob"} {
		u, err := mem.CreateUser(ctx, &data.User{Username: name})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if env.pairs[name], err = env.jwt.IssuePair(u.ID, name); err != nil {
			t.Fatalf("IssuePair: %v", err)
		}
	}
	org, err := mem.CreateOrg(ctx, &data.Org{Name: "Acme", Owner: "alice"})
	if err != nil {
		t.Fatalf("CreateOrg: %v", err)
	}
	env.org = org.ID

	logger := obs.Discard()
	env.hub = live.NewHub(nil, logger)
	rm := rooms.NewManager(mem, access.NewResolver(mem), live.NewLocalBroker(env.hub, logger), logger)
	env.room, _, err = rm.CreateOrGetDM(ctx, env.org, []string{"alice", "bob"}, nil, "alice")
	if err != nil {
		t.Fatalf("CreateOrGetDM: %v", err)
	}
	env.channel = live.NewChannel(env.jwt, rm, env.hub, nil, "grpc1", logger)
	return env
}

func (e *testEnv) sendFrame(t *testing.T, user, text string) *structpb.Struct {
	t.Helper()
	msg, err := structpb.NewStruct(map[string]any{
		"event": events.MsgSend,
		"data": map[string]any{
			"token":  e.pairs[user].String(),
			"orgId":  e.org.Hex(),
			"roomId": e.room.ID.Hex(),
			"msg":    text,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

// fakeStream implements the subset of grpc.ServerStream used by Connect.
type fakeStream struct {
	ctx context.Context
	// requests to return from RecvMsg sequentially
	reqs []*structpb.Struct

	mu   sync.Mutex
	sent []*structpb.Struct
	// sendErr, when set, is returned from every SendMsg
	sendErr error
	// block, when set, stalls every SendMsg until it is closed, like a
	// client that stopped reading
	block chan struct{}
}

func (f *fakeStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeStream) SetTrailer(metadata.MD)       {}
func (f *fakeStream) Context() context.Context     { return f.ctx }

func (f *fakeStream) SendMsg(m any) error {
	if f.block != nil {
		<-f.block
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m.(*structpb.Struct))
	return nil
}

func (f *fakeStream) RecvMsg(m any) error {
	if len(f.reqs) == 0 {
		return io.EOF
	}
	next := f.reqs[0]
	f.reqs = f.reqs[1:]
	b, err := next.MarshalJSON()
	if err != nil {
		return err
	}
	return m.(*structpb.Struct).UnmarshalJSON(b)
}

func (f *fakeStream) events(name string) []*structpb.Struct {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*structpb.Struct
	for _, s := range f.sent {
		if s.GetFields()["event"].GetStringValue() == name {
			out = append(out, s)
		}
	}
	return out
}

// openStream opens a session on a stream the way Connect does.
func (e *testEnv) openStream(t *testing.T, stream *fakeStream, user string) (*streamConn, *live.Session, func()) {
	t.Helper()
	conn := newStreamConn(stream)
	go conn.writeLoop()
	sess := e.channel.Open(context.Background(), conn, "Bearer "+e.pairs[user].String())
	return conn, sess, func() {
		sess.Close(context.Background())
		conn.stop()
	}
}

// waitEvents polls until stream has received n events named name.
func waitEvents(t *testing.T, stream *fakeStream, name string, n int) []*structpb.Struct {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := stream.events(name)
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventToStruct(t *testing.T) {
	msg, err := eventToStruct(events.Event{Name: events.Error, Data: events.ErrorData{Msg: "boom"}})
	if err != nil {
		t.Fatalf("eventToStruct: %v", err)
	}
	if got := msg.GetFields()["event"].GetStringValue(); got != events.Error {
		t.Fatalf("event = %q", got)
	}
	data := msg.GetFields()["data"].GetStructValue()
	if got := data.GetFields()["msg"].GetStringValue(); got != "boom" {
		t.Fatalf("data.msg = %q", got)
	}
}

func TestConnectDeliversToOtherStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	srv := newServer(env.channel, obs.Discard())

	// bob is connected through the hub before alice's stream runs
	bob := &fakeStream{ctx: ctx}
	_, _, closeBob := env.openStream(t, bob, "bob")
	defer closeBob()

	alice := &fakeStream{
		ctx:  auth.ContextWithBundle(ctx, "Bearer "+env.pairs["alice"].String()),
		reqs: []*structpb.Struct{env.sendFrame(t, "alice", "hello bob")},
	}
	if err := srv.Connect(alice); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	got := waitEvents(t, bob, events.MessageSent, 1)
	if len(got) != 1 {
		t.Fatalf("bob received %d message-sent events", len(got))
	}
	text := got[0].GetFields()["data"].GetStructValue().GetFields()["text"].GetStringValue()
	if text != "hello bob" {
		t.Fatalf("text = %q", text)
	}
	if errs := alice.events(events.Error); len(errs) != 0 {
		t.Fatalf("alice got error events: %v", errs)
	}

	// alice's stream ended, so she is offline again
	u, err := env.store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.SocketID != "" {
		t.Fatalf("alice still has socket %q", u.SocketID)
	}
}

func TestConnectReportsBadFrames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	srv := newServer(env.channel, obs.Discard())

	unknown, _ := structpb.NewStruct(map[string]any{"event": "room:delete"})
	stream := &fakeStream{
		ctx:  auth.ContextWithBundle(ctx, "Bearer "+env.pairs["alice"].String()),
		reqs: []*structpb.Struct{unknown, env.sendFrame(t, "bob", "not mine")},
	}
	if err := srv.Connect(stream); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if got := len(stream.events(events.Error)); got != 2 {
		t.Fatalf("error events = %d, want 2", got)
	}
}

func TestConnectWithoutCredentialIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	srv := newServer(env.channel, obs.Discard())

	stream := &fakeStream{
		ctx:  context.Background(),
		reqs: []*structpb.Struct{env.sendFrame(t, "alice", "hi")},
	}
	if err := srv.Connect(stream); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	errs := stream.events(events.Error)
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	raw, _ := errs[0].MarshalJSON()
	var ev struct {
		Data events.ErrorData `json:"data"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Data.Msg == "" {
		t.Fatal("empty error message")
	}
}

func TestBrokenStreamStopsWriter(t *testing.T) {
	env := newTestEnv(t)

	broken := &fakeStream{ctx: context.Background(), sendErr: errors.New("broken")}
	conn, sess, closeConn := env.openStream(t, broken, "bob")
	defer closeConn()

	// the first event is queued, the failed write then closes the stream
	env.hub.Deliver(sess.SocketID(), events.Event{Name: events.RoomUpdated})
	select {
	case <-conn.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop after a failed send")
	}
	if err := conn.Send(events.Event{Name: events.RoomUpdated}); !errors.Is(err, errStreamClosed) {
		t.Fatalf("Send after failure = %v, want errStreamClosed", err)
	}
}

func TestStalledStreamDoesNotBlockOthers(t *testing.T) {
	env := newTestEnv(t)

	stalled := &fakeStream{ctx: context.Background(), block: make(chan struct{})}
	bob, _, closeBob := env.openStream(t, stalled, "bob")
	defer closeBob()
	defer close(stalled.block)

	// alice coming online announces her presence to bob, and her message
	// is fanned out to him; neither may wait for bob's client
	done := make(chan struct{})
	go func() {
		defer close(done)
		alice := &fakeStream{
			ctx:  auth.ContextWithBundle(context.Background(), "Bearer "+env.pairs["alice"].String()),
			reqs: []*structpb.Struct{env.sendFrame(t, "alice", "are you there?")},
		}
		_ = newServer(env.channel, obs.Discard()).Connect(alice)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("a stalled stream blocked another user's session")
	}

	// once its queue is full the stalled stream is refused
	var err error
	for i := 0; i <= streamSendBuffer+1 && err == nil; i++ {
		err = bob.Send(events.Event{Name: events.RoomUpdated})
	}
	if !errors.Is(err, errSlowStream) {
		t.Fatalf("Send on a full queue = %v, want errSlowStream", err)
	}
}

type recordingWaiter struct{ waited bool }

func (w *recordingWaiter) Wait() { w.waited = true }

func TestShutdownWaitsForBackgroundWork(t *testing.T) {
	w := &recordingWaiter{}
	shutdown(obs.Discard(), &http.Server{}, grpc.NewServer(), w)
	if !w.waited {
		t.Fatal("shutdown returned without waiting for background sends")
	}
}
