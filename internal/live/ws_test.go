package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PaulBabatuyi/realtyhub/internal/events"
	"github.com/PaulBabatuyi/realtyhub/internal/obs"
)

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, name string) wireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", name, err)
		}
		if ev.Event == name {
			return ev
		}
	}
}

func waitOnline(t *testing.T, f *fixture, user string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		u, _ := f.store.GetUserByUsername(context.Background(), user)
		if u != nil && u.SocketID != "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never came online", user)
}

func TestWebSocketRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(NewWSHandler(f.channel, nil, obs.Discard()))
	defer srv.Close()

	// bob authenticates with the handshake frame, alice with the query
	bob := dial(t, srv, "")
	if err := bob.WriteJSON(TokenData{Token: f.pairs["bob"].String()}); err != nil {
		t.Fatal(err)
	}
	waitOnline(t, f, "bob")
	alice := dial(t, srv, "?token="+strings.ReplaceAll(f.pairs["alice"].String(), " ", "+"))
	waitOnline(t, f, "alice")

	if err := alice.WriteJSON(map[string]any{
		"event": events.MsgSend,
		"data": map[string]string{
			"token":  f.pairs["alice"].String(),
			"orgId":  f.org.Hex(),
			"roomId": f.room.ID.Hex(),
			"msg":    "over the wire",
		},
	}); err != nil {
		t.Fatal(err)
	}

	ev := readUntil(t, bob, events.MessageSent)
	var msg struct {
		Text   string `json:"text"`
		Sender string `json:"sender"`
	}
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Text != "over the wire" || msg.Sender != "alice" {
		t.Fatalf("unexpected message %+v", msg)
	}

	if err := alice.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	readUntil(t, alice, events.Error)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(NewWSHandler(f.channel, []string{"https://app.example.com"}, obs.Discard()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	h := http.Header{"Origin": {"https://evil.example.com"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, h); err == nil {
		t.Fatal("foreign origin was accepted")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}

	h.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}
