package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/PaulBabatuyi/realtyhub/internal/events"
	"github.com/PaulBabatuyi/realtyhub/internal/ids"
)

// LocalBroker delivers events to connections of this process only.
type LocalBroker struct {
	hub    *Hub
	logger *log.Logger
}

// NewLocalBroker returns a broker over hub.
func NewLocalBroker(hub *Hub, logger *log.Logger) *LocalBroker {
	return &LocalBroker{hub: hub, logger: logger.With("component", "broker")}
}

func (b *LocalBroker) Emit(socketID string, ev events.Event) {
	if !b.hub.Deliver(socketID, ev) {
		b.logger.Debug("live delivery missed", "socket", socketID, "event", ev.Name)
	}
}

const channelPrefix = "realtyhub:live:"

// NodeChannel is the pub/sub channel a node listens on.
func NodeChannel(node string) string { return channelPrefix + node }

// RedisBroker routes events for connections owned by other processes over
// Redis pub/sub. Connection ids carry their node, so an event is published
// only to the node that owns the connection.
type RedisBroker struct {
	rdb    *redis.Client
	hub    *Hub
	node   string
	logger *log.Logger
}

// NewRedisBroker returns a broker for node.
func NewRedisBroker(rdb *redis.Client, hub *Hub, node string, logger *log.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, hub: hub, node: node, logger: logger.With("component", "broker", "node", node)}
}

func (b *RedisBroker) Emit(socketID string, ev events.Event) {
	if b.hub.Deliver(socketID, ev) {
		return
	}
	node := ids.NodeOf(socketID)
	if node == "" || node == b.node {
		b.logger.Debug("live delivery missed", "socket", socketID, "event", ev.Name)
		return
	}
	payload, err := json.Marshal(events.Addressed{SocketID: socketID, Event: ev})
	if err != nil {
		b.logger.Error("encoding live event failed", "event", ev.Name, "err", err)
		return
	}
	if err := b.rdb.Publish(context.Background(), NodeChannel(node), payload).Err(); err != nil {
		b.logger.Warn("publishing live event failed", "node", node, "event", ev.Name, "err", err)
	}
}

// Run delivers events published for this node until ctx is done.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, NodeChannel(b.node))
	defer sub.Close()
	// wait for the subscription so nothing published after Run returns to
	// the caller is lost
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", NodeChannel(b.node), err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(m.Payload)
		}
	}
}

func (b *RedisBroker) deliver(payload string) {
	var a struct {
		SocketID string          `json:"socketId"`
		Event    json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		b.logger.Warn("dropping malformed live event", "err", err)
		return
	}
	var ev struct {
		Name string          `json:"event"`
		Data json.RawMessage `json:"data,omitempty"`
	}
	if err := json.Unmarshal(a.Event, &ev); err != nil {
		b.logger.Warn("dropping malformed live event", "err", err)
		return
	}
	out := events.Event{Name: ev.Name}
	if len(ev.Data) > 0 {
		out.Data = ev.Data
	}
	if !b.hub.Deliver(a.SocketID, out) {
		b.logger.Debug("live delivery missed", "socket", a.SocketID, "event", ev.Name)
	}
}
