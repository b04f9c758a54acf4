// Package live implements the live update channel: per-connection sessions
// over WebSocket or gRPC, the local connection registry, and the brokers
// that route events to connections on this or another process.
package live

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/PaulBabatuyi/realtyhub/internal/events"
	"github.com/PaulBabatuyi/realtyhub/internal/obs"
)

// Sender is the minimal interface the hub needs from a transport
// connection.
type Sender interface {
	Send(ev events.Event) error
}

// Hub maps the live connection ids owned by this process to their
// transport. It is a cache: which connection a user is on is decided by the
// entity store, never by the hub.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]Sender
	metrics *obs.Metrics
	logger  *log.Logger
}

// NewHub returns an empty hub. metrics may be nil.
func NewHub(metrics *obs.Metrics, logger *log.Logger) *Hub {
	return &Hub{
		conns:   make(map[string]Sender),
		metrics: metrics,
		logger:  logger.With("component", "hub"),
	}
}

// Register adds a connection.
func (h *Hub) Register(socketID string, s Sender) {
	h.mu.Lock()
	h.conns[socketID] = s
	n := len(h.conns)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.LiveConnections.Set(float64(n))
	}
}

// Unregister removes a connection.
func (h *Hub) Unregister(socketID string) {
	h.mu.Lock()
	delete(h.conns, socketID)
	n := len(h.conns)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.LiveConnections.Set(float64(n))
	}
}

// Has reports whether socketID is connected to this process.
func (h *Hub) Has(socketID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[socketID]
	return ok
}

// Len returns the number of local connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Deliver sends ev to a local connection and reports whether it was sent.
// A connection that fails to receive is dropped from the hub; its transport
// notices the broken connection and ends the session.
func (h *Hub) Deliver(socketID string, ev events.Event) bool {
	h.mu.RLock()
	s, ok := h.conns[socketID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := s.Send(ev); err != nil {
		h.logger.Warn("live delivery failed", "socket", socketID, "event", ev.Name, "err", err)
		h.Unregister(socketID)
		return false
	}
	if h.metrics != nil {
		h.metrics.LiveEvents.WithLabelValues(ev.Name).Inc()
	}
	return true
}
