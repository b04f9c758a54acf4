// Package events names the live events exchanged with clients.
package events

// Outbound event names.
const (
	RoomCreated    = "room-created"
	RoomUpdated    = "room-updated"
	MessageSent    = "message-sent"
	MessageUpdated = "message-updated"
	Error          = "error"
	UpdateToken    = "updateToken"
)

// Inbound event names.
const (
	MsgSend  = "msg:send"
	RoomRead = "room:read"
)

// Event is one frame on the live channel.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Addressed is an event bound for one live connection.
type Addressed struct {
	SocketID string `json:"socketId"`
	Event    Event  `json:"event"`
}

// Emitter delivers events to live connections wherever they are connected.
// Delivery is best effort.
type Emitter interface {
	Emit(socketID string, ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(socketID string, ev Event)

// Emit calls f.
func (f EmitterFunc) Emit(socketID string, ev Event) { f(socketID, ev) }

// ErrorData is the payload of an error event.
type ErrorData struct {
	Msg string `json:"msg"`
}
