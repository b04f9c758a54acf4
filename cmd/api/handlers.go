package main

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/realtyhub/internal/auth"
	"github.com/PaulBabatuyi/realtyhub/internal/events"
)

const (
	streamSendBuffer = 256
	// how long a closing stream may spend flushing queued events
	streamFlushWait = 5 * time.Second
)

var (
	errStreamClosed = errors.New("stream closed")
	errSlowStream   = errors.New("send buffer full")
)

// streamConn adapts a server stream to live.Sender. Events are emitted from
// any goroutine, so Send only queues them; writeLoop is the stream's single
// sender. A client that stops reading fills the queue and is dropped.
type streamConn struct {
	stream grpc.ServerStream
	send   chan *structpb.Struct
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func newStreamConn(stream grpc.ServerStream) *streamConn {
	return &streamConn{
		stream: stream,
		send:   make(chan *structpb.Struct, streamSendBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (c *streamConn) Send(ev events.Event) error {
	msg, err := eventToStruct(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errStreamClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errStreamClosed
	default:
		return errSlowStream
	}
}

func (c *streamConn) close() {
	c.once.Do(func() { close(c.done) })
}

// writeLoop sends queued events until the stream fails or is closed, then
// flushes what is still queued.
func (c *streamConn) writeLoop() {
	defer close(c.exited)
	for {
		select {
		case msg := <-c.send:
			if err := c.stream.SendMsg(msg); err != nil {
				c.close()
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if err := c.stream.SendMsg(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// stop closes the queue and waits a bounded time for the flush.
func (c *streamConn) stop() {
	c.close()
	t := time.NewTimer(streamFlushWait)
	defer t.Stop()
	select {
	case <-c.exited:
	case <-t.C:
	}
}

func eventToStruct(ev events.Event) (*structpb.Struct, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	msg := &structpb.Struct{}
	if err := msg.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return msg, nil
}

// Connect handles one live connection: every inbound Struct is a frame for
// the session, and every event emitted to the connection is sent back.
func (s *Server) Connect(stream grpc.ServerStream) error {
	ctx := stream.Context()
	bundle, _ := auth.BundleFromContext(ctx)

	conn := newStreamConn(stream)
	go conn.writeLoop()
	defer conn.stop()

	sess := s.channel.Open(ctx, conn, bundle)
	defer sess.Close(ctx)

	for {
		in := &structpb.Struct{}
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			s.logger.Debug("receive failed", "socket", sess.SocketID(), "err", err)
			return status.Errorf(codes.Internal, "receive error: %v", err)
		}
		raw, err := in.MarshalJSON()
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "unreadable frame: %v", err)
		}
		sess.HandleRaw(ctx, raw)
	}
}
