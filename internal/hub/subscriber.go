package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

// Conn is the subset of *websocket.Conn the hub writes to. Tests
// substitute a recording fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// subscriber is one participant's live channel: an identity, a buffered
// outbound queue drained by its write pump, and a context cancelled on
// disconnect. Everything else in the system refers to a subscriber by
// id only.
type subscriber struct {
	id     string
	conn   Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newSubscriber(id string, conn Conn) *subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscriber{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// enqueue hands a frame to the write pump without blocking. It reports
// false when the connection is closed or its queue is full; callers
// treat either as a skipped best-effort delivery, never an error.
func (s *subscriber) enqueue(data []byte) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the outbound queue onto the wire. onFail runs when
// a write fails, after which the pump exits.
func (s *subscriber) writePump(onFail func()) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				onFail()
				return
			}
		}
	}
}

// close is idempotent and safe to race with an in-progress broadcast.
func (s *subscriber) close() {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}
