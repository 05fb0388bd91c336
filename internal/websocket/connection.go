package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps one participant's WebSocket. All writes funnel through a
// single writer goroutine so concurrent fan-outs never race on the socket.
// Identity is fixed at construction: it was verified before the upgrade.
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan []byte
	connectionID  string
	participantID string
	role          string
	sessionID     string
	writeTimeout  time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
}

// NewConnection wraps conn for participantID. bufferSize is the outbound
// queue depth; writeTimeout bounds both queueing and the socket write.
func NewConnection(conn *websocket.Conn, participantID, role, sessionID string, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:          conn,
		writeCh:       make(chan []byte, bufferSize),
		connectionID:  uuid.New().String(),
		participantID: participantID,
		role:          role,
		sessionID:     sessionID,
		writeTimeout:  writeTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for delivery. Frames from one caller keep their order.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears down the socket and stops the writer. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed when the connection has been torn down.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) ConnectionID() string  { return c.connectionID }
func (c *Connection) ParticipantID() string { return c.participantID }
func (c *Connection) Role() string          { return c.role }
func (c *Connection) SessionID() string     { return c.sessionID }
