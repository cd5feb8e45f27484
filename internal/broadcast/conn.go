package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSConn wraps a websocket connection with a write mutex:
// gorilla/websocket allows one concurrent writer and this enforces it.
type WSConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{id: uuid.New().String(), conn: conn}
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *WSConn) Close() error { return c.conn.Close() }
