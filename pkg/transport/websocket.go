package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// WSConn carries one record per WebSocket text message.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWSConn wraps an upgraded WebSocket connection. A zero writeTimeout
// disables write deadlines.
func NewWSConn(conn *websocket.Conn, writeTimeout time.Duration) *WSConn {
	conn.SetReadLimit(protocol.MaxRecordSize)
	return &WSConn{conn: conn, writeTimeout: writeTimeout}
}

// ReadRecord returns the payload of the next text message. Binary messages
// are rejected.
func (c *WSConn) ReadRecord() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch mt {
		case websocket.TextMessage:
			return data, nil
		case websocket.BinaryMessage:
			return nil, fmt.Errorf("transport: binary frames are not supported")
		}
	}
}

func (c *WSConn) WriteRecord(record []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("transport: set write deadline: %w", err)
		}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, record); err != nil {
		return fmt.Errorf("transport: write message: %w", err)
	}
	return nil
}

func (c *WSConn) Close() error {
	return c.conn.Close()
}

func (c *WSConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func isWSClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent)
}
