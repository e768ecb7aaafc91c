// Package transport frames protocol records over network connections.
//
// A Conn carries one record per ReadRecord/WriteRecord call. Implementations
// support one concurrent reader and one concurrent writer; callers that write
// from several goroutines must serialize writes themselves.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// Conn is a record-oriented connection.
type Conn interface {
	ReadRecord() ([]byte, error)
	WriteRecord(record []byte) error
	Close() error
	RemoteAddr() string
}

// LineConn frames records as newline-terminated lines over a net.Conn.
type LineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	w       *bufio.Writer
}

// NewLineConn wraps a stream connection.
func NewLineConn(conn net.Conn) *LineConn {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), protocol.MaxRecordSize+1)
	return &LineConn{
		conn:    conn,
		scanner: sc,
		w:       bufio.NewWriter(conn),
	}
}

// ReadRecord returns the next line without its terminator. A trailing '\r'
// is stripped. It returns io.EOF when the peer closes cleanly.
func (c *LineConn) ReadRecord() ([]byte, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, fmt.Errorf("%w: line exceeds %d bytes", protocol.ErrTooLarge, protocol.MaxRecordSize)
			}
			return nil, err
		}
		return nil, io.EOF
	}
	line := c.scanner.Bytes()
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	out := make([]byte, len(line))
	copy(out, line)
	return out, nil
}

// WriteRecord writes record followed by '\n' and flushes.
func (c *LineConn) WriteRecord(record []byte) error {
	if _, err := c.w.Write(record); err != nil {
		return fmt.Errorf("transport: write record: %w", err)
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("transport: write newline: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("transport: flush: %w", err)
	}
	return nil
}

func (c *LineConn) Close() error {
	return c.conn.Close()
}

func (c *LineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
