// Package client implements the interactive roomchat terminal client.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
	"github.com/NicolasHaas/roomchat/pkg/transport"
)

// Options configures how the client reaches the server.
type Options struct {
	Addr     string
	TLS      bool
	Insecure bool // accept self-signed server certificates
	Timeout  time.Duration
}

// Client is a connection to a roomchat server.
type Client struct {
	conn transport.Conn
	wmu  sync.Mutex
}

// Dial connects to the server, over TLS when configured.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	d := &net.Dialer{Timeout: timeout}

	var (
		nc  net.Conn
		err error
	)
	if opts.TLS {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{
			InsecureSkipVerify: opts.Insecure, //nolint:gosec // opt-in for self-signed servers
			MinVersion:         tls.VersionTLS12,
		}}
		nc, err = td.DialContext(ctx, "tcp", opts.Addr)
	} else {
		nc, err = d.DialContext(ctx, "tcp", opts.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}
	return New(transport.NewLineConn(nc)), nil
}

// New wraps an established transport.
func New(conn transport.Conn) *Client {
	return &Client{conn: conn}
}

// Send encodes and writes one command.
func (c *Client) Send(cmd *protocol.Command) error {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.WriteRecord(data); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// Next blocks for the next server event.
func (c *Client) Next() (*protocol.RawEvent, error) {
	rec, err := c.conn.ReadRecord()
	if err != nil {
		return nil, err
	}
	return protocol.ParseEvent(rec)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// syncWriter serializes output from the reader and input goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) println(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, text)
}

// Run drives an interactive session: lines from in become commands and
// server events are rendered to out. It returns when the user quits, input
// ends, the server disconnects or ctx is cancelled. The connection is closed
// on return.
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	w := &syncWriter{w: out}
	w.println(Help)

	readDone := make(chan error, 1)
	go func() { readDone <- c.readLoop(w) }()

	// The input goroutine may stay blocked on in after Run returns.
	inputDone := make(chan inputResult, 1)
	go func() { inputDone <- c.inputLoop(in, w) }()

	defer func() { _ = c.Close() }()

	select {
	case err := <-readDone:
		w.println("Disconnected from server.")
		return err
	case res := <-inputDone:
		if res.err != nil {
			_ = c.Close()
			<-readDone
			return res.err
		}
		if res.quit {
			// The server answers quit and then closes the connection.
			select {
			case <-readDone:
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			return nil
		}
		_ = c.Close()
		<-readDone
		return nil
	case <-ctx.Done():
		_ = c.Close()
		<-readDone
		return ctx.Err()
	}
}

func (c *Client) readLoop(w *syncWriter) error {
	for {
		ev, err := c.Next()
		if err != nil {
			if transport.IsClosed(err) {
				return nil
			}
			if errors.Is(err, protocol.ErrInvalidJSON) {
				slog.Warn("skipping malformed server record", "err", err)
				continue
			}
			return err
		}
		w.println(Render(ev))
	}
}

type inputResult struct {
	quit bool
	err  error
}

func (c *Client) inputLoop(in io.Reader, w *syncWriter) inputResult {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 4096), protocol.MaxRecordSize)
	for sc.Scan() {
		cmd, err := ParseLine(sc.Text())
		var usage *UsageError
		switch {
		case errors.As(err, &usage):
			w.println(err.Error())
			continue
		case errors.Is(err, ErrUnknownCommand):
			w.println("Unknown command")
			continue
		case err != nil:
			w.println(err.Error())
			continue
		case cmd == nil:
			continue
		}
		if err := c.Send(cmd); err != nil {
			return inputResult{err: err}
		}
		if cmd.Cmd == protocol.CmdQuit {
			return inputResult{quit: true}
		}
	}
	return inputResult{err: sc.Err()}
}
