package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
	"github.com/NicolasHaas/roomchat/pkg/transport"
)

const welcomeText = "Welcome! Use /register or /login. Register requires invite token."

var errSessionClosed = errors.New("server: session closed")

// Session is the server side of one client connection. Commands are read and
// handled one at a time on the session's own goroutine; other goroutines
// only ever write to it through sendRecord.
type Session struct {
	id   string
	conn transport.Conn
	srv  *Server

	mu       sync.RWMutex
	username string // empty until register/login succeeds

	joined map[string]*Room // owned by the serving goroutine

	alive     atomic.Bool
	wmu       sync.Mutex
	closeOnce sync.Once
	cleanOnce sync.Once
}

func newSession(srv *Server, conn transport.Conn) *Session {
	s := &Session{
		id:     uuid.NewString(),
		conn:   conn,
		srv:    srv,
		joined: make(map[string]*Room),
	}
	s.alive.Store(true)
	return s
}

// ID returns the connection identifier used in logs.
func (s *Session) ID() string { return s.id }

// Username returns the authenticated username, or "" before auth.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) setUsername(name string) (previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, s.username = s.username, name
	return previous
}

// Alive reports whether the session can still be written to.
func (s *Session) Alive() bool { return s.alive.Load() }

// Send encodes and writes one event.
func (s *Session) Send(ev protocol.Event) error {
	record, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return s.sendRecord(record)
}

// sendRecord writes one encoded record. Concurrent callers are serialized so
// records never interleave. A failed write kills the session: the transport
// is closed and the serving goroutine's next read fails, which runs cleanup.
func (s *Session) sendRecord(record []byte) error {
	if !s.alive.Load() {
		return errSessionClosed
	}
	s.wmu.Lock()
	err := s.conn.WriteRecord(record)
	s.wmu.Unlock()
	if err != nil {
		s.kill()
		return err
	}
	return nil
}

// kill marks the session dead and closes its transport.
func (s *Session) kill() {
	s.alive.Store(false)
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// serve runs the read-dispatch loop until the peer goes away, a transport
// error occurs, or the client quits.
func (s *Session) serve(ctx context.Context) {
	defer s.cleanup()

	logger := slog.With("session", s.id, "remote", s.conn.RemoteAddr())
	logger.Debug("session started")

	if err := s.Send(protocol.Notice(welcomeText)); err != nil {
		logger.Debug("welcome write failed", "err", err)
		return
	}

	for s.alive.Load() {
		record, err := s.conn.ReadRecord()
		if err != nil {
			if !transport.IsClosed(err) {
				logger.Debug("read failed", "err", err)
			}
			return
		}
		if !s.dispatch(ctx, record) {
			return
		}
	}
}

// dispatch handles one record and writes exactly one reply. It reports
// false once the session should close, which only a quit or a failed write
// causes.
func (s *Session) dispatch(ctx context.Context, record []byte) bool {
	ev, quit := s.handle(ctx, record)
	reply, err := protocol.EncodeEvent(ev)
	if err != nil {
		slog.Warn("reply not encodable", "session", s.id, "type", ev.EventType(), "err", err)
		reply, _ = protocol.EncodeEvent(protocol.Error(errReplyTooLarge.Msg))
	}
	if err := s.sendRecord(reply); err != nil {
		return false
	}
	return !quit
}

func (s *Session) handle(ctx context.Context, record []byte) (protocol.Event, bool) {
	cmd, err := protocol.ParseCommand(record)
	if err != nil {
		if errors.Is(err, protocol.ErrMissingCmd) {
			return protocol.Error(errMissingCmd.Msg), false
		}
		return protocol.Error(errInvalidJSON.Msg), false
	}

	if cmd.Cmd == protocol.CmdQuit {
		return protocol.OK("Bye"), true
	}

	ev, err := s.srv.execute(ctx, s, cmd)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			return protocol.Error(ce.Msg), false
		}
		slog.Error("command failed", "session", s.id, "cmd", cmd.Cmd, "err", err)
		return protocol.Error("Internal error"), false
	}
	return ev, false
}

// cleanup releases every registry reference to the session. It runs at most
// once no matter how many paths reach it.
func (s *Session) cleanup() {
	s.cleanOnce.Do(func() {
		if name := s.Username(); name != "" {
			s.srv.registry.Unregister(name, s)
		}
		for name, room := range s.joined {
			room.remove(s)
			delete(s.joined, name)
		}
		s.kill()
		s.srv.forget(s)

		s.srv.metrics.ActiveConnections.Add(-1)
		s.srv.metrics.TotalDisconnects.Add(1)
		slog.Debug("session closed", "session", s.id, "user", s.Username())
	})
}
