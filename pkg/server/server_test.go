package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/crypto"
	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// fakeConn is an in-memory transport. Records pushed into in are returned by
// ReadRecord; everything written is kept for inspection.
type fakeConn struct {
	in chan []byte

	mu         sync.Mutex
	out        [][]byte
	failWrites bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadRecord() ([]byte, error) {
	select {
	case r, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return r, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteRecord(record []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("fake: broken pipe")
	}
	c.out = append(c.out, append([]byte(nil), record...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) setFailWrites(v bool) {
	c.mu.Lock()
	c.failWrites = v
	c.mu.Unlock()
}

// events decodes everything written so far and clears the buffer.
func (c *fakeConn) events(t *testing.T) []*protocol.RawEvent {
	t.Helper()
	c.mu.Lock()
	out := c.out
	c.out = nil
	c.mu.Unlock()

	evs := make([]*protocol.RawEvent, 0, len(out))
	for _, rec := range out {
		ev, err := protocol.ParseEvent(rec)
		if err != nil {
			t.Fatalf("ParseEvent(%s): %v", rec, err)
		}
		evs = append(evs, ev)
	}
	return evs
}

func testVerifier() crypto.Verifier {
	return &crypto.MultiVerifier{Primary: &crypto.Argon2Verifier{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}}
}

func newTestServer(t *testing.T) (*Server, *datastore.MemoryStore) {
	t.Helper()
	st := datastore.NewMemory()
	cfg := DefaultConfig()
	cfg.MetricsAddr = ""
	srv := New(cfg, Dependencies{Store: st, Verifier: testVerifier()})
	t.Cleanup(srv.Shutdown)
	return srv, st
}

type testClient struct {
	sess *Session
	conn *fakeConn
}

func newTestClient(srv *Server) *testClient {
	conn := newFakeConn()
	return &testClient{sess: srv.open(conn), conn: conn}
}

// do runs one raw record through the session and returns its single reply.
func (c *testClient) do(t *testing.T, record string) *protocol.RawEvent {
	t.Helper()
	c.sess.dispatch(context.Background(), []byte(record))
	evs := c.conn.events(t)
	if len(evs) != 1 {
		t.Fatalf("%s: got %d records, want exactly 1 reply: %+v", record, len(evs), evs)
	}
	return evs[0]
}

func (c *testClient) mustOK(t *testing.T, record string) {
	t.Helper()
	if ev := c.do(t, record); ev.Type != protocol.TypeOK {
		t.Fatalf("%s: got %+v, want ok", record, ev)
	}
}

func mintInvite(t *testing.T, st datastore.InviteProvider) string {
	t.Helper()
	tokens, err := MintInvites(context.Background(), st, 1)
	if err != nil {
		t.Fatalf("MintInvites: %v", err)
	}
	return tokens[0]
}

// loggedIn registers a fresh user on a new session.
func loggedIn(t *testing.T, srv *Server, st *datastore.MemoryStore, name string) *testClient {
	t.Helper()
	c := newTestClient(srv)
	tok := mintInvite(t, st)
	c.mustOK(t, `{"cmd":"register","username":"`+name+`","password":"pw-`+name+`","token":"`+tok+`"}`)
	return c
}

func TestShutdownClosesSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := newFakeConn()

	done := make(chan struct{})
	if !srv.track() {
		t.Fatalf("track refused a connection before shutdown")
	}
	go func() {
		defer srv.wg.Done()
		srv.Serve(conn)
		close(done)
	}()

	// The welcome notice proves the session is up.
	for {
		conn.mu.Lock()
		n := len(conn.out)
		conn.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	srv.Shutdown()
	<-done
	if !conn.isClosed() {
		t.Fatalf("Shutdown left the transport open")
	}
	if got := srv.metrics.ActiveConnections.Load(); got != 0 {
		t.Fatalf("ActiveConnections = %d after shutdown", got)
	}
}

func TestConnectionsAfterShutdownAreRefused(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.Addr = "127.0.0.1:0"
	ln, err := srv.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	srv.Shutdown()

	if srv.track() {
		t.Fatalf("track accepted a connection after shutdown")
	}

	// A connection accepted just before Shutdown still gets served, but as a
	// dead session that only runs cleanup.
	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		srv.Serve(conn)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve blocked after shutdown")
	}
	if !conn.isClosed() {
		t.Fatalf("late session left its transport open")
	}
	if got := srv.metrics.ActiveConnections.Load(); got != 0 {
		t.Fatalf("ActiveConnections = %d, want 0", got)
	}
	n := 0
	srv.sessions.Range(func(_, _ any) bool { n++; return true })
	if n != 0 {
		t.Fatalf("%d sessions tracked after shutdown", n)
	}

	// A listener started late is closed instead of served.
	addr := ln.Addr().String()
	srv.StartTCP(ln)
	if c, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		_ = c.Close()
		t.Fatalf("dial succeeded on a listener started after shutdown")
	}
}

func TestStartRequiresStore(t *testing.T) {
	srv := New(DefaultConfig(), Dependencies{})
	defer srv.Shutdown()
	if err := srv.Start(); err == nil {
		t.Fatalf("Start without store: expected error")
	}
}
