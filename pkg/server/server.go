// Package server implements the roomchat server: connection listeners, the
// per-connection session engine and the shared registries that route room and
// direct messages between sessions.
package server

import (
	"context"
	"net"
	"sync"

	"github.com/NicolasHaas/roomchat/pkg/crypto"
	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/transport"
)

// Config holds server configuration.
type Config struct {
	Addr        string // TCP bind address (e.g. ":5000")
	WSAddr      string // WebSocket bind address, empty = disabled
	TLS         bool   // serve TLS on Addr
	CertFile    string // TLS certificate file path
	KeyFile     string // TLS private key file path
	DataDir     string // directory for generated certs
	DSN         string // SQLite path or postgres:// URL
	HashScheme  string // "argon2" or "bcrypt"
	RoomsFile   string // YAML file defining rooms to create on startup
	MetricsAddr string // HTTP bind address for /metrics endpoint (empty = disabled)

	// CLI-only actions (run and exit)
	MintInvites int  // mint this many invites, print them and exit
	ExportRooms bool // export all rooms as YAML and exit
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store    datastore.Gateway
	Verifier crypto.Verifier
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        ":5000",
		MetricsAddr: ":5002",
		DSN:         "roomchat.db",
		DataDir:     ".",
		HashScheme:  crypto.SchemeArgon2,
	}
}

// Server is the main roomchat server.
type Server struct {
	cfg      Config
	registry *Registry
	router   *Router
	metrics  *Metrics
	store    datastore.Gateway
	verifier crypto.Verifier

	mu        sync.Mutex
	closing   bool // set once by Shutdown; guards listeners, sessions and wg.Add
	listeners []net.Listener
	sessions  sync.Map // session id -> *Session
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance. A nil Verifier defaults to argon2id.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	verifier := deps.Verifier
	if verifier == nil {
		verifier = &crypto.MultiVerifier{Primary: crypto.DefaultArgon2()}
	}
	reg := NewRegistry()
	m := NewMetrics()
	return &Server{
		cfg:      cfg,
		registry: reg,
		router:   newRouter(reg, m),
		metrics:  m,
		store:    deps.Store,
		verifier: verifier,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the live registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Serve runs a session on conn and blocks until it ends. It is the entry
// point shared by every listener.
func (s *Server) Serve(conn transport.Conn) {
	s.open(conn).serve(s.ctx)
}

// open registers a session for conn. Once Shutdown has begun the session is
// returned already dead, so serving it only runs cleanup.
func (s *Server) open(conn transport.Conn) *Session {
	sess := newSession(s, conn)
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)

	s.mu.Lock()
	closing := s.closing
	if !closing {
		s.sessions.Store(sess.id, sess)
	}
	s.mu.Unlock()
	if closing {
		sess.kill()
	}
	return sess
}

func (s *Server) forget(sess *Session) {
	s.sessions.Delete(sess.id)
}

// track adds one connection goroutine to the shutdown wait group. It reports
// false once Shutdown has begun; the caller must then drop the connection.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// addListener records ln for Shutdown. After Shutdown it closes ln and
// reports false.
func (s *Server) addListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		_ = ln.Close()
		return false
	}
	s.listeners = append(s.listeners, ln)
	return true
}

// Shutdown stops accepting, closes every live session and waits for their
// goroutines to finish cleanup.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	s.cancel()
	for _, ln := range listeners {
		_ = ln.Close()
	}

	s.sessions.Range(func(_, v any) bool {
		v.(*Session).kill()
		return true
	})
	s.wg.Wait()
}
