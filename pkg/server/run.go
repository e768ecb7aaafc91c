package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/crypto"
	"github.com/NicolasHaas/roomchat/pkg/datastore"
)

// Start prepares state and starts every configured listener without
// blocking. Callers stop it with Shutdown.
func (s *Server) Start() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	ctx := s.ctx

	// Load rooms from YAML config if provided
	if s.cfg.RoomsFile != "" {
		if _, err := LoadRoomsFromYAML(ctx, s.cfg.RoomsFile, s.store); err != nil {
			slog.Error("failed to load rooms config", "err", err)
		}
	}

	// Stored rooms are known to the registry (and to the rooms command)
	// before anyone joins them.
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		slog.Warn("preload rooms", "err", err)
	}
	for _, r := range rooms {
		s.registry.EnsureRoom(r.Name)
	}

	if err := s.ensureFirstInvite(ctx); err != nil {
		return err
	}

	ln, err := s.Listen()
	if err != nil {
		return err
	}
	s.StartTCP(ln)
	if err := s.StartWebSocket(); err != nil {
		s.Shutdown()
		return err
	}
	s.StartMetricsHTTP()
	return nil
}

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	defer func() { _ = s.store.Close() }()

	if err := s.Start(); err != nil {
		return err
	}

	slog.Info("roomchat server running",
		"addr", s.cfg.Addr,
		"websocket", s.cfg.WSAddr,
		"metrics", s.cfg.MetricsAddr,
	)

	go s.metrics.LogEvery(s.ctx, time.Minute)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// ensureFirstInvite mints an invite only on first run (no invites exist), so
// the first user can register.
func (s *Server) ensureFirstInvite(ctx context.Context) error {
	n, err := s.store.CountInvites(ctx)
	if err != nil {
		return fmt.Errorf("server: count invites: %w", err)
	}
	if n > 0 {
		return nil
	}

	tokens, err := MintInvites(ctx, s.store, 1)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	s.metrics.InvitesCreated.Add(1)

	slog.Info("========================================")
	slog.Info("INVITE TOKEN (save this!):", "token", tokens[0])
	slog.Info("========================================")
	return nil
}

// MintInvites creates n fresh invites and returns the raw tokens. Only their
// hashes are stored.
func MintInvites(ctx context.Context, st datastore.InviteProvider, n int) ([]string, error) {
	tokens := make([]string, 0, n)
	for range n {
		raw, err := crypto.GenerateToken()
		if err != nil {
			return nil, fmt.Errorf("generate invite: %w", err)
		}
		if err := st.CreateInvite(ctx, crypto.HashToken(raw)); err != nil {
			return nil, fmt.Errorf("store invite: %w", err)
		}
		tokens = append(tokens, raw)
	}
	return tokens, nil
}
