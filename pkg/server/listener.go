package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/roomchat/pkg/transport"
)

// Listen binds the TCP listener, wrapping it in TLS when configured.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}
	if s.cfg.TLS {
		tlsCfg, err := serverTLSConfig(s.cfg)
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("server: tls: %w", err)
		}
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

// StartTCP accepts connections on ln in the background, one goroutine per
// connection.
func (s *Server) StartTCP(ln net.Listener) {
	if !s.addListener(ln) {
		return
	}
	slog.Info("chat listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("accept error", "err", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if !s.track() {
				_ = conn.Close()
				return
			}
			go func() {
				defer s.wg.Done()
				s.Serve(transport.NewLineConn(conn))
			}()
		}
	}()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketHandler upgrades requests and runs a session per socket. Each text
// frame carries exactly one record.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.track() {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		defer s.wg.Done()
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		s.Serve(transport.NewWSConn(ws, 0))
	})
}

// StartWebSocket serves WebSocket sessions on /ws at Config.WSAddr.
func (s *Server) StartWebSocket() error {
	if s.cfg.WSAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		return fmt.Errorf("server: listen websocket: %w", err)
	}
	if !s.addListener(ln) {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", s.WebSocketHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("websocket listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			slog.Error("websocket server error", "err", err)
		}
	}()
	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
	return nil
}
