package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// MetricsHandler serves /metrics (Prometheus text format), /metrics.json and
// /healthz.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		s.writeMetrics(w)
	})
	mux.HandleFunc("/metrics.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := s.metrics.WriteJSON(w); err != nil {
			slog.Debug("write metrics json", "err", err)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// StartMetricsHTTP starts the metrics endpoint in the background. It shuts
// down when the server context is cancelled. An empty Config.MetricsAddr
// disables it.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

func (s *Server) writeMetrics(w io.Writer) {
	m := s.metrics

	// Write errors are non-actionable here.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n", name, help, name, mtype, name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP roomchat_uptime_seconds Server uptime in seconds.\n# TYPE roomchat_uptime_seconds gauge\nroomchat_uptime_seconds %f\n",
		m.Uptime().Seconds())

	write("roomchat_connections_active", "Current live sessions.", "gauge", m.ActiveConnections.Load())
	write("roomchat_connections_total", "Lifetime connections accepted.", "counter", m.TotalConnections.Load())
	write("roomchat_disconnects_total", "Sessions cleaned up.", "counter", m.TotalDisconnects.Load())
	write("roomchat_auth_success_total", "Successful register/login.", "counter", m.SuccessfulAuths.Load())
	write("roomchat_auth_failed_total", "Rejected register/login attempts.", "counter", m.FailedAuths.Load())
	write("roomchat_users_online", "Usernames with a live session.", "gauge", int64(s.registry.OnlineCount()))
	write("roomchat_rooms", "Known rooms.", "gauge", int64(len(s.registry.RoomNames())))
	write("roomchat_room_messages_total", "Room messages accepted.", "counter", m.RoomMessages.Load())
	write("roomchat_private_messages_total", "Private messages delivered.", "counter", m.PrivateMessages.Load())
	write("roomchat_joins_total", "Join commands handled.", "counter", m.Joins.Load())
	write("roomchat_delivery_failures_total", "Failed writes to target sessions.", "counter", m.DeliveryFailures.Load())
	write("roomchat_invites_created_total", "Invites minted by this process.", "counter", m.InvitesCreated.Load())
}
