package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics holds the server's lock-free counters. Gauges derived from the
// registry (users online, rooms) are read at scrape time instead.
type Metrics struct {
	started time.Time

	TotalConnections  atomic.Int64 // TCP and WebSocket sessions opened
	ActiveConnections atomic.Int64 // sessions not yet cleaned up
	TotalDisconnects  atomic.Int64 // sessions cleaned up
	SuccessfulAuths   atomic.Int64
	FailedAuths       atomic.Int64

	Joins            atomic.Int64
	RoomMessages     atomic.Int64
	PrivateMessages  atomic.Int64
	DeliveryFailures atomic.Int64 // writes to a target session that failed

	InvitesCreated atomic.Int64 // minted by this process
}

// NewMetrics starts the uptime clock.
func NewMetrics() *Metrics {
	return &Metrics{started: time.Now()}
}

// Uptime reports how long the metrics have been collected.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.started)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	UptimeSeconds int64 `json:"uptime_seconds"`

	TotalConnections  int64 `json:"connections_total"`
	ActiveConnections int64 `json:"connections_active"`
	TotalDisconnects  int64 `json:"disconnects_total"`
	SuccessfulAuths   int64 `json:"auth_success_total"`
	FailedAuths       int64 `json:"auth_failed_total"`

	Joins            int64 `json:"joins_total"`
	RoomMessages     int64 `json:"room_messages_total"`
	PrivateMessages  int64 `json:"private_messages_total"`
	DeliveryFailures int64 `json:"delivery_failures_total"`

	InvitesCreated int64 `json:"invites_created_total"`
}

// Snapshot loads every counter. Counters are read independently, so the
// copy is not atomic across fields.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:     int64(m.Uptime().Seconds()),
		TotalConnections:  m.TotalConnections.Load(),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		Joins:             m.Joins.Load(),
		RoomMessages:      m.RoomMessages.Load(),
		PrivateMessages:   m.PrivateMessages.Load(),
		DeliveryFailures:  m.DeliveryFailures.Load(),
		InvitesCreated:    m.InvitesCreated.Load(),
	}
}

// WriteJSON encodes a snapshot to w.
func (m *Metrics) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m.Snapshot())
}

func (m *Metrics) logSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", m.Uptime().Truncate(time.Second).String(),
		"sessions", s.ActiveConnections,
		"sessions_total", s.TotalConnections,
		"auth_failed", s.FailedAuths,
		"room_msgs", s.RoomMessages,
		"private_msgs", s.PrivateMessages,
		"delivery_failures", s.DeliveryFailures,
	)
}

// LogEvery logs a summary each interval until ctx is done.
func (m *Metrics) LogEvery(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.logSummary()
		}
	}
}
