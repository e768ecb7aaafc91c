package server

import (
	"log/slog"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// Router resolves room names and usernames against the registry and
// delivers events to the live sessions it finds at that moment.
type Router struct {
	registry *Registry
	metrics  *Metrics
}

func newRouter(reg *Registry, m *Metrics) *Router {
	return &Router{registry: reg, metrics: m}
}

// Broadcast sends ev to every member of room except from and returns the
// number of successful deliveries. A failed delivery never stops the
// fan-out.
func (rt *Router) Broadcast(room *Room, from *Session, ev protocol.Event) int {
	record, err := protocol.EncodeEvent(ev)
	if err != nil {
		slog.Error("encode broadcast", "room", room.Name(), "err", err)
		return 0
	}
	delivered := 0
	for _, target := range room.snapshot(from) {
		if rt.deliver(target, record) {
			delivered++
		}
	}
	return delivered
}

// DeliverTo sends ev to the live session of username. It reports false when
// the user is offline.
func (rt *Router) DeliverTo(username string, ev protocol.Event) bool {
	target, ok := rt.registry.Lookup(username)
	if !ok {
		return false
	}
	record, err := protocol.EncodeEvent(ev)
	if err != nil {
		slog.Error("encode direct message", "user", username, "err", err)
		return true
	}
	rt.deliver(target, record)
	return true
}

func (rt *Router) deliver(target *Session, record []byte) bool {
	if err := target.sendRecord(record); err != nil {
		rt.metrics.DeliveryFailures.Add(1)
		slog.Debug("delivery failed", "session", target.ID(), "user", target.Username(), "err", err)
		return false
	}
	return true
}
