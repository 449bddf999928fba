// Package metrics exposes the lobby link's state and event counts in the
// Prometheus text format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/lobby"
)

const namespace = "lobbylink"

// StatusSource is anything that can report link status. *lobby.Link
// satisfies it.
type StatusSource interface {
	Status() lobby.Status
}

// Collector owns a private registry so tests and embedders never collide
// with the global default.
type Collector struct {
	reg    *prometheus.Registry
	events *prometheus.CounterVec
}

// New registers link gauges that read from link on every scrape.
func New(link StatusSource) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		reg: reg,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events seen on the bus, by type.",
		}, []string{"type"}),
	}

	gauge := func(name, help string, fn func(lobby.Status) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(link.Status()) })
	}
	counter := func(name, help string, fn func(lobby.Counters) uint64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn(link.Status().Counters)) })
	}

	gauge("stage", "Connection stage: 0 disconnected, 1 connecting, 2 verifying, 3 verified.",
		func(s lobby.Status) float64 { return float64(s.Stage) })
	gauge("active", "1 while the transport is connected.",
		func(s lobby.Status) float64 { return boolFloat(s.Active) })
	gauge("halted", "1 after a fatal handshake failure until the next start.",
		func(s lobby.Status) float64 { return boolFloat(s.Halted) })
	gauge("update_pending", "1 while a snapshot is waiting to be advertised.",
		func(s lobby.Status) float64 { return boolFloat(s.UpdatePending) })
	gauge("clock_offset_ms", "Remote clock minus local clock, learned at handshake.",
		func(s lobby.Status) float64 { return float64(s.ClockOffsetMs) })
	gauge("advertised_players", "Player count in the latest snapshot.",
		func(s lobby.Status) float64 {
			if s.Snapshot == nil {
				return 0
			}
			return float64(s.Snapshot.PlayerCount)
		})

	counter("connect_attempts_total", "Connect attempts initiated.",
		func(c lobby.Counters) uint64 { return c.ConnectAttempts })
	counter("verifications_total", "Successful handshakes.",
		func(c lobby.Counters) uint64 { return c.Verifications })
	counter("drops_total", "Sessions that ended and scheduled a reconnect.",
		func(c lobby.Counters) uint64 { return c.Drops })
	counter("remote_errors_total", "Error packets received from the lobby.",
		func(c lobby.Counters) uint64 { return c.RemoteErrors })
	counter("decode_errors_total", "Inbound messages that failed to decode.",
		func(c lobby.Counters) uint64 { return c.DecodeErrors })
	counter("advertisements_total", "Snapshots sent to the lobby.",
		func(c lobby.Counters) uint64 { return c.Advertisements })

	return c
}

// Attach counts every link and address event published on bus.
func (c *Collector) Attach(bus *events.EventBus) {
	types := append([]events.EventType{events.EventAddressChanged}, events.LinkEventTypes...)
	for _, t := range types {
		// Pre-create so every series is exported from the first scrape.
		c.events.WithLabelValues(string(t))
	}
	bus.SubscribeMany(types, "metrics", func(_ context.Context, e events.Event) error {
		c.events.WithLabelValues(string(e.Type)).Inc()
		return nil
	})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
