// Package health runs the periodic checks that keep the advertisement
// accurate: address re-detection and a watchdog over the lobby link.
package health

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/lobby"
	"github.com/energizer-project/lobbylink/internal/server"
)

// DetectFunc looks up one of this host's addresses.
type DetectFunc func(ctx context.Context) (netip.Addr, error)

// Detectors are the address lookups used by the monitor. A nil detector
// disables that check.
type Detectors struct {
	Local    DetectFunc
	External DetectFunc
}

// LinkStatus is the part of the lobby link the watchdog reads.
type LinkStatus interface {
	Status() lobby.Status
}

// Manager runs periodic health checks.
type Manager struct {
	state    *server.Advertised
	link     LinkStatus
	eventBus *events.EventBus
	detect   Detectors

	addressInterval  time.Duration
	watchdogInterval time.Duration

	mu         sync.Mutex
	lastHalt   string
	lastActive bool
}

// NewManager creates a health manager. Addresses pinned in cfg are never
// re-detected.
func NewManager(cfg config.ServerConfig, link LinkStatus, state *server.Advertised, eventBus *events.EventBus, detect Detectors) *Manager {
	if cfg.LocalIP != "" {
		detect.Local = nil
	}
	if cfg.ExternalIP != "" {
		detect.External = nil
	}
	return &Manager{
		state:            state,
		link:             link,
		eventBus:         eventBus,
		detect:           detect,
		addressInterval:  time.Duration(cfg.AddressCheckIntervalSec) * time.Second,
		watchdogInterval: 30 * time.Second,
	}
}

// Start launches the checks and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"addresses", m.addressInterval, m.CheckAddresses},
		{"link_watchdog", m.watchdogInterval, m.CheckLink},
	}

	var wg sync.WaitGroup
	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		wg.Add(1)
		go func(name string, interval time.Duration, fn func(context.Context)) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					log.Trace().Str("check", name).Msg("running health check")
					fn(ctx)
				}
			}
		}(check.name, check.interval, check.fn)
	}

	log.Info().Int("checks", started).Msg("health check manager started")
	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("health check manager stopped")
}

// CheckAddresses re-detects the local and external IP and updates the
// advertisement when either changed.
func (m *Manager) CheckAddresses(ctx context.Context) {
	m.checkAddress(ctx, "local", m.detect.Local, m.state.LocalIP, m.state.SetLocalIP)
	m.checkAddress(ctx, "external", m.detect.External, m.state.ExternalIP, m.state.SetExternalIP)
}

func (m *Manager) checkAddress(ctx context.Context, kind string, detect DetectFunc,
	current func() netip.Addr, set func(netip.Addr) bool) {

	if detect == nil {
		return
	}

	ip, err := detect(ctx)
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("address check failed")
		return
	}

	old := current()
	if !set(ip) {
		return
	}

	log.Warn().
		Str("kind", kind).
		Str("old_ip", old.String()).
		Str("new_ip", ip.String()).
		Msg("address changed, republishing")

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventAddressChanged,
		Source: "health_check",
		Payload: events.AddressChangedPayload{
			Kind: kind,
			Old:  old.String(),
			New:  ip.String(),
		},
	})
}

// CheckLink logs link state transitions the operator should know about.
// A halted link is reported once per halt reason.
func (m *Manager) CheckLink(ctx context.Context) {
	if m.link == nil {
		return
	}
	st := m.link.Status()

	m.mu.Lock()
	defer m.mu.Unlock()

	if st.Halted && st.HaltReason != m.lastHalt {
		log.Error().
			Str("remote", st.Remote).
			Str("reason", st.HaltReason).
			Msg("lobby link is halted and needs an explicit start")
	}
	if !st.Halted {
		m.lastHalt = ""
	} else {
		m.lastHalt = st.HaltReason
	}

	if m.lastActive && !st.Active && !st.ShuttingDown {
		log.Warn().
			Str("remote", st.Remote).
			Time("next_connect_at", st.NextConnectAt).
			Msg("lobby link inactive")
	}
	m.lastActive = st.Active
}
