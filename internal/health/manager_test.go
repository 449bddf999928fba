package health

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/lobby"
	"github.com/energizer-project/lobbylink/internal/server"
)

type countingUpdater struct {
	mu    sync.Mutex
	snaps []lobby.Snapshot
}

func (c *countingUpdater) RequestUpdate(s lobby.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *countingUpdater) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

type staticStatus struct{ st lobby.Status }

func (s staticStatus) Status() lobby.Status { return s.st }

func fixed(ip string) DetectFunc {
	return func(context.Context) (netip.Addr, error) {
		return netip.MustParseAddr(ip), nil
	}
}

func TestCheckAddresses_RepublishesOnChange(t *testing.T) {
	up := &countingUpdater{}
	cfg := config.ServerConfig{Name: "Frontier", TCPPort: 5127}
	state := server.NewAdvertised(up, cfg)

	bus := events.NewEventBus()
	defer bus.Stop()
	changes := make(chan events.AddressChangedPayload, 4)
	bus.Subscribe(events.EventAddressChanged, "test", func(_ context.Context, e events.Event) error {
		changes <- e.Payload.(events.AddressChangedPayload)
		return nil
	})

	external := "203.0.113.7"
	var mu sync.Mutex
	m := NewManager(cfg, nil, state, bus, Detectors{
		Local: fixed("192.168.1.20"),
		External: func(context.Context) (netip.Addr, error) {
			mu.Lock()
			defer mu.Unlock()
			return netip.MustParseAddr(external), nil
		},
	})

	m.CheckAddresses(context.Background())
	assert.Equal(t, 2, up.count())
	assert.Equal(t, netip.MustParseAddrPort("203.0.113.7:5127"), state.Snapshot().ExternalAddr)

	// Unchanged addresses are not republished.
	m.CheckAddresses(context.Background())
	assert.Equal(t, 2, up.count())

	mu.Lock()
	external = "198.51.100.4"
	mu.Unlock()
	m.CheckAddresses(context.Background())
	assert.Equal(t, 3, up.count())

	var got []events.AddressChangedPayload
	require.Eventually(t, func() bool {
		for {
			select {
			case p := <-changes:
				got = append(got, p)
			default:
				return len(got) == 3
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestCheckAddresses_PinnedAndFailing(t *testing.T) {
	up := &countingUpdater{}
	cfg := config.ServerConfig{Name: "Frontier", TCPPort: 5127, ExternalIP: "203.0.113.7"}
	state := server.NewAdvertised(up, cfg)

	externalCalled := false
	m := NewManager(cfg, nil, state, nil, Detectors{
		Local: func(context.Context) (netip.Addr, error) {
			return netip.Addr{}, errors.New("no route")
		},
		External: func(context.Context) (netip.Addr, error) {
			externalCalled = true
			return netip.MustParseAddr("198.51.100.4"), nil
		},
	})

	m.CheckAddresses(context.Background())
	assert.False(t, externalCalled, "pinned addresses are not re-detected")
	assert.Zero(t, up.count())
	assert.Equal(t, netip.MustParseAddr("203.0.113.7"), state.ExternalIP())
}

func TestCheckLink_TracksHalt(t *testing.T) {
	link := &staticStatus{st: lobby.Status{Halted: true, HaltReason: "protocol version mismatch"}}
	m := NewManager(config.ServerConfig{}, link, nil, nil, Detectors{})

	m.CheckLink(context.Background())
	assert.Equal(t, "protocol version mismatch", m.lastHalt)

	link.st = lobby.Status{Active: true}
	m.CheckLink(context.Background())
	assert.Empty(t, m.lastHalt)
	assert.True(t, m.lastActive)
}

func TestStart_StopsWithContext(t *testing.T) {
	m := NewManager(config.ServerConfig{AddressCheckIntervalSec: 1}, nil, nil, nil, Detectors{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
}
