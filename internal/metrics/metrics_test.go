package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/lobby"
)

type staticStatus struct{ st lobby.Status }

func (s *staticStatus) Status() lobby.Status { return s.st }

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector_ExportsLinkStatus(t *testing.T) {
	src := &staticStatus{st: lobby.Status{
		Stage:         lobby.StageVerified,
		Active:        true,
		ClockOffsetMs: 1500,
		Snapshot:      &lobby.Snapshot{Name: "Frontier", PlayerCount: 7},
		Counters:      lobby.Counters{ConnectAttempts: 4, Advertisements: 2},
	}}
	c := New(src)

	body := scrape(t, c)
	assert.Contains(t, body, "lobbylink_link_stage 3")
	assert.Contains(t, body, "lobbylink_link_active 1")
	assert.Contains(t, body, "lobbylink_link_halted 0")
	assert.Contains(t, body, "lobbylink_link_clock_offset_ms 1500")
	assert.Contains(t, body, "lobbylink_link_advertised_players 7")
	assert.Contains(t, body, "lobbylink_link_connect_attempts_total 4")
	assert.Contains(t, body, "lobbylink_link_advertisements_total 2")
	assert.Contains(t, body, "go_goroutines")

	src.st.Stage = lobby.StageDisconnected
	src.st.Active = false
	body = scrape(t, c)
	assert.Contains(t, body, "lobbylink_link_stage 0")
	assert.Contains(t, body, "lobbylink_link_active 0")
}

func TestCollector_CountsEvents(t *testing.T) {
	c := New(&staticStatus{})
	bus := events.NewEventBus()
	c.Attach(bus)

	ctx := context.Background()
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventLinkDropped}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventLinkDropped}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventLinkVerified}))
	bus.Stop()

	body := scrape(t, c)
	assert.Contains(t, body, `lobbylink_events_total{type="link_dropped"} 2`)
	assert.Contains(t, body, `lobbylink_events_total{type="link_verified"} 1`)
	assert.Contains(t, body, `lobbylink_events_total{type="link_stopped"} 0`)
}
