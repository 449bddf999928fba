package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/db"
	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/lobby"
	"github.com/energizer-project/lobbylink/internal/server"
)

type fakeLink struct {
	mu      sync.Mutex
	starts  int
	stops   int
	updates []lobby.Snapshot
}

func (f *fakeLink) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakeLink) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeLink) Status() lobby.Status {
	return lobby.Status{
		Remote:     "lobby:5129",
		Stage:      lobby.StageDisconnected,
		Halted:     true,
		HaltReason: "protocol version mismatch",
	}
}

func (f *fakeLink) RequestUpdate(s lobby.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, s)
}

type fakeJournal struct{ entries []db.JournalEntry }

func (f fakeJournal) Recent(limit int, _ string) ([]db.JournalEntry, error) {
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func runCLI(t *testing.T, input string, journal EventLog) (string, *fakeLink, *server.Advertised, *config.Config, *events.EventBus) {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	cfg.Server.Name = "Frontier"

	link := &fakeLink{}
	state := server.NewAdvertised(link, cfg.GetServer())
	bus := events.NewEventBus()

	var out bytes.Buffer
	c := NewCLI(cfg, bus, link, state, journal, strings.NewReader(input), &out)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("console did not finish")
	}
	return out.String(), link, state, cfg, bus
}

func TestCLI_Status(t *testing.T) {
	out, _, _, _, _ := runCLI(t, "status\n", nil)
	assert.Contains(t, out, "lobby:5129")
	assert.Contains(t, out, "disconnected")
	assert.Contains(t, out, "protocol version mismatch")
	assert.Contains(t, out, "Frontier")
}

func TestCLI_PlayersAndName(t *testing.T) {
	out, link, state, cfg, _ := runCLI(t, "players 6\nplayers 6\nplayers x\nname Frontier  West\n", nil)

	assert.Contains(t, out, "Player count set to 6")
	assert.Contains(t, out, "Player count unchanged")
	assert.Contains(t, out, "Error: invalid count: x")
	assert.Equal(t, 6, state.Snapshot().PlayerCount)

	assert.Equal(t, "Frontier West", state.Snapshot().Name)
	assert.Equal(t, "Frontier West", cfg.GetServer().Name)

	link.mu.Lock()
	defer link.mu.Unlock()
	assert.Len(t, link.updates, 2)
}

func TestCLI_StartStopQuit(t *testing.T) {
	shutdowns := make(chan events.Event, 1)
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	link := &fakeLink{}
	state := server.NewAdvertised(link, cfg.GetServer())
	eb := events.NewEventBus()
	eb.Subscribe(events.EventShutdown, "test", func(_ context.Context, e events.Event) error {
		shutdowns <- e
		return nil
	})

	var out bytes.Buffer
	c := NewCLI(cfg, eb, link, state, nil, strings.NewReader("start\nstop\nquit\nstatus\n"), &out)
	c.Start(context.Background())

	select {
	case e := <-shutdowns:
		assert.Equal(t, "cli", e.Source)
	case <-time.After(time.Second):
		t.Fatal("quit did not request shutdown")
	}

	link.mu.Lock()
	defer link.mu.Unlock()
	assert.Equal(t, 1, link.starts)
	assert.Equal(t, 1, link.stops)
	assert.Len(t, link.updates, 1)
	assert.NotContains(t, out.String(), "lobby:5129", "commands after quit are not run")
}

func TestCLI_Events(t *testing.T) {
	out, _, _, _, _ := runCLI(t, "events\n", nil)
	assert.Contains(t, out, "event journal is disabled")

	payload, _ := json.Marshal(events.DroppedPayload{Reason: "connection lost"})
	j := fakeJournal{entries: []db.JournalEntry{
		{ID: 2, At: time.Now(), Type: "link_dropped", Payload: payload},
		{ID: 1, At: time.Now(), Type: "link_verified"},
	}}

	out, _, _, _, _ = runCLI(t, "events 1\nevents 0\n", j)
	assert.Contains(t, out, "link_dropped")
	assert.Contains(t, out, "connection lost")
	assert.NotContains(t, out, "link_verified")
	assert.Contains(t, out, "invalid count: 0")
}

func TestCLI_UnknownCommand(t *testing.T) {
	out, _, _, _, _ := runCLI(t, "frobnicate\n\nhelp\n", nil)
	assert.Contains(t, out, "Unknown command: 'frobnicate'")
	assert.Contains(t, out, "players <n>")
}
