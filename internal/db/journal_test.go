package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/lobbylink/internal/events"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := openJournal(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(events.Event{
		Type:      events.EventLinkVerified,
		Source:    "lobby_link",
		Timestamp: base,
		Payload:   events.VerifiedPayload{Remote: "lobby:5129", PlayerID: 11},
	}))
	require.NoError(t, j.Record(events.Event{
		Type:      events.EventLinkDropped,
		Source:    "lobby_link",
		Timestamp: base.Add(time.Minute),
		Payload:   events.DroppedPayload{Remote: "lobby:5129", Reason: "connection lost"},
	}))
	require.NoError(t, j.Record(events.Event{
		Type:      events.EventLinkStopped,
		Timestamp: base.Add(2 * time.Minute),
	}))

	all, err := j.Recent(10, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, string(events.EventLinkStopped), all[0].Type, "newest first")
	assert.Nil(t, all[0].Payload)
	assert.True(t, all[2].At.Equal(base))

	verified, err := j.Recent(10, string(events.EventLinkVerified))
	require.NoError(t, err)
	require.Len(t, verified, 1)

	var p events.VerifiedPayload
	require.NoError(t, json.Unmarshal(verified[0].Payload, &p))
	assert.Equal(t, int32(11), p.PlayerID)

	limited, err := j.Recent(1, "")
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := j.CountByType()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"link_verified": 1,
		"link_dropped":  1,
		"link_stopped":  1,
	}, counts)
}

func TestJournal_Prune(t *testing.T) {
	j := openJournal(t)
	now := time.Now()

	require.NoError(t, j.Record(events.Event{Type: events.EventLinkConnecting, Timestamp: now.Add(-48 * time.Hour)}))
	require.NoError(t, j.Record(events.Event{Type: events.EventLinkConnecting, Timestamp: now}))

	n, err := j.Prune(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := j.Recent(10, "")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestJournal_AttachRecordsBusEvents(t *testing.T) {
	j := openJournal(t)
	bus := events.NewEventBus()
	j.Attach(bus)

	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventAddressChanged,
		Source:  "health_check",
		Payload: events.AddressChangedPayload{Kind: "external", Old: "203.0.113.7", New: "198.51.100.4"},
	}))
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type:   events.EventServerAdvertised,
		Source: "lobby_link",
	}))
	// Not journaled.
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{Type: events.EventShutdown}))
	bus.Stop()

	entries, err := j.Recent(10, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "server_advertised", entries[0].Type)
	assert.Equal(t, "health_check", entries[1].Source)
}
