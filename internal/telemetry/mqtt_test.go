package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/lobby"
)

type staticStatus struct{ st lobby.Status }

func (s staticStatus) Status() lobby.Status { return s.st }

func newTestHandler(t *testing.T, link StatusSource) *MQTTHandler {
	t.Helper()
	h, err := NewMQTTHandler(config.MQTTConfig{
		Enabled:     true,
		BrokerURL:   "127.0.0.1",
		Port:        1883,
		TopicPrefix: "lobbylink/frontier/",
	}, events.NewEventBus(), link, "test")
	require.NoError(t, err)
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return h
}

func TestNewMQTTHandler_Disabled(t *testing.T) {
	_, err := NewMQTTHandler(config.MQTTConfig{}, nil, nil, "test")
	assert.Error(t, err)
}

func TestNewMQTTHandler_MissingCAFile(t *testing.T) {
	_, err := NewMQTTHandler(config.MQTTConfig{
		Enabled: true, BrokerURL: "broker", Port: 8883, UseTLS: true,
		CAFile: t.TempDir() + "/missing.pem",
	}, nil, nil, "test")
	assert.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	h := newTestHandler(t, nil)

	msg := h.buildMessage(map[string]interface{}{"event": "shutdown"})
	assert.Equal(t, "2026-01-02T03:04:05Z", msg["timestamp"])
	assert.Equal(t, "test", msg["app_version"])
	assert.Contains(t, msg, "hostname")
	assert.Equal(t, map[string]interface{}{"event": "shutdown"}, msg["payload"])
}

func TestTopic(t *testing.T) {
	h := newTestHandler(t, nil)
	assert.Equal(t, "lobbylink/frontier/link/events", h.topic(TopicLinkEvents))

	h.cfg.TopicPrefix = ""
	assert.Equal(t, "admin", h.topic(TopicAdmin))
}

func TestEventMessageAndHeartbeat(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := eventMessage(events.Event{
		Type:      events.EventLinkDropped,
		Source:    "lobby",
		Timestamp: at,
		Payload:   events.DroppedPayload{Reason: "connection lost"},
	})
	assert.Equal(t, "link_dropped", msg["event"])
	assert.Equal(t, "2026-01-02T03:04:05Z", msg["at"])

	h := newTestHandler(t, staticStatus{st: lobby.Status{Remote: "lobby:5129", Stage: lobby.StageVerified}})
	hb := h.heartbeat()
	require.Contains(t, hb, "link")
	assert.Equal(t, lobby.StageVerified, hb["link"].(lobby.Status).Stage)
	assert.Contains(t, hb, "resources")
}
