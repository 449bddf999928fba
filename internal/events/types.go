// Package events defines the event types emitted by the lobby link and the
// bus that fans them out to the journal, telemetry and metrics.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Link lifecycle events
	EventLinkConnecting      EventType = "link_connecting"
	EventLinkVerified        EventType = "link_verified"
	EventLinkDropped         EventType = "link_dropped"
	EventLinkVersionMismatch EventType = "link_version_mismatch"
	EventLinkRemoteError     EventType = "link_remote_error"
	EventLinkStopped         EventType = "link_stopped"

	// Advertisement events
	EventServerAdvertised EventType = "server_advertised"
	EventAddressChanged   EventType = "address_changed"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// LinkEventTypes lists every event the lobby link emits, in a stable order.
var LinkEventTypes = []EventType{
	EventLinkConnecting,
	EventLinkVerified,
	EventLinkDropped,
	EventLinkVersionMismatch,
	EventLinkRemoteError,
	EventLinkStopped,
	EventServerAdvertised,
}

// Event represents a single event in the system.
type Event struct {
	Type      EventType
	Source    string
	Timestamp time.Time
	Payload   interface{}
}

// ConnectingPayload is emitted when a connect attempt is initiated.
type ConnectingPayload struct {
	Remote        string    `json:"remote"`
	NextConnectAt time.Time `json:"next_connect_at"`
}

// VerifiedPayload is emitted after a successful handshake.
type VerifiedPayload struct {
	Remote        string `json:"remote"`
	PlayerID      int32  `json:"player_id"`
	ClockOffsetMs int64  `json:"clock_offset_ms"`
}

// DroppedPayload is emitted when the session ends or the remote reports a
// problem and a reconnect is scheduled.
type DroppedPayload struct {
	Remote    string        `json:"remote"`
	Reason    string        `json:"reason"`
	Backoff   time.Duration `json:"backoff"`
	Verified  bool          `json:"verified"`
	NextRetry time.Time     `json:"next_retry"`
}

// VersionMismatchPayload is emitted when the handshake fails for good.
type VersionMismatchPayload struct {
	Remote string `json:"remote"`
	Local  int32  `json:"local_version"`
	Error  string `json:"error"`
}

// RemoteErrorPayload carries the text of an Error packet.
type RemoteErrorPayload struct {
	Remote string `json:"remote"`
	Text   string `json:"text"`
}

// AdvertisedPayload is emitted after an advertisement was sent.
type AdvertisedPayload struct {
	Name         string `json:"name"`
	PlayerCount  int    `json:"player_count"`
	LocalAddr    string `json:"local_addr"`
	ExternalAddr string `json:"external_addr"`
}

// StoppedPayload is emitted when the worker exits.
type StoppedPayload struct {
	Reason string `json:"reason"`
}

// AddressChangedPayload is emitted when the address monitor sees a new IP.
type AddressChangedPayload struct {
	Kind string `json:"kind"` // "local" or "external"
	Old  string `json:"old"`
	New  string `json:"new"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
