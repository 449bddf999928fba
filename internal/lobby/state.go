// Package lobby keeps a game server advertised on a remote lobby service.
//
// A Link owns one background worker that connects, performs the version
// handshake, learns the remote clock offset and republishes the latest
// Snapshot whenever it changes. Callers only ever touch the non-blocking
// façade: Start, RequestUpdate, Stop, IsActive and ServerTime.
package lobby

import (
	"net/netip"
	"time"

	"github.com/energizer-project/lobbylink/internal/network"
)

// Stage is the connection progress of a Link.
type Stage int32

const (
	StageDisconnected Stage = iota
	StageConnecting
	StageVerifying
	StageVerified
)

var stageNames = map[Stage]string{
	StageDisconnected: "disconnected",
	StageConnecting:   "connecting",
	StageVerifying:    "verifying",
	StageVerified:     "verified",
}

// String returns the lowercase stage name.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON serializes Stage as a JSON string (e.g. "verified").
func (s Stage) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// transitions lists the legal moves out of each stage. Staying in place is
// always allowed.
var transitions = map[Stage][]Stage{
	StageDisconnected: {StageConnecting},
	StageConnecting:   {StageVerifying, StageDisconnected},
	StageVerifying:    {StageVerified, StageDisconnected},
	StageVerified:     {StageDisconnected},
}

// CanTransition reports whether moving from s to next is legal.
func (s Stage) CanTransition(next Stage) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Snapshot is what gets advertised for the local game server.
type Snapshot struct {
	ServerID     string         `json:"server_id,omitempty"`
	Name         string         `json:"name"`
	PlayerCount  int            `json:"player_count"`
	LocalAddr    netip.AddrPort `json:"local_addr"`
	ExternalAddr netip.AddrPort `json:"external_addr"`
}

// Counters are cumulative since the Link was created.
type Counters struct {
	WorkerStarts    uint64 `json:"worker_starts"`
	ConnectAttempts uint64 `json:"connect_attempts"`
	Verifications   uint64 `json:"verifications"`
	Drops           uint64 `json:"drops"`
	RemoteErrors    uint64 `json:"remote_errors"`
	DecodeErrors    uint64 `json:"decode_errors"`
	Advertisements  uint64 `json:"advertisements"`
}

// Status is a read-only view of a Link for the API, CLI and telemetry.
type Status struct {
	Remote           string         `json:"remote"`
	Stage            Stage          `json:"stage"`
	Active           bool           `json:"active"`
	Running          bool           `json:"running"`
	ShuttingDown     bool           `json:"shutting_down"`
	Halted           bool           `json:"halted"`
	HaltReason       string         `json:"halt_reason,omitempty"`
	UpdatePending    bool           `json:"update_pending"`
	WasEverConnected bool           `json:"was_ever_connected"`
	ClockOffsetMs    int64          `json:"clock_offset_ms"`
	ServerTimeMs     int64          `json:"server_time_ms"`
	NextConnectAt    time.Time      `json:"next_connect_at"`
	Snapshot         *Snapshot      `json:"snapshot,omitempty"`
	Counters         Counters       `json:"counters"`
	Transport        *network.Stats `json:"transport,omitempty"`
}
