// Package protocol implements the binary codec spoken between a game server
// and the remote lobby service. Every packet is framed with a 4-byte
// little-endian length prefix followed by a one-byte packet type and the
// type-specific payload.
package protocol

import "fmt"

// PacketType is the leading tag of every lobby packet.
type PacketType byte

// Packet types understood by the lobby link.
const (
	PacketEmpty               PacketType = 0 // No-op / keepalive
	PacketError               PacketType = 1 // Remote error report: [text:str]
	PacketDisconnect          PacketType = 2 // Connection closed notice
	PacketRequestID           PacketType = 3 // Handshake: [version:4][name:str]
	PacketResponseID          PacketType = 4 // Handshake reply: [version:4][player_id:4][time_ms:8]
	PacketRequestPing         PacketType = 5
	PacketResponsePing        PacketType = 6
	PacketRequestAddServer    PacketType = 7 // [game_id:2][name:str][players:2][internal][external]
	PacketRequestRemoveServer PacketType = 8 // [game_id:2][internal][external]
)

var packetNames = map[PacketType]string{
	PacketEmpty:               "Empty",
	PacketError:               "Error",
	PacketDisconnect:          "Disconnect",
	PacketRequestID:           "RequestID",
	PacketResponseID:          "ResponseID",
	PacketRequestPing:         "RequestPing",
	PacketResponsePing:        "ResponsePing",
	PacketRequestAddServer:    "RequestAddServer",
	PacketRequestRemoveServer: "RequestRemoveServer",
}

// String returns the packet name, or its hex value when unknown.
func (t PacketType) String() string {
	if name, ok := packetNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Packet(0x%02X)", byte(t))
}

// DefaultProtocolVersion is the handshake version this build speaks.
const DefaultProtocolVersion int32 = 12

// MaxMessageSize is the largest frame body (type + payload) accepted.
const MaxMessageSize = 16 * 1024 * 1024

// LengthPrefixSize is the size of the frame length prefix in bytes.
const LengthPrefixSize = 4
