package protocol

import (
	"fmt"
	"net/netip"
)

// BeginPacket acquires a message from pool and writes the packet type.
// The caller either sends it (the transport releases it) or releases it.
func BeginPacket(pool *MessagePool, t PacketType) *Message {
	if pool == nil {
		pool = DefaultPool
	}
	m := pool.Acquire()
	m.WriteUint8(byte(t))
	m.pos = 1
	return m
}

// ---- Pre-built packet constructors ----

// BuildRequestID creates the client half of the handshake.
// Format: [type:1][version:4][name:str]
func BuildRequestID(pool *MessagePool, version int32, clientName string) *Message {
	m := BeginPacket(pool, PacketRequestID)
	m.WriteInt32(version)
	m.WriteString(clientName)
	return m
}

// BuildResponseID creates the lobby half of the handshake.
// Format: [type:1][version:4][player_id:4][time_ms:8]
func BuildResponseID(pool *MessagePool, version, playerID int32, serverTimeMs int64) *Message {
	m := BeginPacket(pool, PacketResponseID)
	m.WriteInt32(version)
	m.WriteInt32(playerID)
	m.WriteInt64(serverTimeMs)
	return m
}

// BuildAddServer creates a server advertisement.
// Format: [type:1][game_id:2][name:str][players:2][internal:addr][external:addr]
func BuildAddServer(pool *MessagePool, gameID uint16, name string, playerCount int, internal, external netip.AddrPort) *Message {
	m := BeginPacket(pool, PacketRequestAddServer)
	m.WriteUint16(gameID)
	m.WriteString(name)
	m.WriteInt16(clampInt16(playerCount))
	WriteAddr(m, internal)
	WriteAddr(m, external)
	return m
}

// BuildRemoveServer creates a server deregistration.
// Format: [type:1][game_id:2][internal:addr][external:addr]
func BuildRemoveServer(pool *MessagePool, gameID uint16, internal, external netip.AddrPort) *Message {
	m := BeginPacket(pool, PacketRequestRemoveServer)
	m.WriteUint16(gameID)
	WriteAddr(m, internal)
	WriteAddr(m, external)
	return m
}

// BuildError creates an error report.
// Format: [type:1][text:str]
func BuildError(pool *MessagePool, text string) *Message {
	m := BeginPacket(pool, PacketError)
	m.WriteString(text)
	return m
}

// BuildDisconnect creates a disconnect notice. It has no payload.
func BuildDisconnect(pool *MessagePool) *Message {
	return BeginPacket(pool, PacketDisconnect)
}

// AddServer is the decoded form of a RequestAddServer packet.
type AddServer struct {
	GameID      uint16         `json:"game_id"`
	Name        string         `json:"name"`
	PlayerCount int16          `json:"player_count"`
	Internal    netip.AddrPort `json:"internal"`
	External    netip.AddrPort `json:"external"`
}

// ParseAddServer decodes a RequestAddServer packet.
func ParseAddServer(m *Message) (*AddServer, error) {
	if m.Type() != PacketRequestAddServer {
		return nil, fmt.Errorf("expected %s, got %s", PacketRequestAddServer, m.Type())
	}
	m.Rewind()

	var (
		out AddServer
		err error
	)
	if out.GameID, err = m.ReadUint16(); err != nil {
		return nil, fmt.Errorf("failed to parse game id: %w", err)
	}
	if out.Name, err = m.ReadString(); err != nil {
		return nil, fmt.Errorf("failed to parse server name: %w", err)
	}
	if out.PlayerCount, err = m.ReadInt16(); err != nil {
		return nil, fmt.Errorf("failed to parse player count: %w", err)
	}
	if out.Internal, err = ReadAddr(m); err != nil {
		return nil, fmt.Errorf("failed to parse internal address: %w", err)
	}
	if out.External, err = ReadAddr(m); err != nil {
		return nil, fmt.Errorf("failed to parse external address: %w", err)
	}
	return &out, nil
}

// String returns a hex dump of the message for debugging.
func (m *Message) String() string {
	return fmt.Sprintf("Message[%s, %d bytes]: %x", m.Type(), len(m.data), m.data)
}
