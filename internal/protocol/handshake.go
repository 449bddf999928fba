package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionMismatch means the lobby speaks a different protocol version.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrUnexpectedPacket means the first reply was not a handshake response.
	ErrUnexpectedPacket = errors.New("unexpected packet during handshake")
)

// VerifyResponseID validates the handshake reply and consumes the version and
// player id fields. On success the cursor is left on the server timestamp.
//
// ErrVersionMismatch and ErrUnexpectedPacket are fatal for the session;
// ErrShortRead only means the reply itself was malformed.
func VerifyResponseID(m *Message, expectedVersion int32) (playerID int32, err error) {
	if m.Type() != PacketResponseID {
		return 0, fmt.Errorf("expected %s, got %s: %w", PacketResponseID, m.Type(), ErrUnexpectedPacket)
	}
	m.Rewind()

	version, err := m.ReadInt32()
	if err != nil {
		return 0, fmt.Errorf("failed to parse handshake version: %w", err)
	}
	if version != expectedVersion {
		return 0, fmt.Errorf("remote version %d, local version %d: %w", version, expectedVersion, ErrVersionMismatch)
	}

	playerID, err = m.ReadInt32()
	if err != nil {
		return 0, fmt.Errorf("failed to parse handshake player id: %w", err)
	}
	return playerID, nil
}

// IsFatalHandshakeError reports whether err must end the session for good.
func IsFatalHandshakeError(err error) bool {
	return errors.Is(err, ErrVersionMismatch) || errors.Is(err, ErrUnexpectedPacket)
}
