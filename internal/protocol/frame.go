package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrEmptyFrame is returned when a frame declares a zero length.
var ErrEmptyFrame = errors.New("received zero-length frame")

// ReadFrame reads a single length-prefixed frame into a pooled message.
// Frame format: [4-byte LE length][type:1][payload...]
func ReadFrame(r io.Reader, pool *MessagePool) (*Message, error) {
	if pool == nil {
		pool = DefaultPool
	}

	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}

	length := binary.LittleEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("frame too large: %d bytes (max %d)", length, MaxMessageSize)
	}

	m := pool.Acquire()
	if cap(m.data) < int(length) {
		m.data = make([]byte, length)
	} else {
		m.data = m.data[:length]
	}
	if _, err := io.ReadFull(r, m.data); err != nil {
		m.Release()
		return nil, fmt.Errorf("failed to read frame body (%d bytes): %w", length, err)
	}
	m.pos = 1
	return m, nil
}

// WriteFrame writes m with its length prefix in a single write call.
// It does not release m.
func WriteFrame(w io.Writer, m *Message) error {
	if m.Len() == 0 {
		return ErrEmptyFrame
	}
	if m.Len() > MaxMessageSize {
		return fmt.Errorf("frame too large: %d bytes (max %d)", m.Len(), MaxMessageSize)
	}

	buf := make([]byte, LengthPrefixSize, LengthPrefixSize+m.Len())
	binary.LittleEndian.PutUint32(buf, uint32(m.Len()))
	buf = append(buf, m.data...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
