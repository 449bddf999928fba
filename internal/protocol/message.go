package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// ErrShortRead is returned when a message ends before the requested field.
var ErrShortRead = errors.New("message too short")

const defaultMessageCapacity = 256

// MessagePool recycles message buffers. Acquire a message, use it, and
// Release it exactly once; a released message must not be touched again.
type MessagePool struct {
	pool  sync.Pool
	inUse atomic.Int64
}

// NewMessagePool creates an empty pool.
func NewMessagePool() *MessagePool {
	p := &MessagePool{}
	p.pool.New = func() any {
		return &Message{data: make([]byte, 0, defaultMessageCapacity)}
	}
	return p
}

// DefaultPool is shared by the transport and the lobby link unless a
// caller supplies its own.
var DefaultPool = NewMessagePool()

// Acquire returns an empty message owned by the caller.
func (p *MessagePool) Acquire() *Message {
	m, ok := p.pool.Get().(*Message)
	if !ok {
		m = &Message{data: make([]byte, 0, defaultMessageCapacity)}
	}
	m.data = m.data[:0]
	m.pos = 0
	m.pool = p
	m.released.Store(false)
	p.inUse.Add(1)
	return m
}

// InUse reports how many acquired messages have not been released yet.
func (p *MessagePool) InUse() int64 {
	return p.inUse.Load()
}

func (p *MessagePool) put(m *Message) {
	p.inUse.Add(-1)
	// Oversized buffers are dropped so one large frame doesn't pin memory.
	if cap(m.data) > 64*1024 {
		return
	}
	p.pool.Put(m)
}

// Message is a single lobby packet: one type byte followed by the payload.
// Reads advance an internal cursor that starts right after the type byte.
type Message struct {
	data     []byte
	pos      int
	pool     *MessagePool
	released atomic.Bool
}

// Type returns the packet type, or PacketEmpty for an empty message.
func (m *Message) Type() PacketType {
	if len(m.data) == 0 {
		return PacketEmpty
	}
	return PacketType(m.data[0])
}

// Bytes returns the raw message body (type + payload). The slice is only
// valid until Release.
func (m *Message) Bytes() []byte {
	return m.data
}

// Len returns the body size in bytes.
func (m *Message) Len() int {
	return len(m.data)
}

// Remaining returns the number of unread payload bytes.
func (m *Message) Remaining() int {
	if m.pos >= len(m.data) {
		return 0
	}
	return len(m.data) - m.pos
}

// Rewind moves the read cursor back to the first payload byte.
func (m *Message) Rewind() {
	m.pos = 1
}

// Release hands the buffer back to its pool. Releasing twice is a no-op.
func (m *Message) Release() {
	if m == nil || m.released.Swap(true) {
		return
	}
	if m.pool != nil {
		m.pool.put(m)
	}
}

// ---- Reading ----

func (m *Message) take(n int, field string) ([]byte, error) {
	if m.pos == 0 {
		m.pos = 1
	}
	if m.pos+n > len(m.data) {
		return nil, fmt.Errorf("read %s (%d bytes, %d left): %w", field, n, m.Remaining(), ErrShortRead)
	}
	b := m.data[m.pos : m.pos+n]
	m.pos += n
	return b, nil
}

// ReadUint8 reads a single byte.
func (m *Message) ReadUint8() (uint8, error) {
	b, err := m.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a little-endian uint16.
func (m *Message) ReadUint16() (uint16, error) {
	b, err := m.take(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt16 reads a little-endian int16.
func (m *Message) ReadInt16() (int16, error) {
	v, err := m.ReadUint16()
	return int16(v), err
}

// ReadInt32 reads a little-endian int32.
func (m *Message) ReadInt32() (int32, error) {
	b, err := m.take(4, "int32")
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// ReadInt64 reads a little-endian int64.
func (m *Message) ReadInt64() (int64, error) {
	b, err := m.take(8, "int64")
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// ReadString reads a uvarint length-prefixed UTF-8 string.
func (m *Message) ReadString() (string, error) {
	if m.pos == 0 {
		m.pos = 1
	}
	if m.pos > len(m.data) {
		return "", fmt.Errorf("read string length: %w", ErrShortRead)
	}
	length, n := binary.Uvarint(m.data[m.pos:])
	if n <= 0 {
		return "", fmt.Errorf("read string length: %w", ErrShortRead)
	}
	if length > uint64(m.Remaining()-n) {
		return "", fmt.Errorf("read string (%d bytes, %d left): %w", length, m.Remaining()-n, ErrShortRead)
	}
	m.pos += n
	b, err := m.take(int(length), "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ---- Writing ----

// WriteUint8 appends a single byte.
func (m *Message) WriteUint8(v uint8) *Message {
	m.data = append(m.data, v)
	return m
}

// WriteUint16 appends a little-endian uint16.
func (m *Message) WriteUint16(v uint16) *Message {
	m.data = binary.LittleEndian.AppendUint16(m.data, v)
	return m
}

// WriteInt16 appends a little-endian int16.
func (m *Message) WriteInt16(v int16) *Message {
	return m.WriteUint16(uint16(v))
}

// WriteInt32 appends a little-endian int32.
func (m *Message) WriteInt32(v int32) *Message {
	m.data = binary.LittleEndian.AppendUint32(m.data, uint32(v))
	return m
}

// WriteInt64 appends a little-endian int64.
func (m *Message) WriteInt64(v int64) *Message {
	m.data = binary.LittleEndian.AppendUint64(m.data, uint64(v))
	return m
}

// WriteString appends a uvarint length-prefixed string.
func (m *Message) WriteString(s string) *Message {
	m.data = binary.AppendUvarint(m.data, uint64(len(s)))
	m.data = append(m.data, s...)
	return m
}

// WriteBytes appends raw bytes.
func (m *Message) WriteBytes(b []byte) *Message {
	m.data = append(m.data, b...)
	return m
}

// clampInt16 saturates n into the int16 range.
func clampInt16(n int) int16 {
	switch {
	case n > math.MaxInt16:
		return math.MaxInt16
	case n < 0:
		return 0
	}
	return int16(n)
}
