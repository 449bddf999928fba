// Package network implements the TCP client transport that carries lobby
// packets between a game server and the remote lobby service.
package network

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/protocol"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultInboxSize    = 256
)

type connState int32

const (
	stateIdle connState = iota
	stateDialing
	stateConnected
)

// Options configures a TCPTransport.
type Options struct {
	Name         string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	InboxSize    int
	Pool         *protocol.MessagePool
}

// TCPTransport is an ordered byte-stream client with an asynchronous
// Connect and a non-blocking ReceiveNext. Incoming frames are decoded by a
// reader goroutine and queued; when an established connection drops, the
// transport first reports itself disconnected and then queues a
// PacketDisconnect notice so the owner observes the drop in order.
type TCPTransport struct {
	mu     sync.Mutex
	conn   net.Conn
	gen    uint64
	base   zerolog.Logger
	logger zerolog.Logger

	state connState
	inbox chan *protocol.Message
	pool  *protocol.MessagePool

	dialTimeout  time.Duration
	writeTimeout time.Duration

	// Timestamps
	connectedAt  time.Time
	lastActivity atomic.Int64

	// Counters
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// NewTCPTransport creates an idle transport.
func NewTCPTransport(opts Options) *TCPTransport {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	if opts.Pool == nil {
		opts.Pool = protocol.DefaultPool
	}
	if opts.Name == "" {
		opts.Name = "link"
	}

	logger := log.With().Str("component", "transport").Str("name", opts.Name).Logger()
	return &TCPTransport{
		inbox:        make(chan *protocol.Message, opts.InboxSize),
		pool:         opts.Pool,
		dialTimeout:  opts.DialTimeout,
		writeTimeout: opts.WriteTimeout,
		base:         logger,
		logger:       logger,
	}
}

// Connect starts dialing addr in the background. It is ignored while a
// connection is established or already being dialed.
func (t *TCPTransport) Connect(addr string) {
	t.mu.Lock()
	if t.state != stateIdle {
		t.mu.Unlock()
		return
	}
	t.state = stateDialing
	t.gen++
	gen := t.gen
	t.logger = t.base.With().Str("remote", addr).Logger()
	logger := t.logger
	t.mu.Unlock()

	logger.Debug().Msg("dialing")
	go t.dial(addr, gen)
}

func (t *TCPTransport) dial(addr string, gen uint64) {
	conn, err := net.DialTimeout("tcp", addr, t.dialTimeout)

	t.mu.Lock()
	if gen != t.gen {
		// Disconnect was called while dialing.
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		t.state = stateIdle
		logger := t.logger
		t.mu.Unlock()
		logger.Debug().Err(err).Msg("connect failed")
		return
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
		tcp.SetKeepAlive(true)
	}

	t.conn = conn
	t.state = stateConnected
	t.connectedAt = time.Now()
	t.lastActivity.Store(time.Now().UnixMilli())
	logger := t.logger
	t.mu.Unlock()

	logger.Info().Msg("connected")
	go t.readLoop(conn, gen)
}

// readLoop decodes frames until the connection fails or is replaced.
func (t *TCPTransport) readLoop(conn net.Conn, gen uint64) {
	for {
		msg, err := protocol.ReadFrame(conn, t.pool)
		if err != nil {
			t.dropped(gen, err)
			return
		}

		t.bytesIn.Add(uint64(protocol.LengthPrefixSize + msg.Len()))
		t.lastActivity.Store(time.Now().UnixMilli())

		if !t.enqueue(msg, gen) {
			return
		}
	}
}

// enqueue blocks while the inbox is full so frames are never dropped;
// it gives up once the connection it belongs to has been replaced.
func (t *TCPTransport) enqueue(msg *protocol.Message, gen uint64) bool {
	for {
		select {
		case t.inbox <- msg:
			return true
		case <-time.After(50 * time.Millisecond):
			if !t.current(gen) {
				msg.Release()
				return false
			}
		}
	}
}

func (t *TCPTransport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen && t.state == stateConnected
}

// dropped tears the connection down after a read failure. If the owner did
// not initiate the close, a Disconnect notice is queued.
func (t *TCPTransport) dropped(gen uint64, cause error) {
	t.mu.Lock()
	if gen != t.gen || t.state != stateConnected {
		t.mu.Unlock()
		return
	}
	conn := t.conn
	t.conn = nil
	t.state = stateIdle
	t.gen++
	logger := t.logger
	t.mu.Unlock()

	conn.Close()
	logger.Info().Err(cause).Msg("connection lost")

	notice := protocol.BuildDisconnect(t.pool)
	select {
	case t.inbox <- notice:
	default:
		logger.Warn().Msg("inbox full, disconnect notice dropped")
		notice.Release()
	}
}

// IsConnected reports whether a connection is established.
func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateConnected
}

// IsConnecting reports whether a dial is in flight.
func (t *TCPTransport) IsConnecting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateDialing
}

// Disconnect closes the connection or abandons a pending dial. Safe to call
// at any time and more than once.
func (t *TCPTransport) Disconnect() {
	t.mu.Lock()
	if t.state == stateIdle {
		t.mu.Unlock()
		return
	}
	conn := t.conn
	t.conn = nil
	t.state = stateIdle
	t.gen++
	logger := t.logger
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
		logger.Info().Msg("disconnected")
	}
}

// ReceiveNext returns the next queued message without blocking.
func (t *TCPTransport) ReceiveNext() (*protocol.Message, bool) {
	select {
	case msg := <-t.inbox:
		return msg, true
	default:
		return nil, false
	}
}

// Send frames and writes m, then releases it whether or not the write
// succeeded.
func (t *TCPTransport) Send(m *protocol.Message) error {
	defer m.Release()

	t.mu.Lock()
	conn := t.conn
	connected := t.state == stateConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("send %s: not connected", m.Type())
	}

	conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	if err := protocol.WriteFrame(conn, m); err != nil {
		return fmt.Errorf("send %s: %w", m.Type(), err)
	}

	t.bytesOut.Add(uint64(protocol.LengthPrefixSize + m.Len()))
	t.lastActivity.Store(time.Now().UnixMilli())
	return nil
}

// Stats is a point-in-time view of transport counters.
type Stats struct {
	Connected    bool      `json:"connected"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	BytesIn      uint64    `json:"bytes_in"`
	BytesOut     uint64    `json:"bytes_out"`
	Queued       int       `json:"queued"`
}

// Stats returns the current transport counters.
func (t *TCPTransport) Stats() Stats {
	t.mu.Lock()
	connected := t.state == stateConnected
	connectedAt := t.connectedAt
	t.mu.Unlock()

	var last time.Time
	if ms := t.lastActivity.Load(); ms > 0 {
		last = time.UnixMilli(ms)
	}

	return Stats{
		Connected:    connected,
		ConnectedAt:  connectedAt,
		LastActivity: last,
		BytesIn:      t.bytesIn.Load(),
		BytesOut:     t.bytesOut.Load(),
		Queued:       len(t.inbox),
	}
}
