package lobby

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/network"
	"github.com/energizer-project/lobbylink/internal/protocol"
)

// Transport is the byte-stream client a Link drives. Connect must return
// immediately; ReceiveNext must never block.
type Transport interface {
	Connect(addr string)
	IsConnected() bool
	IsConnecting() bool
	Disconnect()
	ReceiveNext() (*protocol.Message, bool)
	Send(m *protocol.Message) error
}

// statsReporter is implemented by transports that expose counters.
type statsReporter interface {
	Stats() network.Stats
}

// Option customizes a Link.
type Option func(*Link)

// WithTransportFactory replaces the default TCP transport.
func WithTransportFactory(f func() Transport) Option {
	return func(l *Link) { l.newTransport = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Link) { l.now = now }
}

// WithPool sets the message pool used for outgoing packets.
func WithPool(p *protocol.MessagePool) Option {
	return func(l *Link) { l.pool = p }
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Link advertises one game server on one remote lobby.
type Link struct {
	cfg    config.LinkConfig
	bus    *events.EventBus
	pool   *protocol.MessagePool
	now    func() time.Time
	logger zerolog.Logger

	newTransport func() Transport
	wake         chan struct{}

	// Guarded by mu
	mu           sync.Mutex
	transport    Transport
	snapshot     *Snapshot
	version      uint64
	pending      bool
	shuttingDown bool
	halted       bool
	haltReason   string
	done         chan struct{} // non-nil while a worker runs

	// Written by the worker only, read anywhere
	stage            atomic.Int32
	nextConnectAt    atomic.Int64 // unix ms, 0 = immediately eligible
	clockOffset      atomic.Int64
	wasEverConnected atomic.Bool

	workerStarts    atomic.Uint64
	connectAttempts atomic.Uint64
	verifications   atomic.Uint64
	drops           atomic.Uint64
	remoteErrors    atomic.Uint64
	decodeErrors    atomic.Uint64
	advertisements  atomic.Uint64
}

// NewLink creates an idle Link. Nothing happens until Start and the first
// RequestUpdate.
func NewLink(cfg config.LinkConfig, bus *events.EventBus, opts ...Option) *Link {
	defaults := config.DefaultConfig().Link
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = defaults.PollIntervalMs
	}
	if cfg.ConnectSpacingMs <= 0 {
		cfg.ConnectSpacingMs = defaults.ConnectSpacingMs
	}
	if cfg.RetryAfterDropMs <= 0 {
		cfg.RetryAfterDropMs = defaults.RetryAfterDropMs
	}
	if cfg.RetryNeverConnectedMs <= 0 {
		cfg.RetryNeverConnectedMs = defaults.RetryNeverConnectedMs
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = protocol.DefaultProtocolVersion
	}

	l := &Link{
		cfg:    cfg,
		bus:    bus,
		pool:   protocol.DefaultPool,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		logger: log.With().Str("component", "lobby").Str("remote", cfg.RemoteAddress).Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.newTransport == nil {
		l.newTransport = func() Transport {
			return network.NewTCPTransport(network.Options{
				Name:         "lobby",
				DialTimeout:  cfg.DialTimeout(),
				WriteTimeout: cfg.WriteTimeout(),
				Pool:         l.pool,
			})
		}
	}
	return l
}

// Start makes the link eligible to connect immediately and allocates the
// transport on first use. It also re-arms a link that was stopped or halted
// by a version mismatch. It never spawns the worker.
func (l *Link) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextConnectAt.Store(0)
	if l.transport == nil {
		l.transport = l.newTransport()
	}
	if l.halted || l.shuttingDown {
		l.logger.Info().Msg("link re-armed")
	}
	l.shuttingDown = false
	l.halted = false
	l.haltReason = ""
}

// RequestUpdate records s as the snapshot to advertise and starts the worker
// if none is running. It never blocks.
func (l *Link) RequestUpdate(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.storeSnapshotLocked(s)

	switch {
	case l.done != nil, l.shuttingDown, l.halted:
		return
	case l.transport == nil:
		l.logger.Warn().Msg("update requested before start, snapshot stored")
		return
	}

	l.spawnLocked()
}

// spawnLocked starts a worker on the current transport. l.mu must be held.
func (l *Link) spawnLocked() {
	done := make(chan struct{})
	l.done = done
	l.workerStarts.Add(1)
	go l.run(l.transport, done)
}

func (l *Link) storeSnapshotLocked(s Snapshot) {
	snap := s
	l.snapshot = &snap
	l.version++
	l.pending = true
}

// Stop asks the worker to deregister and exit. It does not wait; use Done.
func (l *Link) Stop() {
	l.mu.Lock()
	l.shuttingDown = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the current worker exits. If no worker is running the
// returned channel is already closed.
func (l *Link) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		return closedChan
	}
	return l.done
}

// IsActive reports whether the transport is connected.
func (l *Link) IsActive() bool {
	l.mu.Lock()
	tr := l.transport
	l.mu.Unlock()
	return tr != nil && tr.IsConnected()
}

// ServerTime returns the lobby's clock in unix milliseconds: local time plus
// the last learned offset, or local time if no handshake ever completed.
func (l *Link) ServerTime() int64 {
	return l.nowMs() + l.clockOffset.Load()
}

// Stage returns the current connection stage.
func (l *Link) Stage() Stage {
	return Stage(l.stage.Load())
}

// Status returns a consistent-enough view of the link for reporting.
func (l *Link) Status() Status {
	l.mu.Lock()
	st := Status{
		Remote:        l.cfg.RemoteAddress,
		Running:       l.done != nil,
		ShuttingDown:  l.shuttingDown,
		Halted:        l.halted,
		HaltReason:    l.haltReason,
		UpdatePending: l.pending,
	}
	if l.snapshot != nil {
		snap := *l.snapshot
		st.Snapshot = &snap
	}
	tr := l.transport
	l.mu.Unlock()

	st.Stage = l.Stage()
	st.Active = tr != nil && tr.IsConnected()
	st.WasEverConnected = l.wasEverConnected.Load()
	st.ClockOffsetMs = l.clockOffset.Load()
	st.ServerTimeMs = l.ServerTime()
	if next := l.nextConnectAt.Load(); next > 0 {
		st.NextConnectAt = time.UnixMilli(next)
	}
	if sr, ok := tr.(statsReporter); ok {
		stats := sr.Stats()
		st.Transport = &stats
	}
	st.Counters = Counters{
		WorkerStarts:    l.workerStarts.Load(),
		ConnectAttempts: l.connectAttempts.Load(),
		Verifications:   l.verifications.Load(),
		Drops:           l.drops.Load(),
		RemoteErrors:    l.remoteErrors.Load(),
		DecodeErrors:    l.decodeErrors.Load(),
		Advertisements:  l.advertisements.Load(),
	}
	return st
}

func (l *Link) nowMs() int64 {
	return l.now().UnixMilli()
}

func (l *Link) emit(t events.EventType, payload interface{}) {
	l.bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  "lobby",
		Payload: payload,
	})
}
