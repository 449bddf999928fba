package lobby

import (
	"errors"
	"sync"
	"time"

	"github.com/energizer-project/lobbylink/internal/protocol"
)

// fakeTransport records everything the worker does. Connect leaves it
// dialing until the test calls establish or fail, unless autoConnect is set.
type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	connecting  bool
	autoConnect bool
	sendErr     error

	connects    int
	disconnects int
	inbox       []*protocol.Message
	sentTypes   []protocol.PacketType
	adverts     []protocol.AddServer
}

func (f *fakeTransport) Connect(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.autoConnect {
		f.connected = true
		return
	}
	f.connecting = true
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) IsConnecting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connecting
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	f.connecting = false
}

func (f *fakeTransport) ReceiveNext() (*protocol.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return nil, false
	}
	m := f.inbox[0]
	f.inbox = f.inbox[1:]
	return m, true
}

func (f *fakeTransport) Send(m *protocol.Message) error {
	defer m.Release()

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	if f.sendErr != nil {
		return f.sendErr
	}

	f.sentTypes = append(f.sentTypes, m.Type())
	if m.Type() == protocol.PacketRequestAddServer {
		adv, err := protocol.ParseAddServer(m)
		if err != nil {
			return err
		}
		f.adverts = append(f.adverts, *adv)
	}
	return nil
}

// establish completes a pending dial.
func (f *fakeTransport) establish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connecting = false
	f.connected = true
}

// fail abandons a pending dial without a notice.
func (f *fakeTransport) fail() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connecting = false
}

// drop loses an established connection and queues the notice the real
// transport would.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.inbox = append(f.inbox, protocol.BuildDisconnect(nil))
}

func (f *fakeTransport) deliver(m *protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, m)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) sent() []protocol.PacketType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.PacketType(nil), f.sentTypes...)
}

func (f *fakeTransport) advertisements() []protocol.AddServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.AddServer(nil), f.adverts...)
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// dropOnReceive loses the connection the moment the worker asks for the
// next message, after the worker has already checked the connection state.
type dropOnReceive struct {
	*fakeTransport
	armed bool
}

func (d *dropOnReceive) ReceiveNext() (*protocol.Message, bool) {
	if d.armed {
		d.armed = false
		d.drop()
	}
	return d.fakeTransport.ReceiveNext()
}

// gatedRemove holds RequestRemoveServer sends until gate is closed.
type gatedRemove struct {
	*fakeTransport
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedRemove) Send(m *protocol.Message) error {
	if m.Type() == protocol.PacketRequestRemoveServer {
		g.entered <- struct{}{}
		<-g.gate
	}
	return g.fakeTransport.Send(m)
}
