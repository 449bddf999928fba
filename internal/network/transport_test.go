package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/lobbylink/internal/protocol"
)

// fakeLobby accepts a single connection and hands it to the test.
func fakeLobby(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()
	return ln.Addr().String(), accepted
}

func waitAccepted(t *testing.T, accepted <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case conn := <-accepted:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("lobby never accepted a connection")
		return nil
	}
}

func receive(t *testing.T, tr *TCPTransport) *protocol.Message {
	t.Helper()
	var msg *protocol.Message
	require.Eventually(t, func() bool {
		m, ok := tr.ReceiveNext()
		if ok {
			msg = m
		}
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	return msg
}

func TestTransport_ConnectSendReceive(t *testing.T) {
	pool := protocol.NewMessagePool()
	addr, accepted := fakeLobby(t)

	tr := NewTCPTransport(Options{Name: "test", Pool: pool})
	tr.Connect(addr)
	server := waitAccepted(t, accepted)

	require.Eventually(t, tr.IsConnected, 5*time.Second, 5*time.Millisecond)
	assert.False(t, tr.IsConnecting())

	// client -> lobby
	require.NoError(t, tr.Send(protocol.BuildRequestID(pool, 12, "host")))
	in, err := protocol.ReadFrame(server, pool)
	require.NoError(t, err)
	assert.Equal(t, protocol.PacketRequestID, in.Type())
	version, err := in.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(12), version)
	in.Release()

	// lobby -> client
	out := protocol.BuildResponseID(pool, 12, 3, 1000)
	require.NoError(t, protocol.WriteFrame(server, out))
	out.Release()

	msg := receive(t, tr)
	assert.Equal(t, protocol.PacketResponseID, msg.Type())
	msg.Release()

	stats := tr.Stats()
	assert.True(t, stats.Connected)
	assert.NotZero(t, stats.BytesIn)
	assert.NotZero(t, stats.BytesOut)

	tr.Disconnect()
	assert.False(t, tr.IsConnected())
	assert.Zero(t, pool.InUse())
}

func TestTransport_DropQueuesDisconnectNotice(t *testing.T) {
	pool := protocol.NewMessagePool()
	addr, accepted := fakeLobby(t)

	tr := NewTCPTransport(Options{Pool: pool})
	tr.Connect(addr)
	server := waitAccepted(t, accepted)
	require.Eventually(t, tr.IsConnected, 5*time.Second, 5*time.Millisecond)

	server.Close()

	msg := receive(t, tr)
	defer msg.Release()
	assert.Equal(t, protocol.PacketDisconnect, msg.Type())
	assert.False(t, tr.IsConnected(), "transport must report the drop before the notice is observed")
}

func TestTransport_ConnectFailureIsSilent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	tr := NewTCPTransport(Options{DialTimeout: time.Second})
	tr.Connect(addr)

	require.Eventually(t, func() bool {
		return !tr.IsConnecting() && !tr.IsConnected()
	}, 5*time.Second, 5*time.Millisecond)

	_, ok := tr.ReceiveNext()
	assert.False(t, ok, "a failed dial must not queue a notice")
}

func TestTransport_DisconnectIsIdempotent(t *testing.T) {
	pool := protocol.NewMessagePool()
	addr, accepted := fakeLobby(t)

	tr := NewTCPTransport(Options{Pool: pool})
	tr.Disconnect()

	tr.Connect(addr)
	waitAccepted(t, accepted)
	require.Eventually(t, tr.IsConnected, 5*time.Second, 5*time.Millisecond)

	tr.Disconnect()
	tr.Disconnect()
	assert.False(t, tr.IsConnected())
	assert.False(t, tr.IsConnecting())

	// A local disconnect never produces a notice.
	time.Sleep(50 * time.Millisecond)
	_, ok := tr.ReceiveNext()
	assert.False(t, ok)
}

func TestTransport_SendWhileIdle(t *testing.T) {
	pool := protocol.NewMessagePool()
	tr := NewTCPTransport(Options{Pool: pool})

	err := tr.Send(protocol.BuildError(pool, "x"))
	assert.Error(t, err)
	assert.Zero(t, pool.InUse(), "send must release the message even on failure")
}

func TestListen_ReusesAddress(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ln, err = Listen(context.Background(), addr)
	require.NoError(t, err)
	ln.Close()
}
