package lobby

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/lobbylink/internal/protocol"
)

// TestLink_AgainstTCPLobby runs the real worker and transport against a
// scripted lobby on loopback.
func TestLink_AgainstTCPLobby(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testLinkConfig()
	cfg.RemoteAddress = ln.Addr().String()
	cfg.PollIntervalMs = 2
	cfg.DialTimeoutMs = 1000
	cfg.WriteTimeoutMs = 1000

	pool := protocol.NewMessagePool()
	l := NewLink(cfg, nil, WithPool(pool))

	type result struct {
		clientName string
		advert     *protocol.AddServer
		removed    bool
		err        error
	}
	results := make(chan result, 1)
	const remoteOffset = 90_000

	go func() {
		var res result
		defer func() { results <- res }()

		conn, err := ln.Accept()
		if err != nil {
			res.err = err
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))

		hello, err := protocol.ReadFrame(conn, pool)
		if err != nil {
			res.err = err
			return
		}
		version, _ := hello.ReadInt32()
		res.clientName, _ = hello.ReadString()
		hello.Release()

		reply := protocol.BuildResponseID(pool, version, 11, time.Now().UnixMilli()+remoteOffset)
		err = protocol.WriteFrame(conn, reply)
		reply.Release()
		if err != nil {
			res.err = err
			return
		}

		for {
			m, err := protocol.ReadFrame(conn, pool)
			if err != nil {
				return
			}
			switch m.Type() {
			case protocol.PacketRequestAddServer:
				res.advert, res.err = protocol.ParseAddServer(m)
			case protocol.PacketRequestRemoveServer:
				res.removed = true
			}
			m.Release()
		}
	}()

	l.Start()
	l.RequestUpdate(testSnapshot("Frontier", 6))

	require.Eventually(t, func() bool {
		return l.Status().Counters.Advertisements == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.True(t, l.IsActive())
	assert.Equal(t, StageVerified, l.Stage())
	assert.InDelta(t, time.Now().UnixMilli()+remoteOffset, l.ServerTime(), 1000)

	st := l.Status()
	require.NotNil(t, st.Transport)
	assert.True(t, st.Transport.Connected)

	l.Stop()
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.False(t, l.IsActive())

	var res result
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("lobby script did not finish")
	}
	require.NoError(t, res.err)
	assert.Equal(t, cfg.ClientName, res.clientName)
	require.NotNil(t, res.advert)
	assert.Equal(t, "Frontier", res.advert.Name)
	assert.Equal(t, int16(6), res.advert.PlayerCount)
	assert.True(t, res.removed, "orderly stop deregisters the server")
}
