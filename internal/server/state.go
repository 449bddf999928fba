// Package server tracks the advertised state of the hosted game server and
// pushes every change to the lobby link.
package server

import (
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/lobby"
)

// Updater receives a fresh snapshot whenever the advertised state changes.
// *lobby.Link satisfies it.
type Updater interface {
	RequestUpdate(s lobby.Snapshot)
}

// PlayerInfo holds information about a connected player.
type PlayerInfo struct {
	Name     string    `json:"name"`
	ID       uint32    `json:"id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Advertised is the thread-safe source of truth for what the lobby should
// show about this server.
type Advertised struct {
	mu      sync.RWMutex
	updater Updater

	serverID    string
	name        string
	port        uint16
	localIP     netip.Addr
	externalIP  netip.Addr
	playerCount int
	players     map[string]PlayerInfo

	changedAt time.Time
	publishes uint64
}

// NewAdvertised seeds the state from the server configuration. It does not
// publish; call Publish once addresses are known.
func NewAdvertised(updater Updater, cfg config.ServerConfig) *Advertised {
	a := &Advertised{
		updater:     updater,
		serverID:    cfg.Name,
		name:        cfg.Name,
		port:        uint16(cfg.TCPPort),
		playerCount: cfg.PlayerCount,
		players:     make(map[string]PlayerInfo),
		changedAt:   time.Now(),
	}
	if ip, err := netip.ParseAddr(cfg.LocalIP); err == nil {
		a.localIP = ip.Unmap()
	}
	if ip, err := netip.ParseAddr(cfg.ExternalIP); err == nil {
		a.externalIP = ip.Unmap()
	}
	return a
}

// Snapshot returns the current advertisement.
func (a *Advertised) Snapshot() lobby.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *Advertised) snapshotLocked() lobby.Snapshot {
	s := lobby.Snapshot{
		ServerID:    a.serverID,
		Name:        a.name,
		PlayerCount: a.playerCount,
	}
	if a.localIP.IsValid() {
		s.LocalAddr = netip.AddrPortFrom(a.localIP, a.port)
	}
	if a.externalIP.IsValid() {
		s.ExternalAddr = netip.AddrPortFrom(a.externalIP, a.port)
	} else if a.localIP.IsValid() {
		// No public address known: advertise the LAN one for both.
		s.ExternalAddr = s.LocalAddr
	}
	return s
}

// Publish pushes the current snapshot to the link unconditionally.
func (a *Advertised) Publish() {
	a.mu.Lock()
	a.publishes++
	snap := a.snapshotLocked()
	a.mu.Unlock()

	if a.updater != nil {
		a.updater.RequestUpdate(snap)
	}
}

// update applies fn under the lock and republishes if it reports a change.
func (a *Advertised) update(fn func() bool) bool {
	a.mu.Lock()
	if !fn() {
		a.mu.Unlock()
		return false
	}
	a.changedAt = time.Now()
	a.mu.Unlock()

	a.Publish()
	return true
}

// SetName changes the display name.
func (a *Advertised) SetName(name string) bool {
	return a.update(func() bool {
		if a.name == name {
			return false
		}
		a.name = name
		return true
	})
}

// SetPlayerCount overrides the player count, for hosts that do not track
// individual players.
func (a *Advertised) SetPlayerCount(n int) bool {
	if n < 0 {
		n = 0
	}
	return a.update(func() bool {
		if a.playerCount == n {
			return false
		}
		a.playerCount = n
		return true
	})
}

// AddPlayer records a connected player and republishes the count.
func (a *Advertised) AddPlayer(name string, id uint32) bool {
	return a.update(func() bool {
		if _, ok := a.players[name]; ok {
			return false
		}
		a.players[name] = PlayerInfo{Name: name, ID: id, JoinedAt: time.Now()}
		a.playerCount = len(a.players)
		return true
	})
}

// RemovePlayer forgets a player and republishes the count.
func (a *Advertised) RemovePlayer(name string) bool {
	return a.update(func() bool {
		if _, ok := a.players[name]; !ok {
			return false
		}
		delete(a.players, name)
		a.playerCount = len(a.players)
		return true
	})
}

// SetLocalIP changes the LAN address.
func (a *Advertised) SetLocalIP(ip netip.Addr) bool {
	ip = ip.Unmap()
	return a.update(func() bool {
		if a.localIP == ip {
			return false
		}
		a.localIP = ip
		return true
	})
}

// SetExternalIP changes the public address.
func (a *Advertised) SetExternalIP(ip netip.Addr) bool {
	ip = ip.Unmap()
	return a.update(func() bool {
		if a.externalIP == ip {
			return false
		}
		a.externalIP = ip
		return true
	})
}

// LocalIP returns the LAN address, which may be invalid if unknown.
func (a *Advertised) LocalIP() netip.Addr {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.localIP
}

// ExternalIP returns the public address, which may be invalid if unknown.
func (a *Advertised) ExternalIP() netip.Addr {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.externalIP
}

// Players returns the connected players sorted by join time.
func (a *Advertised) Players() []PlayerInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]PlayerInfo, 0, len(a.players))
	for _, p := range a.players {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result
}

// ChangedAt returns when the advertisement last changed.
func (a *Advertised) ChangedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.changedAt
}

// Publishes returns how many snapshots were handed to the link.
func (a *Advertised) Publishes() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.publishes
}
