package lobby

import (
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/protocol"
)

// run is the worker loop. It is the only goroutine that touches tr and
// writes the stage, timers and clock offset.
func (l *Link) run(tr Transport, done chan struct{}) {
	reason := "stopped"
	defer func() {
		l.mu.Lock()
		if l.halted {
			reason = l.haltReason
		}
		if l.done == done {
			l.done = nil
			// Start and RequestUpdate may have landed while this worker was
			// on its way out; hand the pending snapshot to a fresh worker.
			if !l.shuttingDown && !l.halted && l.pending && l.snapshot != nil && l.transport != nil {
				l.spawnLocked()
			}
		}
		l.mu.Unlock()
		close(done)

		l.logger.Info().Str("reason", reason).Msg("lobby worker exited")
		l.emit(events.EventLinkStopped, events.StoppedPayload{Reason: reason})
	}()

	l.logger.Debug().Dur("poll", l.cfg.PollInterval()).Msg("lobby worker started")

	ticker := time.NewTicker(l.cfg.PollInterval())
	defer ticker.Stop()

	for l.step(tr) {
		select {
		case <-ticker.C:
		case <-l.wake:
		}
	}
}

// step runs one iteration and reports whether the worker should continue.
func (l *Link) step(tr Transport) bool {
	now := l.nowMs()

	l.mu.Lock()
	stopping := l.shuttingDown
	hasSnapshot := l.snapshot != nil
	l.mu.Unlock()

	if stopping {
		l.shutdown(tr)
		return false
	}

	l.syncStage(tr, now)

	if hasSnapshot && !tr.IsConnected() && !tr.IsConnecting() && now >= l.nextConnectAt.Load() {
		l.connect(tr, now)
	}

	if !l.drain(tr, now) {
		return false
	}

	l.publish(tr)
	return true
}

// syncStage reconciles the stage with what the transport reports.
func (l *Link) syncStage(tr Transport, now int64) {
	switch l.Stage() {
	case StageConnecting:
		if tr.IsConnected() {
			l.setStage(StageVerifying)
			l.sendHandshake(tr, now)
		} else if !tr.IsConnecting() {
			// Dial failed. The connect spacing already set the next attempt.
			l.setStage(StageDisconnected)
			l.logger.Debug().Msg("connect attempt failed")
		}

	case StageVerifying, StageVerified:
		if !tr.IsConnected() {
			wasVerified := l.Stage() == StageVerified
			l.setStage(StageDisconnected)
			l.drops.Add(1)
			backoff := l.scheduleReconnect(now)
			l.logger.Warn().Bool("verified", wasVerified).Dur("backoff", backoff).Msg("connection to lobby lost")
			l.emit(events.EventLinkDropped, events.DroppedPayload{
				Remote:    l.cfg.RemoteAddress,
				Reason:    "connection lost",
				Backoff:   backoff,
				Verified:  wasVerified,
				NextRetry: time.UnixMilli(l.nextConnectAt.Load()),
			})
		}
	}
}

func (l *Link) sendHandshake(tr Transport, now int64) {
	msg := protocol.BuildRequestID(l.pool, l.cfg.ProtocolVersion, l.cfg.ClientName)
	if err := tr.Send(msg); err != nil {
		l.logger.Warn().Err(err).Msg("failed to send handshake")
		tr.Disconnect()
		l.setStage(StageDisconnected)
		l.scheduleReconnect(now)
		return
	}
	l.logger.Debug().Int32("version", l.cfg.ProtocolVersion).Msg("handshake sent")
}

// connect starts a new attempt and spaces the next one out.
func (l *Link) connect(tr Transport, now int64) {
	l.discardInbox(tr)

	next := now + l.cfg.ConnectSpacing().Milliseconds()
	l.nextConnectAt.Store(next)

	l.mu.Lock()
	l.pending = true
	l.mu.Unlock()

	l.setStage(StageConnecting)
	l.connectAttempts.Add(1)
	tr.Connect(l.cfg.RemoteAddress)

	l.logger.Info().Int64("attempt", int64(l.connectAttempts.Load())).Msg("connecting to lobby")
	l.emit(events.EventLinkConnecting, events.ConnectingPayload{
		Remote:        l.cfg.RemoteAddress,
		NextConnectAt: time.UnixMilli(next),
	})
}

// discardInbox drops anything left over from a previous connection so it
// cannot be mistaken for the next handshake reply.
func (l *Link) discardInbox(tr Transport) {
	for {
		msg, ok := tr.ReceiveNext()
		if !ok {
			return
		}
		l.logger.Debug().Str("type", msg.Type().String()).Msg("discarding stale message")
		msg.Release()
	}
}

// drain handles every queued message. It returns false if the link halted.
func (l *Link) drain(tr Transport, now int64) bool {
	for {
		l.syncStage(tr, now)

		msg, ok := tr.ReceiveNext()
		if !ok {
			return true
		}
		if halted := l.handle(tr, msg, now); halted {
			return false
		}
	}
}

// handle processes one message and always releases it.
func (l *Link) handle(tr Transport, msg *protocol.Message, now int64) (halted bool) {
	defer msg.Release()
	defer func() {
		if r := recover(); r != nil {
			l.decodeErrors.Add(1)
			l.logger.Error().Interface("panic", r).Str("type", msg.Type().String()).Msg("message handler panicked")
			l.scheduleReconnect(now)
			halted = false
		}
	}()

	if l.Stage() == StageVerifying {
		// A Disconnect notice is the transport reporting a drop, not a reply.
		if msg.Type() == protocol.PacketDisconnect {
			tr.Disconnect()
			l.syncStage(tr, now)
			return false
		}
		return l.verify(tr, msg, now)
	}

	switch msg.Type() {
	case protocol.PacketError:
		text, err := msg.ReadString()
		if err != nil {
			l.decodeErrors.Add(1)
			l.logger.Warn().Err(err).Msg("malformed error report from lobby")
			break
		}
		l.remoteErrors.Add(1)
		l.logger.Warn().Str("error", text).Msg("lobby reported an error")
		l.emit(events.EventLinkRemoteError, events.RemoteErrorPayload{
			Remote: l.cfg.RemoteAddress,
			Text:   text,
		})

	case protocol.PacketDisconnect:
		l.logger.Debug().Msg("disconnect notice")

	default:
		l.logger.Debug().Str("type", msg.Type().String()).Msg("unhandled message from lobby")
	}

	backoff := l.scheduleReconnect(now)
	l.logger.Debug().Dur("backoff", backoff).Msg("reconnect scheduled")
	return false
}

// verify treats msg as the handshake reply.
func (l *Link) verify(tr Transport, msg *protocol.Message, now int64) (halted bool) {
	playerID, err := protocol.VerifyResponseID(msg, l.cfg.ProtocolVersion)
	if err == nil {
		var remoteTs int64
		remoteTs, err = msg.ReadInt64()
		if err != nil {
			err = fmt.Errorf("failed to parse server time: %w", err)
		} else {
			l.verified(playerID, remoteTs, now)
			return false
		}
	}

	if protocol.IsFatalHandshakeError(err) {
		l.halt(tr, now, err)
		return true
	}

	// Malformed reply: not proof of an incompatible lobby, so retry later.
	l.decodeErrors.Add(1)
	tr.Disconnect()
	l.setStage(StageDisconnected)
	backoff := l.scheduleReconnect(now)
	l.logger.Warn().Err(err).Dur("backoff", backoff).Msg("malformed handshake reply")
	return false
}

func (l *Link) verified(playerID int32, remoteTs, now int64) {
	offset := remoteTs - now
	l.clockOffset.Store(offset)
	l.wasEverConnected.Store(true)
	l.setStage(StageVerified)
	l.verifications.Add(1)

	l.logger.Info().
		Int32("player_id", playerID).
		Int64("offset_ms", offset).
		Msg("lobby handshake verified")
	l.emit(events.EventLinkVerified, events.VerifiedPayload{
		Remote:        l.cfg.RemoteAddress,
		PlayerID:      playerID,
		ClockOffsetMs: offset,
	})
}

// halt ends the session for good; only Start re-arms the link.
func (l *Link) halt(tr Transport, now int64, err error) {
	tr.Disconnect()
	l.setStage(StageDisconnected)
	l.scheduleReconnect(now)

	l.mu.Lock()
	l.halted = true
	l.haltReason = err.Error()
	l.mu.Unlock()

	l.logger.Error().Err(err).Int32("local_version", l.cfg.ProtocolVersion).Msg("lobby handshake rejected, link halted")
	l.emit(events.EventLinkVersionMismatch, events.VersionMismatchPayload{
		Remote: l.cfg.RemoteAddress,
		Local:  l.cfg.ProtocolVersion,
		Error:  err.Error(),
	})
}

// scheduleReconnect pushes the next connect attempt out by the backoff that
// matches the session history and returns that backoff.
func (l *Link) scheduleReconnect(now int64) time.Duration {
	backoff := l.cfg.RetryNeverConnected()
	if l.wasEverConnected.Load() {
		backoff = l.cfg.RetryAfterDrop()
	}
	l.nextConnectAt.Store(now + backoff.Milliseconds())
	return backoff
}

// publish sends the latest snapshot once the session is verified.
func (l *Link) publish(tr Transport) {
	l.mu.Lock()
	snap := l.snapshot
	pending := l.pending
	version := l.version
	l.mu.Unlock()

	if snap == nil || !pending || l.Stage() != StageVerified || !tr.IsConnected() {
		return
	}

	msg := protocol.BuildAddServer(l.pool, l.cfg.GameID, snap.Name, snap.PlayerCount, snap.LocalAddr, snap.ExternalAddr)
	if err := tr.Send(msg); err != nil {
		l.logger.Warn().Err(err).Msg("failed to advertise server")
		return
	}

	// A newer snapshot that arrived meanwhile stays pending.
	l.mu.Lock()
	if l.version == version {
		l.pending = false
	}
	l.mu.Unlock()

	l.advertisements.Add(1)
	l.logger.Debug().
		Str("name", snap.Name).
		Int("players", snap.PlayerCount).
		Msg("server advertised")
	l.emit(events.EventServerAdvertised, events.AdvertisedPayload{
		Name:         snap.Name,
		PlayerCount:  snap.PlayerCount,
		LocalAddr:    snap.LocalAddr.String(),
		ExternalAddr: snap.ExternalAddr.String(),
	})
}

// shutdown deregisters when possible and closes the connection.
func (l *Link) shutdown(tr Transport) {
	l.mu.Lock()
	snap := l.snapshot
	l.mu.Unlock()

	if l.Stage() == StageVerified && tr.IsConnected() && snap != nil {
		msg := protocol.BuildRemoveServer(l.pool, l.cfg.GameID, snap.LocalAddr, snap.ExternalAddr)
		if err := tr.Send(msg); err != nil {
			l.logger.Debug().Err(err).Msg("failed to deregister server")
		}
	}

	tr.Disconnect()
	l.setStage(StageDisconnected)
	l.discardInbox(tr)
}

var errIllegalTransition = errors.New("illegal stage transition")

func (l *Link) setStage(next Stage) {
	prev := l.Stage()
	if !prev.CanTransition(next) {
		l.logger.Error().
			Err(errIllegalTransition).
			Str("from", prev.String()).
			Str("to", next.String()).
			Msg("forcing stage")
	}
	if prev != next {
		l.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("stage changed")
	}
	l.stage.Store(int32(next))
}
