package room

import (
	"context"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/alarmqueue"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// Identity is what the gateway extracts from a verified bearer token before
// handing a socket to the room actor.
type Identity struct {
	PlayerId    protocol.PlayerIdType
	DisplayName protocol.DisplayNameType
	AvatarSeed  protocol.AvatarSeedType
	// WantsSpectator is set when the client requested role=spectator on the
	// query string.
	WantsSpectator bool
}

// Attach runs the attach protocol from spec.md §4.6.1 and returns the
// channel the gateway should pump outgoing frames from, plus the role
// granted, or a protocol.Error if the connection must be rejected.
func (r *Room) Attach(ctx context.Context, id Identity, sendBuf int) (<-chan []byte, protocol.RoleType, *protocol.Error) {
	type result struct {
		ch   chan []byte
		role protocol.RoleType
		err  *protocol.Error
	}
	resultCh := make(chan result, 1)

	r.Submit(func(ctx context.Context, now time.Time) {
		c := &conn{playerId: id.PlayerId, connectedAt: now, send: make(chan []byte, sendBuf)}

		seat, hasSeat := r.seats[id.PlayerId]

		switch {
		case hasSeat && !seat.Connected && seat.ReconnectDeadline != nil && seat.ReconnectDeadline.After(now):
			r.reclaimSeat(seat, now)
			c.role = protocol.RoleTypePlayer
			r.alarms.Cancel(alarmqueue.KindSeatExpiration, string(id.PlayerId))
			r.conns[id.PlayerId] = append(r.conns[id.PlayerId], c)
			r.afterAttach(ctx, c, id.PlayerId, true, now)

		case hasSeat && seat.Connected:
			c.role = protocol.RoleTypePlayer
			r.conns[id.PlayerId] = append(r.conns[id.PlayerId], c)
			r.afterAttach(ctx, c, id.PlayerId, false, now)

		case !id.WantsSpectator && len(r.seats) < r.config.MaxPlayers && (r.state == StateWaiting || r.state == StateStarting):
			r.allocateSeat(id, now)
			c.role = protocol.RoleTypePlayer
			r.conns[id.PlayerId] = append(r.conns[id.PlayerId], c)
			r.afterAttach(ctx, c, id.PlayerId, false, now)

		case r.config.AllowSpectators:
			c.role = protocol.RoleTypeSpectator
			r.addSpectator(id.PlayerId)
			r.conns[id.PlayerId] = append(r.conns[id.PlayerId], c)
			r.afterAttach(ctx, c, id.PlayerId, false, now)

		default:
			resultCh <- result{err: protocol.NewError(protocol.CodeRoomFull, "room is full")}
			return
		}

		if err := r.persist(ctx); err != nil {
			resultCh <- result{err: protocol.NewError(protocol.CodeInternal, "persist failed: "+err.Error())}
			return
		}

		resultCh <- result{ch: c.send, role: c.role}
	})

	res := <-resultCh
	if res.err != nil {
		return nil, "", res.err
	}
	return res.ch, res.role, nil
}

func (r *Room) reclaimSeat(seat *Seat, now time.Time) {
	seat.Connected = true
	seat.DisconnectedAt = nil
	seat.ReconnectDeadline = nil
	if r.phase != PhaseNone && len(r.playerOrder) > 0 && r.playerOrder[r.currentPlayerIndex] == seat.PlayerId && r.state == StatePaused {
		r.resumeFromPause(now)
	}
}

func (r *Room) allocateSeat(id Identity, now time.Time) {
	turnOrder := len(r.seats)
	isHost := len(r.seats) == 0
	r.seats[id.PlayerId] = &Seat{
		PlayerId: id.PlayerId, DisplayName: id.DisplayName, AvatarSeed: id.AvatarSeed,
		TurnOrder: turnOrder, IsHost: isHost, Connected: true, JoinedAt: now,
	}
	if isHost {
		r.hostId = id.PlayerId
	}
}

func (r *Room) afterAttach(ctx context.Context, c *conn, playerId protocol.PlayerIdType, reconnect bool, now time.Time) {
	r.send(c, protocol.EventRoomState, r.buildRoomState(playerId), now)
	if reconnect {
		r.broadcastExcept(playerId, protocol.EventPlayerConnection, protocol.PlayerConnectionEvent{PlayerId: playerId, IsConnected: true}, now)
	} else if c.role == protocol.RoleTypePlayer {
		seat := r.seats[playerId]
		r.broadcastExcept(playerId, protocol.EventPlayerJoined, protocol.PlayerJoinedEvent{Player: r.playerView(seat)}, now)
	}
	r.scheduleLobbyNotify(ctx)
}

// Detach runs the disconnect path from spec.md §4.6.2 for one connection.
func (r *Room) Detach(playerId protocol.PlayerIdType, ch <-chan []byte) {
	r.Submit(func(ctx context.Context, now time.Time) {
		conns := r.conns[playerId]
		for i, c := range conns {
			if (<-chan []byte)(c.send) == ch {
				r.conns[playerId] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(r.conns[playerId]) == 0 {
			delete(r.conns, playerId)
			r.handleFullDisconnect(ctx, playerId, now)
		}
	})
}

// dropConn removes a single slow connection (backpressure path from
// broadcast.go) and, if it was that player's last connection, runs the same
// seat-reservation path as an ordinary disconnect.
func (r *Room) dropConn(ctx context.Context, c *conn, now time.Time) {
	conns := r.conns[c.playerId]
	for i, existing := range conns {
		if existing == c {
			r.conns[c.playerId] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(r.conns[c.playerId]) == 0 {
		delete(r.conns, c.playerId)
		r.handleFullDisconnect(ctx, c.playerId, now)
	}
}

func (r *Room) handleFullDisconnect(ctx context.Context, playerId protocol.PlayerIdType, now time.Time) {
	if seat, ok := r.seats[playerId]; ok {
		deadline := now.Add(ReconnectWindow)
		seat.Connected = false
		seat.DisconnectedAt = &now
		seat.ReconnectDeadline = &deadline
		r.alarms.Schedule(alarmqueue.KindSeatExpiration, string(playerId), deadline, now)

		if r.state == StatePlaying && len(r.playerOrder) > 0 && r.playerOrder[r.currentPlayerIndex] == playerId {
			r.alarms.Schedule(alarmqueue.KindPauseTimeout, string(playerId), now.Add(PauseDebounce), now)
		}

		_ = r.persist(ctx)
		r.broadcast(protocol.EventPlayerConnection, protocol.PlayerConnectionEvent{
			PlayerId: playerId, IsConnected: false, ReconnectDeadline: timePtrUnix(seat.ReconnectDeadline),
		}, now)
		r.scheduleLobbyNotify(ctx)
		return
	}

	r.removeSpectator(playerId)
	_ = r.persist(ctx)
	r.scheduleLobbyNotify(ctx)
}

func timePtrUnix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.Unix()
	return &v
}

// resumeFromPause re-arms the current player's turn timeout with whatever
// budget was left when the pause began, not a fresh TurnTimeoutSeconds
// (spec.md §4.6.6). firePauseTimeout stashed that remaining duration on the
// seat when it cancelled the original alarms; this consumes and clears it.
func (r *Room) resumeFromPause(now time.Time) {
	r.state = StatePlaying
	current := r.playerOrder[r.currentPlayerIndex]
	r.alarms.Cancel(alarmqueue.KindPauseTimeout, string(current))

	seat := r.seats[current]
	if seat != nil && seat.PausedTurnRemaining != nil {
		remaining := *seat.PausedTurnRemaining
		seat.PausedTurnRemaining = nil
		r.armTurnTimeoutFor(now, remaining)
		return
	}
	r.armTurnTimeout(now)
}
