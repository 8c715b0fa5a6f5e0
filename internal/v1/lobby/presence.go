package lobby

import (
	"context"
	"log/slog"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// Identity is what the gateway extracts from a verified bearer token before
// handing a lobby connection over.
type Identity struct {
	PlayerId    protocol.PlayerIdType
	DisplayName protocol.DisplayNameType
}

// Attach registers a connection's presence and returns the channel the
// gateway should pump outgoing frames from. Unlike room attach there is no
// capacity limit or role to award — every verified connection joins as an
// ordinary lobby participant.
func (l *Lobby) Attach(ctx context.Context, id Identity, sendBuf int) <-chan []byte {
	resultCh := make(chan chan []byte, 1)
	l.Submit(func(ctx context.Context, now time.Time) {
		c := &conn{playerId: id.PlayerId, displayName: id.DisplayName, send: make(chan []byte, sendBuf)}
		wasOnline := len(l.conns[id.PlayerId]) > 0
		l.conns[id.PlayerId] = append(l.conns[id.PlayerId], c)

		l.send(c, protocol.EventRooms, protocol.RoomsEvent{Rooms: l.roomSummaries(ctx)}, now)

		if !wasOnline {
			if err := l.bus.SetAdd(ctx, PresenceSetKey, string(id.PlayerId)); err != nil {
				slog.Warn("presence set add failed", "playerId", id.PlayerId, "error", err)
			}
			l.broadcastExcept(id.PlayerId, protocol.EventPresence, l.presenceSnapshot(ctx), now)
		}
		resultCh <- c.send
	})
	return <-resultCh
}

// Detach removes one connection; presence only changes (and is broadcast)
// once a player's last connection drops.
func (l *Lobby) Detach(playerId protocol.PlayerIdType, ch <-chan []byte) {
	l.Submit(func(ctx context.Context, now time.Time) {
		conns := l.conns[playerId]
		for i, c := range conns {
			if (<-chan []byte)(c.send) == ch {
				l.conns[playerId] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(l.conns[playerId]) == 0 {
			delete(l.conns, playerId)
			if err := l.bus.SetRem(ctx, PresenceSetKey, string(playerId)); err != nil {
				slog.Warn("presence set remove failed", "playerId", playerId, "error", err)
			}
			l.broadcast(protocol.EventPresence, l.presenceSnapshot(ctx), now)
		}
	})
}

func (l *Lobby) dropConn(ctx context.Context, c *conn, now time.Time) {
	conns := l.conns[c.playerId]
	for i, existing := range conns {
		if existing == c {
			l.conns[c.playerId] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(l.conns[c.playerId]) == 0 {
		delete(l.conns, c.playerId)
		if err := l.bus.SetRem(ctx, PresenceSetKey, string(c.playerId)); err != nil {
			slog.Warn("presence set remove failed", "playerId", c.playerId, "error", err)
		}
		l.broadcast(protocol.EventPresence, l.presenceSnapshot(ctx), now)
	}
}

// presenceSnapshot reports OnlineCount across the whole deployment via the
// shared Redis presence set (PresenceSetKey) when a bus is wired, falling
// back to this process's own conns when running single-instance (l.bus is
// nil) or if Redis is briefly unreachable (SetMembers degrades to an empty
// read rather than erroring).
func (l *Lobby) presenceSnapshot(ctx context.Context) protocol.PresenceEvent {
	if l.bus != nil {
		if members, err := l.bus.SetMembers(ctx, PresenceSetKey); err == nil && len(members) > 0 {
			return protocol.PresenceEvent{OnlineCount: len(members), InRoomCount: 0}
		}
	}
	return protocol.PresenceEvent{OnlineCount: len(l.conns), InRoomCount: 0}
}

// HandleOnlineUsersRequest returns the enumerated presence list on demand,
// per spec.md §4.7 ("and, on demand, an enumerated online_users list").
func (l *Lobby) HandleOnlineUsersRequest(caller protocol.PlayerIdType) {
	l.Submit(func(ctx context.Context, now time.Time) {
		users := make([]protocol.OnlineUserView, 0, len(l.conns))
		for playerId, conns := range l.conns {
			if len(conns) == 0 {
				continue
			}
			users = append(users, protocol.OnlineUserView{
				PlayerId: playerId, DisplayName: conns[0].displayName, Status: "available",
			})
		}
		l.sendTo(caller, protocol.EventOnlineUsers, protocol.OnlineUsersEvent{Users: users}, now)
	})
}
