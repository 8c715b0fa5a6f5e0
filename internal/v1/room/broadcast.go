package room

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/utils/set"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// send non-blockingly delivers an event to one connection. A full send
// buffer means the connection is too slow to keep up; rather than block the
// actor loop, the frame is dropped and the connection torn down as an
// ordinary disconnect, which then runs the same seat-reservation path as a
// network drop.
func (r *Room) send(c *conn, eventType string, payload any, now time.Time) {
	data, err := protocol.Encode(eventType, payload, now)
	if err != nil {
		slog.Error("room: encode outgoing event failed", "room", r.code, "type", eventType, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("room: connection send buffer full, dropping", "room", r.code, "player", c.playerId)
		r.Submit(func(ctx context.Context, now time.Time) {
			r.dropConn(ctx, c, now)
		})
	}
}

// broadcast delivers an event to every connection in the room (players and
// spectators both, since spectators observe the
// full game per spec.md §4.6.8). Connections for forfeited/removed seats no
// longer appear in r.conns by the time this is called.
func (r *Room) broadcast(eventType string, payload any, now time.Time) {
	for _, conns := range r.conns {
		for _, c := range conns {
			r.send(c, eventType, payload, now)
		}
	}
}

// broadcastExcept is broadcast but skips one player's connections, used
// when a command's own initiator already received a synchronous reply.
func (r *Room) broadcastExcept(exclude protocol.PlayerIdType, eventType string, payload any, now time.Time) {
	for playerId, conns := range r.conns {
		if playerId == exclude {
			continue
		}
		for _, c := range conns {
			r.send(c, eventType, payload, now)
		}
	}
}

// broadcastToRoles delivers an event only to connections whose role is a
// member of roles — e.g. a queue-position update that matters to spectators
// but not to seated players. Grounded on the teacher's set.Set[RoleType]
// role-filtered broadcast.
func (r *Room) broadcastToRoles(roles set.Set[protocol.RoleType], eventType string, payload any, now time.Time) {
	for _, conns := range r.conns {
		for _, c := range conns {
			if roles.Has(c.role) {
				r.send(c, eventType, payload, now)
			}
		}
	}
}

// scheduleLobbyNotify coalesces directory-affecting mutations into at most
// one in-flight notify plus one queued follow-up, per spec.md §4.6.7.
func (r *Room) scheduleLobbyNotify(ctx context.Context) {
	if r.lobbyNotify == nil || r.lobbyNotifyPending {
		return
	}
	r.lobbyNotifyPending = true
	go func() {
		r.Submit(func(ctx context.Context, now time.Time) {
			r.lobbyNotifyPending = false
			r.lobbyNotify(ctx, r.code, r.statusUpdate())
		})
	}()
}

func (r *Room) statusUpdate() RoomStatusUpdate {
	playerCount := 0
	for _, s := range r.seats {
		if !s.Forfeited {
			playerCount++
		}
	}
	return RoomStatusUpdate{
		Status:         string(r.state),
		PlayerCount:    playerCount,
		SpectatorCount: len(r.spectatorIds),
		HostId:         r.hostId,
		IsPublic:       r.config.IsPublic,
	}
}
