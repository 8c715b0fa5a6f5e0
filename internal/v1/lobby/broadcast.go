package lobby

import (
	"context"
	"log/slog"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// send non-blockingly delivers an event to one lobby connection, matching
// the room actor's drop-to-disconnect backpressure policy.
func (l *Lobby) send(c *conn, eventType string, payload any, now time.Time) {
	data, err := protocol.Encode(eventType, payload, now)
	if err != nil {
		slog.Error("lobby: encode outgoing event failed", "type", eventType, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("lobby: connection send buffer full, dropping", "player", c.playerId)
		l.Submit(func(ctx context.Context, now time.Time) {
			l.dropConn(ctx, c, now)
		})
	}
}

func (l *Lobby) broadcast(eventType string, payload any, now time.Time) {
	for _, conns := range l.conns {
		for _, c := range conns {
			l.send(c, eventType, payload, now)
		}
	}
}

func (l *Lobby) broadcastExcept(exclude protocol.PlayerIdType, eventType string, payload any, now time.Time) {
	for playerId, conns := range l.conns {
		if playerId == exclude {
			continue
		}
		for _, c := range conns {
			l.send(c, eventType, payload, now)
		}
	}
}

// sendTo delivers an event to every live connection of one player (used for
// invite/join-request delivery, which targets a specific player rather than
// broadcasting).
func (l *Lobby) sendTo(playerId protocol.PlayerIdType, eventType string, payload any, now time.Time) bool {
	conns, ok := l.conns[playerId]
	if !ok {
		return false
	}
	for _, c := range conns {
		l.send(c, eventType, payload, now)
	}
	return true
}
