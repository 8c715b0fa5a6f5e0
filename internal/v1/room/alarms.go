package room

import (
	"context"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/alarmqueue"
	"github.com/dicee-dev/dicee-server/internal/v1/engine"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// ProcessDueAlarms is invoked by the host runtime's wake primitive. It pops
// every due alarm and dispatches by kind; one handler's failure never
// aborts the rest (spec.md §4.2's "ordering within a single fire").
func (r *Room) ProcessDueAlarms(rng engine.Rng) {
	r.Submit(func(ctx context.Context, now time.Time) {
		due := r.alarms.ProcessDue(now)
		if len(due) == 0 {
			return
		}
		// Persist the remaining queue before acting on any due alarm's side
		// effect, so a crash mid-dispatch never replays an alarm whose
		// effect already committed.
		_ = r.persist(ctx)

		for _, a := range due {
			switch a.Kind {
			case alarmqueue.KindSeatExpiration:
				r.fireSeatExpiration(ctx, protocol.PlayerIdType(a.TargetId), now)
			case alarmqueue.KindPauseTimeout:
				r.firePauseTimeout(ctx, protocol.PlayerIdType(a.TargetId), now)
			case alarmqueue.KindAfkCheck:
				r.fireAfkCheck(ctx, protocol.PlayerIdType(a.TargetId), now)
			case alarmqueue.KindTurnTimeout:
				r.fireTurnTimeout(ctx, protocol.PlayerIdType(a.TargetId), now)
			case alarmqueue.KindRoomCleanup:
				r.fireRoomCleanup(ctx, now)
			}
		}
	})
}

// NextWake exposes the queue's earliest fire time for the gateway/runtime
// to arm the external wake primitive against.
func (r *Room) NextWake() (time.Time, bool) {
	resultCh := make(chan struct {
		t  time.Time
		ok bool
	}, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		t, ok := r.alarms.NextWake()
		resultCh <- struct {
			t  time.Time
			ok bool
		}{t, ok}
	})
	res := <-resultCh
	return res.t, res.ok
}

func (r *Room) fireSeatExpiration(ctx context.Context, playerId protocol.PlayerIdType, now time.Time) {
	seat, ok := r.seats[playerId]
	if !ok || seat.Connected {
		return
	}
	if seat.ReconnectDeadline == nil || seat.ReconnectDeadline.After(now) {
		return
	}

	if r.state == StateWaiting || r.state == StateStarting {
		delete(r.seats, playerId)
		delete(r.scorecards, playerId)
		r.renumberTurnOrders()
		_ = r.persist(ctx)
		r.broadcast(protocol.EventPlayerRemoved, protocol.PlayerRemovedEvent{PlayerId: playerId, Reason: "timeout"}, now)
		r.scheduleLobbyNotify(ctx)
		return
	}

	if r.state == StatePlaying {
		seat.Forfeited = true
		_ = r.persist(ctx)
		r.broadcast(protocol.EventPlayerForfeited, protocol.PlayerForfeitedEvent{PlayerId: playerId}, now)
		if current, ok := r.currentTurnPlayer(); ok && current == playerId {
			r.forceScoreAndAdvance(ctx, playerId, now, "forfeit")
		}
		r.scheduleLobbyNotify(ctx)
	}
}

func (r *Room) renumberTurnOrders() {
	order := 0
	for _, s := range r.seats {
		s.TurnOrder = order
		order++
	}
}

func (r *Room) firePauseTimeout(ctx context.Context, playerId protocol.PlayerIdType, now time.Time) {
	seat, ok := r.seats[playerId]
	if !ok || seat.Connected {
		return // reconnected within the debounce window; nothing to do
	}
	current, ok := r.currentTurnPlayer()
	if !ok || current != playerId || r.state != StatePlaying {
		return
	}
	r.state = StatePaused
	if a, ok := r.alarms.Get(alarmqueue.KindTurnTimeout, string(playerId)); ok {
		remaining := a.FireAt.Sub(now)
		seat.PausedTurnRemaining = &remaining
	}
	r.alarms.Cancel(alarmqueue.KindTurnTimeout, string(playerId))
	r.alarms.Cancel(alarmqueue.KindAfkCheck, string(playerId))
	_ = r.persist(ctx)
}

func (r *Room) fireAfkCheck(ctx context.Context, playerId protocol.PlayerIdType, now time.Time) {
	current, ok := r.currentTurnPlayer()
	if !ok || current != playerId {
		return
	}
	secondsRemaining := int(AfkWarningWindow.Seconds())
	r.broadcast(protocol.EventPlayerAfkWarning, protocol.PlayerAfkWarningEvent{PlayerId: playerId, SecondsRemaining: secondsRemaining}, now)
}

func (r *Room) fireTurnTimeout(ctx context.Context, playerId protocol.PlayerIdType, now time.Time) {
	current, ok := r.currentTurnPlayer()
	if !ok || current != playerId || r.state != StatePlaying {
		return
	}
	r.forceScoreAndAdvance(ctx, playerId, now, "timeout")
}

// forceScoreAndAdvance implements the AFK/forfeit auto-skip for the
// player whose turn is currently active: score zero into the lowest
// unused category and advance. A forfeited player reached later by
// rotation goes through turn_helpers.go's autoScoreForfeitedTurn instead,
// which shares the same scoring rule.
func (r *Room) forceScoreAndAdvance(ctx context.Context, playerId protocol.PlayerIdType, now time.Time, reason string) {
	r.scoreZeroIntoLowestUnused(playerId, reason, now)
	r.advanceTurn(ctx, now)
}

func (r *Room) fireRoomCleanup(ctx context.Context, now time.Time) {
	r.state = StateAbandoned
	_ = r.persist(ctx)
	r.scheduleLobbyNotify(ctx)
}
