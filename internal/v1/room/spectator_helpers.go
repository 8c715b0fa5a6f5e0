package room

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/set"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

func (r *Room) addSpectator(playerId protocol.PlayerIdType) {
	for _, id := range r.spectatorIds {
		if id == playerId {
			return
		}
	}
	r.spectatorIds = append(r.spectatorIds, playerId)
}

func (r *Room) removeSpectator(playerId protocol.PlayerIdType) {
	for i, id := range r.spectatorIds {
		if id == playerId {
			r.spectatorIds = append(r.spectatorIds[:i], r.spectatorIds[i+1:]...)
			return
		}
	}
	for i, id := range r.queuedIds {
		if id == playerId {
			r.queuedIds = append(r.queuedIds[:i], r.queuedIds[i+1:]...)
			return
		}
	}
}

// HandleQueueJoin moves a spectator into the warm-seat queue for the next
// game.
func (r *Room) HandleQueueJoin(playerId protocol.PlayerIdType) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		isSpectator := false
		for _, id := range r.spectatorIds {
			if id == playerId {
				isSpectator = true
				break
			}
		}
		if !isSpectator {
			resultCh <- protocol.NewError(protocol.CodeInvalidAction, "only spectators may join the queue")
			return
		}
		for _, id := range r.queuedIds {
			if id == playerId {
				resultCh <- nil
				return
			}
		}
		r.queuedIds = append(r.queuedIds, playerId)
		_ = r.persist(ctx)
		r.notifyQueueUpdate(now)
		resultCh <- nil
	})
	return <-resultCh
}

// HandleQueueLeave removes a player from the warm-seat queue.
func (r *Room) HandleQueueLeave(playerId protocol.PlayerIdType) {
	r.Submit(func(ctx context.Context, now time.Time) {
		for i, id := range r.queuedIds {
			if id == playerId {
				r.queuedIds = append(r.queuedIds[:i], r.queuedIds[i+1:]...)
				_ = r.persist(ctx)
				r.notifyQueueUpdate(now)
				return
			}
		}
	})
}

// maxTrackedGameDurations caps the rolling window recordGameDuration
// averages over, so one unusually long or short game doesn't stay load-
// bearing forever.
const maxTrackedGameDurations = 10

// recordGameDuration folds a just-finished game's wall-clock length into the
// rolling average notifyQueueUpdate uses for estimatedWaitMs. A room with no
// recorded startedAt (shouldn't happen outside tests that skip HandleGame
// Start) contributes nothing.
func (r *Room) recordGameDuration(now time.Time) {
	if r.startedAt == nil {
		return
	}
	durationMs := now.Sub(*r.startedAt).Milliseconds()
	if durationMs <= 0 {
		return
	}
	r.recentGameDurationsMs = append(r.recentGameDurationsMs, durationMs)
	if len(r.recentGameDurationsMs) > maxTrackedGameDurations {
		r.recentGameDurationsMs = r.recentGameDurationsMs[len(r.recentGameDurationsMs)-maxTrackedGameDurations:]
	}
}

// averageGameDurationMs returns the rolling average of recent completed-game
// durations, falling back to config.TurnTimeoutSeconds scaled by MaxPlayers
// as a rough per-game estimate before any game in this room has finished.
func (r *Room) averageGameDurationMs() int64 {
	if len(r.recentGameDurationsMs) == 0 {
		perTurnMs := int64(r.config.TurnTimeoutSeconds) * 1000
		if perTurnMs <= 0 {
			perTurnMs = int64(DefaultConfig().TurnTimeoutSeconds) * 1000
		}
		maxPlayers := r.config.MaxPlayers
		if maxPlayers <= 0 {
			maxPlayers = 1
		}
		return perTurnMs * int64(len(protocol.Categories)) * int64(maxPlayers)
	}
	var sum int64
	for _, d := range r.recentGameDurationsMs {
		sum += d
	}
	return sum / int64(len(r.recentGameDurationsMs))
}

// warmSeatTransition runs at game.completed: promote queued spectators into
// any open seats, in queue order, per spec.md §4.6.8.
func (r *Room) warmSeatTransition(ctx context.Context, now time.Time) {
	openSlots := r.config.MaxPlayers - len(r.seats)
	promoted := 0
	for openSlots > 0 && len(r.queuedIds) > 0 {
		playerId := r.queuedIds[0]
		r.queuedIds = r.queuedIds[1:]
		for i, id := range r.spectatorIds {
			if id == playerId {
				r.spectatorIds = append(r.spectatorIds[:i], r.spectatorIds[i+1:]...)
				break
			}
		}
		r.allocateSeat(Identity{PlayerId: playerId}, now)
		openSlots--
		promoted++
	}
	r.notifyQueueUpdate(now)
}

// notifyQueueUpdate reports every remaining queued spectator's 1-based queue
// position and an estimated wait (position * the rolling average game
// duration, since one warm-seat transition opens up at most MaxPlayers
// seats per completed game) per spec.md §4.6.8. Broadcast unconditionally
// after a warm-seat transition, even with an empty queue, so a client that
// was just promoted out of it sees the queue clear.
func (r *Room) notifyQueueUpdate(now time.Time) {
	avgMs := r.averageGameDurationMs()
	positions := make(map[protocol.PlayerIdType]int, len(r.queuedIds))
	wait := make(map[protocol.PlayerIdType]int64, len(r.queuedIds))
	for i, playerId := range r.queuedIds {
		position := i + 1
		positions[playerId] = position
		wait[playerId] = int64(position) * avgMs
	}
	r.broadcastToRoles(set.New(protocol.RoleTypeSpectator), protocol.EventQueueUpdate,
		protocol.QueueUpdateEvent{Positions: positions, EstimatedWaitMs: wait}, now)
}

// HandleSpectatorPrediction, HandleSpectatorRooting and HandleSpectatorKibitz
// fold a spectator's sideline activity into the chat log as a system-typed
// entry — none of them have a dedicated wire event, since they are
// commentary rather than game state.
func (r *Room) HandleSpectatorPrediction(caller protocol.PlayerIdType, targetPlayerId string) {
	r.recordSpectatorActivity(caller, "spectator_prediction", fmt.Sprintf("predicts %s wins", targetPlayerId))
}

func (r *Room) HandleSpectatorRooting(caller protocol.PlayerIdType, targetPlayerId string) {
	r.recordSpectatorActivity(caller, "spectator_rooting", fmt.Sprintf("is rooting for %s", targetPlayerId))
}

func (r *Room) HandleSpectatorKibitz(caller protocol.PlayerIdType, topic, value string) {
	r.recordSpectatorActivity(caller, "spectator_kibitz", fmt.Sprintf("%s: %s", topic, value))
}

func (r *Room) recordSpectatorActivity(caller protocol.PlayerIdType, kind, content string) {
	r.Submit(func(ctx context.Context, now time.Time) {
		msg := protocol.ChatMessageEvent{
			Id: fmt.Sprintf("%s-%d", kind, now.UnixNano()), PlayerId: caller,
			Content: content, Timestamp: now.UnixMilli(), Type: kind,
		}
		r.chat.Append(msg)
		_ = r.persist(ctx)
		r.broadcast(protocol.EventChatMessage, msg, now)
	})
}

func (r *Room) playerView(s *Seat) protocol.PlayerView {
	return protocol.PlayerView{
		PlayerId: s.PlayerId, DisplayName: s.DisplayName, AvatarSeed: s.AvatarSeed,
		TurnOrder: s.TurnOrder, IsHost: s.IsHost, Connected: s.Connected, Forfeited: s.Forfeited,
		TotalScore: r.scorecardTotalOrZero(s.PlayerId),
	}
}

func (r *Room) scorecardTotalOrZero(playerId protocol.PlayerIdType) int {
	if sc, ok := r.scorecards[playerId]; ok {
		return sc.totalScore()
	}
	return 0
}

func (r *Room) buildRoomState(viewer protocol.PlayerIdType) protocol.RoomStateEvent {
	players := make([]protocol.PlayerView, 0, len(r.seats))
	for _, s := range r.seats {
		players = append(players, r.playerView(s))
	}

	scorecards := make(map[protocol.PlayerIdType]protocol.Scorecard, len(r.scorecards))
	for playerId, sc := range r.scorecards {
		scorecards[playerId] = protocol.Scorecard{Slots: sc.Slots, UpperBonus: sc.UpperBonus, DiceeBonus: sc.DiceeBonus, TotalScore: sc.totalScore()}
	}

	var currentPlayer protocol.PlayerIdType
	if len(r.playerOrder) > 0 && r.currentPlayerIndex < len(r.playerOrder) {
		currentPlayer = r.playerOrder[r.currentPlayerIndex]
	}

	role := protocol.RoleTypeSpectator
	if seat, ok := r.seats[viewer]; ok {
		role = protocol.RoleTypePlayer
		if seat.IsHost {
			role = protocol.RoleTypeHost
		}
	}

	var dice []int
	var kept []bool
	rollsRemaining := 0
	if currentPlayer != "" {
		if sc, ok := r.scorecards[currentPlayer]; ok && sc.HasDice {
			dice = []int{sc.CurrentDice[0], sc.CurrentDice[1], sc.CurrentDice[2], sc.CurrentDice[3], sc.CurrentDice[4]}
			kept = []bool{sc.Kept[0], sc.Kept[1], sc.Kept[2], sc.Kept[3], sc.Kept[4]}
			rollsRemaining = sc.RollsRemaining
		}
	}

	return protocol.RoomStateEvent{
		RoomCode: r.code, State: string(r.state), Players: players, Scorecards: scorecards,
		CurrentPlayer: currentPlayer, TurnNumber: r.turnNumber, RoundNumber: r.roundNumber,
		CurrentDice: dice, Kept: kept, RollsRemaining: rollsRemaining,
		ChatHistory: r.chat.Snapshot(), YourRole: role, SpectatorCount: len(r.spectatorIds),
	}
}
