package room

import (
	"context"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/alarmqueue"
	"github.com/dicee-dev/dicee-server/internal/v1/engine"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// HandleGameStart runs the host-only game.start transition (spec.md
// §4.6.4). Returns a *protocol.Error for the sender on rejection; nil on
// success (events are already broadcast by the time this returns).
func (r *Room) HandleGameStart(caller protocol.PlayerIdType) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		if r.hostId != caller {
			resultCh <- protocol.NewError(protocol.CodeNotHost, "only the host can start the game")
			return
		}
		if r.state != StateWaiting {
			resultCh <- protocol.NewError(protocol.CodeInvalidAction, "game already started")
			return
		}
		if len(r.seats) < 2 {
			resultCh <- protocol.NewError(protocol.CodeInvalidAction, "need at least 2 players")
			return
		}

		r.freezePlayerOrder()
		r.state = StatePlaying
		r.phase = PhaseTurnRoll
		r.startedAt = &now
		r.turnNumber, r.roundNumber, r.currentPlayerIndex = 1, 1, 0
		r.armTurnTimeout(now)

		if err := r.persist(ctx); err != nil {
			resultCh <- protocol.NewError(protocol.CodeInternal, "persist failed: "+err.Error())
			return
		}
		r.broadcast(protocol.EventGameStarting, protocol.GameStartingEvent{}, now)
		r.broadcast(protocol.EventGameStarted, protocol.GameStartedEvent{PlayerOrder: r.playerOrder}, now)
		r.broadcast(protocol.EventTurnStarted, r.turnStartedEvent(), now)
		r.scheduleLobbyNotify(ctx)
		resultCh <- nil
	})
	return <-resultCh
}

func (r *Room) freezePlayerOrder() {
	order := make([]protocol.PlayerIdType, len(r.seats))
	for _, s := range r.seats {
		order[s.TurnOrder] = s.PlayerId
		r.scorecards[s.PlayerId] = newScorecard()
	}
	r.playerOrder = order
}

func (r *Room) armTurnTimeout(now time.Time) {
	if r.config.TurnTimeoutSeconds <= 0 {
		return
	}
	r.armTurnTimeoutFor(now, time.Duration(r.config.TurnTimeoutSeconds)*time.Second)
}

// armTurnTimeoutFor schedules KindTurnTimeout (and, budget permitting,
// KindAfkCheck) for the current player using an explicit remaining
// duration rather than always assuming a fresh TurnTimeoutSeconds. A normal
// turn start arms the full configured duration via armTurnTimeout; resuming
// a paused turn arms whatever budget was left when the pause began
// (spec.md §4.6.6).
func (r *Room) armTurnTimeoutFor(now time.Time, remaining time.Duration) {
	if remaining <= 0 || len(r.playerOrder) == 0 {
		return
	}
	current := r.playerOrder[r.currentPlayerIndex]
	firesAt := now.Add(remaining)
	r.alarms.Schedule(alarmqueue.KindTurnTimeout, string(current), firesAt, now)
	if warnAt := firesAt.Add(-AfkWarningWindow); warnAt.After(now) {
		r.alarms.Schedule(alarmqueue.KindAfkCheck, string(current), warnAt, now)
	}
}

func (r *Room) turnStartedEvent() protocol.TurnStartedEvent {
	current := r.playerOrder[r.currentPlayerIndex]
	return protocol.TurnStartedEvent{
		PlayerId: current, TurnNumber: r.turnNumber, RoundNumber: r.roundNumber,
		RollsRemaining: r.scorecards[current].RollsRemaining,
	}
}

func (r *Room) currentTurnPlayer() (protocol.PlayerIdType, bool) {
	if r.state != StatePlaying || len(r.playerOrder) == 0 {
		return "", false
	}
	return r.playerOrder[r.currentPlayerIndex], true
}

// HandleDiceRoll runs dice.roll (spec.md §4.6.4): validates the sticky-keep
// rule, rolls non-kept dice via rng, and moves to turn_decide, or to
// turn_score once no rolls remain.
func (r *Room) HandleDiceRoll(caller protocol.PlayerIdType, kept [5]bool, rng engine.Rng) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		current, ok := r.currentTurnPlayer()
		if !ok || current != caller {
			resultCh <- protocol.NewError(protocol.CodeNotYourTurn, "not your turn")
			return
		}
		sc := r.scorecards[caller]
		if sc.RollsRemaining <= 0 {
			resultCh <- protocol.NewError(protocol.CodeInvalidAction, "no rolls remaining")
			return
		}
		for i := 0; i < 5; i++ {
			if sc.Kept[i] && !kept[i] {
				resultCh <- protocol.NewError(protocol.CodeInvalidPayload, "kept dice cannot be un-kept within a turn")
				return
			}
		}

		sc.CurrentDice = engine.RollDice(rng, sc.CurrentDice, kept)
		sc.HasDice = true
		sc.Kept = kept
		sc.RollsRemaining--
		if sc.RollsRemaining == 0 {
			r.phase = PhaseTurnScore
		} else {
			r.phase = PhaseTurnDecide
		}

		if err := r.persist(ctx); err != nil {
			resultCh <- protocol.NewError(protocol.CodeInternal, "persist failed: "+err.Error())
			return
		}
		r.broadcast(protocol.EventDiceRolled, protocol.DiceRolledEvent{
			PlayerId: caller, Dice: sc.CurrentDice, Kept: sc.Kept, RollsRemaining: sc.RollsRemaining,
		}, now)
		resultCh <- nil
	})
	return <-resultCh
}

// HandleDiceKeep runs dice.keep: replaces the keep mask with indices,
// respecting the sticky rule (only additive).
func (r *Room) HandleDiceKeep(caller protocol.PlayerIdType, indices []int) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		current, ok := r.currentTurnPlayer()
		if !ok || current != caller {
			resultCh <- protocol.NewError(protocol.CodeNotYourTurn, "not your turn")
			return
		}
		sc := r.scorecards[caller]
		if sc.RollsRemaining <= 0 || sc.RollsRemaining >= 3 {
			resultCh <- protocol.NewError(protocol.CodeInvalidAction, "cannot keep dice at this point")
			return
		}

		var newKept [5]bool
		for _, idx := range indices {
			newKept[idx] = true
		}
		for i := 0; i < 5; i++ {
			if sc.Kept[i] && !newKept[i] {
				resultCh <- protocol.NewError(protocol.CodeInvalidPayload, "kept dice cannot be un-kept within a turn")
				return
			}
		}
		sc.Kept = newKept

		if err := r.persist(ctx); err != nil {
			resultCh <- protocol.NewError(protocol.CodeInternal, "persist failed: "+err.Error())
			return
		}
		r.broadcast(protocol.EventDiceKept, protocol.DiceKeptEvent{PlayerId: caller, Kept: sc.Kept}, now)
		resultCh <- nil
	})
	return <-resultCh
}

// HandleCategoryScore runs category.score: computes the score via the
// engine, writes the slot, and advances the turn.
func (r *Room) HandleCategoryScore(caller protocol.PlayerIdType, category protocol.CategoryType) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		current, ok := r.currentTurnPlayer()
		if !ok || current != caller {
			resultCh <- protocol.NewError(protocol.CodeNotYourTurn, "not your turn")
			return
		}
		sc := r.scorecards[caller]
		if sc.Slots[category] != nil {
			resultCh <- protocol.NewError(protocol.CodeInvalidAction, "category already scored")
			return
		}

		r.commitCategoryScore(ctx, caller, sc, category, now)
		resultCh <- nil
	})
	return <-resultCh
}

// commitCategoryScore performs the score-then-advance logic of the
// interactive category.score command. The forced auto-score paths (AFK
// timeout, seat forfeiture) use scoreZeroIntoLowestUnused instead.
func (r *Room) commitCategoryScore(ctx context.Context, caller protocol.PlayerIdType, sc *Scorecard, category protocol.CategoryType, now time.Time) {
	diceeAlreadyScored := sc.Slots[protocol.CategoryDicee] != nil
	score := engine.ScoreCategory(sc.CurrentDice, category)
	bonus := engine.DiceeBonusDelta(sc.CurrentDice, diceeAlreadyScored)

	scoreCopy := score
	sc.Slots[category] = &scoreCopy
	sc.DiceeBonus += bonus
	sc.UpperBonus = engine.UpperBonus(sc.Slots)

	_ = r.persist(ctx)
	r.broadcast(protocol.EventCategoryScored, protocol.CategoryScoredEvent{
		PlayerId: caller, Category: category, Score: score, DiceeBonus: bonus, TotalScore: sc.totalScore(),
	}, now)

	r.advanceTurn(ctx, now)
}

// advanceTurn implements spec.md §4.6.4's turn-advancement rule: if every
// seated player has filled all 13 categories, the game ends; otherwise the
// next still-participating player's turn begins.
func (r *Room) advanceTurn(ctx context.Context, now time.Time) {
	if r.allScorecardsFull() {
		r.endGame(ctx, now)
		return
	}
	r.advanceTurnFrom(ctx, r.playerOrder[r.currentPlayerIndex], now)
}

// advanceTurnFrom ends current's turn and starts the next one in rotation.
// A forfeited seat still occupies its place in playerOrder — spec.md
// §4.6.3/§9 resolves the open question of what happens to a forfeited
// player's future turns by auto-scoring zero into their lowest unused
// category each time rotation reaches them, preserving playerOrder
// arithmetic, rather than skipping them entirely (which would leave their
// scorecard permanently incomplete). So landing on a forfeited seat here
// auto-scores it and recurses to the next seat instead of arming an
// interactive turn for it.
func (r *Room) advanceTurnFrom(ctx context.Context, current protocol.PlayerIdType, now time.Time) {
	r.alarms.Cancel(alarmqueue.KindTurnTimeout, string(current))
	r.alarms.Cancel(alarmqueue.KindAfkCheck, string(current))
	r.broadcast(protocol.EventTurnEnded, protocol.TurnEndedEvent{PlayerId: current}, now)

	next, wrapped, ok := engine.AdvanceTurn(r.playerOrder, current)
	if !ok {
		r.endGame(ctx, now)
		return
	}
	for i, p := range r.playerOrder {
		if p == next {
			r.currentPlayerIndex = i
			break
		}
	}
	if wrapped {
		r.roundNumber++
	}
	r.turnNumber++

	if seat := r.seats[next]; seat != nil && seat.Forfeited {
		r.autoScoreForfeitedTurn(ctx, next, now)
		return
	}

	nextSc := r.scorecards[next]
	nextSc.CurrentDice = [5]int{}
	nextSc.HasDice = false
	nextSc.Kept = [5]bool{}
	nextSc.RollsRemaining = 3
	r.phase = PhaseTurnRoll

	r.armTurnTimeout(now)
	_ = r.persist(ctx)
	r.broadcast(protocol.EventTurnStarted, r.turnStartedEvent(), now)
}

// autoScoreForfeitedTurn forces a zero into a forfeited player's lowest
// unused category, then keeps advancing past them.
func (r *Room) autoScoreForfeitedTurn(ctx context.Context, playerId protocol.PlayerIdType, now time.Time) {
	r.scoreZeroIntoLowestUnused(playerId, "forfeit", now)
	if r.allScorecardsFull() {
		r.endGame(ctx, now)
		return
	}
	r.advanceTurnFrom(ctx, playerId, now)
}

// scoreZeroIntoLowestUnused is the shared "force a zero in" rule behind
// both an AFK/forfeit-while-current timeout (room/alarms.go's
// forceScoreAndAdvance) and a forfeited seat reached later by rotation
// (autoScoreForfeitedTurn): score zero into the lowest unused category in
// enumeration order and emit turn.skipped.
func (r *Room) scoreZeroIntoLowestUnused(playerId protocol.PlayerIdType, reason string, now time.Time) {
	sc := r.scorecards[playerId]
	cat, ok := engine.LowestEvUnusedCategory(sc.Slots)
	if !ok {
		return
	}
	zero := 0
	sc.Slots[cat] = &zero
	sc.UpperBonus = engine.UpperBonus(sc.Slots)
	r.broadcast(protocol.EventTurnSkipped, protocol.TurnSkippedEvent{PlayerId: playerId, Reason: reason, CategoryScored: cat, Score: 0}, now)
}

func (r *Room) allScorecardsFull() bool {
	for _, playerId := range r.playerOrder {
		sc := r.scorecards[playerId]
		for _, cat := range protocol.Categories {
			if sc.Slots[cat] == nil {
				return false
			}
		}
	}
	return true
}

func (r *Room) endGame(ctx context.Context, now time.Time) {
	r.state = StateCompleted
	r.phase = PhaseNone

	entries := make([]engine.RankingKey, 0, len(r.playerOrder))
	for _, playerId := range r.playerOrder {
		sc := r.scorecards[playerId]
		seat := r.seats[playerId]
		turnOrder := 0
		if seat != nil {
			turnOrder = seat.TurnOrder
		}
		entries = append(entries, engine.RankingKey{PlayerId: playerId, TotalScore: sc.totalScore(), DiceeBonus: sc.DiceeBonus, TurnOrder: turnOrder})
	}
	ranked := engine.Rank(entries)
	rankings := make([]protocol.RankingEntry, len(ranked))
	for i, e := range ranked {
		rankings[i] = protocol.RankingEntry{PlayerId: e.PlayerId, TotalScore: e.TotalScore, DiceeBonus: e.DiceeBonus, Rank: i + 1}
	}

	r.recordGameDuration(now)
	r.alarms.Schedule(alarmqueue.KindRoomCleanup, "", now.Add(CleanupWindow), now)
	r.warmSeatTransition(ctx, now)

	_ = r.persist(ctx)
	r.broadcast(protocol.EventGameCompleted, protocol.GameCompletedEvent{Rankings: rankings}, now)
	r.scheduleLobbyNotify(ctx)
}

// HandleGameRematch resets scorecards and dice but keeps seats and
// playerOrder, re-entering waiting (a supplemental feature beyond the
// distilled spec, justified in SPEC_FULL.md §4.6).
func (r *Room) HandleGameRematch(caller protocol.PlayerIdType) *protocol.Error {
	resultCh := make(chan *protocol.Error, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		if r.hostId != caller {
			resultCh <- protocol.NewError(protocol.CodeNotHost, "only the host can start a rematch")
			return
		}
		if r.state != StateCompleted {
			resultCh <- protocol.NewError(protocol.CodeInvalidAction, "game is not completed")
			return
		}

		r.alarms.Cancel(alarmqueue.KindRoomCleanup, "")
		r.state = StateWaiting
		r.phase = PhaseNone
		r.playerOrder = nil
		r.currentPlayerIndex = 0
		r.turnNumber, r.roundNumber = 0, 0
		r.scorecards = make(map[protocol.PlayerIdType]*Scorecard)
		for _, s := range r.seats {
			s.Forfeited = false
		}

		if err := r.persist(ctx); err != nil {
			resultCh <- protocol.NewError(protocol.CodeInternal, "persist failed: "+err.Error())
			return
		}
		r.broadcast(protocol.EventRoomState, r.buildRoomState(""), now)
		r.scheduleLobbyNotify(ctx)
		resultCh <- nil
	})
	return <-resultCh
}
