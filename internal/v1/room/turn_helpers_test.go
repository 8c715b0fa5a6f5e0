package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// TestForfeitedSeatAutoScoresEveryTurnInsteadOfBeingSkipped drives a full
// game where one seat forfeits before ever taking a turn: spec.md
// §4.6.3/§9 requires the forfeited seat to keep consuming playerOrder
// arithmetic, auto-scoring zero into its lowest unused category every time
// rotation reaches it, rather than being skipped forever (which would
// leave its scorecard permanently incomplete and block
// allScorecardsFull's "every slot non-null" invariant from ever holding).
func TestForfeitedSeatAutoScoresEveryTurnInsteadOfBeingSkipped(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()
	attachPlayer(t, r, ctx, "alice") // turnOrder 0, host, current at game start
	attachPlayer(t, r, ctx, "bob")   // turnOrder 1
	require.Nil(t, r.HandleGameStart("alice"))

	// Forfeit bob before he ever gets an interactive turn. Rotation will
	// land on him after every one of alice's turns.
	submitAndWait(r, func(ctx context.Context, now time.Time) {
		r.seats["bob"].Forfeited = true
	})

	// Alice plays all 13 of her categories. After each of her turns,
	// rotation lands on forfeited bob, who auto-scores and rotation
	// returns to alice — so every iteration here should land back on her.
	for range protocol.Categories {
		if currentStateForTest(r) == StateCompleted {
			break
		}
		require.Nil(t, r.HandleDiceRoll("alice", [5]bool{}, fixedRng{face: 3}))
		aliceCat := firstUnusedCategoryForTest(r, "alice")
		require.Nil(t, r.HandleCategoryScore("alice", aliceCat))
	}

	state := currentStateForTest(r)
	assert.Equal(t, StateCompleted, state)

	assert.True(t, scorecardFullForTest(r, "alice"), "alice's scorecard should be fully scored")
	assert.True(t, scorecardFullForTest(r, "bob"), "bob's forfeited scorecard should be fully auto-scored, not left incomplete")
}

func currentStateForTest(r *Room) State {
	resultCh := make(chan State, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		resultCh <- r.state
	})
	return <-resultCh
}

func firstUnusedCategoryForTest(r *Room, playerId protocol.PlayerIdType) protocol.CategoryType {
	resultCh := make(chan protocol.CategoryType, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		sc := r.scorecards[playerId]
		for _, cat := range protocol.Categories {
			if sc.Slots[cat] == nil {
				resultCh <- cat
				return
			}
		}
		resultCh <- ""
	})
	return <-resultCh
}

func scorecardFullForTest(r *Room, playerId protocol.PlayerIdType) bool {
	resultCh := make(chan bool, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		sc := r.scorecards[playerId]
		for _, cat := range protocol.Categories {
			if sc.Slots[cat] == nil {
				resultCh <- false
				return
			}
		}
		resultCh <- true
	})
	return <-resultCh
}
