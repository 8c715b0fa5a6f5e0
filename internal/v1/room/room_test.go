package room

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/storage"
)

// fixedRng always rolls the same face, which is enough to drive the turn
// FSM through roll/keep/score without depending on randomness.
type fixedRng struct{ face int }

func (f fixedRng) Intn(n int) int { return (f.face - 1) % n }

func newTestRoom(t *testing.T) (*Room, context.Context, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storage.New(client, "test-room", "room:")

	r := New(protocol.RoomIdType("ABCDEF"), DefaultConfig(), store, at(0), nil)
	ctx := context.Background()
	go r.Run(ctx)
	return r, ctx, mr.Close
}

func at(seconds int) time.Time {
	return time.Unix(1700000000+int64(seconds), 0)
}

func attachPlayer(t *testing.T, r *Room, ctx context.Context, id protocol.PlayerIdType) <-chan []byte {
	ch, role, err := r.Attach(ctx, Identity{PlayerId: id, DisplayName: protocol.DisplayNameType(id)}, 16)
	require.Nil(t, err)
	assert.Equal(t, protocol.RoleTypePlayer, role)
	return ch
}

func TestAttachFirstPlayerBecomesHost(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()

	attachPlayer(t, r, ctx, "alice")

	hostCh := make(chan protocol.PlayerIdType, 1)
	r.Submit(func(ctx context.Context, now time.Time) { hostCh <- r.hostId })
	assert.Equal(t, protocol.PlayerIdType("alice"), <-hostCh)

	_, hasAlarm := r.NextWake()
	assert.False(t, hasAlarm) // no alarms armed yet for a waiting room
}

func TestAttachRoomFullRejectsExtraPlayer(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()
	submitAndWait(r, func(ctx context.Context, now time.Time) { r.config.AllowSpectators = false })

	for i := 0; i < DefaultConfig().MaxPlayers; i++ {
		attachPlayer(t, r, ctx, protocol.PlayerIdType(fmt.Sprintf("p%d", i)))
	}

	_, _, err := r.Attach(ctx, Identity{PlayerId: "overflow", WantsSpectator: false}, 16)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeRoomFull, err.Code)
}

func TestAttachSpectatorWhenPlayingGetsSpectatorRole(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()

	attachPlayer(t, r, ctx, "alice")
	attachPlayer(t, r, ctx, "bob")
	require.Nil(t, r.HandleGameStart("alice"))

	_, role, err := r.Attach(ctx, Identity{PlayerId: "carol"}, 16)
	require.Nil(t, err)
	assert.Equal(t, protocol.RoleTypeSpectator, role)
}

func TestGameStartRequiresHostAndTwoPlayers(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()

	attachPlayer(t, r, ctx, "alice")

	err := r.HandleGameStart("alice")
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeInvalidAction, err.Code)

	attachPlayer(t, r, ctx, "bob")
	err = r.HandleGameStart("bob")
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeNotHost, err.Code)

	require.Nil(t, r.HandleGameStart("alice"))
}

func TestDiceRollRejectsWrongTurn(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()

	attachPlayer(t, r, ctx, "alice")
	attachPlayer(t, r, ctx, "bob")
	require.Nil(t, r.HandleGameStart("alice"))

	err := r.HandleDiceRoll("bob", [5]bool{}, fixedRng{face: 3})
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeNotYourTurn, err.Code)
}

func TestDiceKeepRejectsUnsettingKept(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()

	attachPlayer(t, r, ctx, "alice")
	attachPlayer(t, r, ctx, "bob")
	require.Nil(t, r.HandleGameStart("alice"))
	require.Nil(t, r.HandleDiceRoll("alice", [5]bool{true, false, false, false, false}, fixedRng{face: 3}))
	require.Nil(t, r.HandleDiceKeep("alice", []int{0, 1}))

	err := r.HandleDiceKeep("alice", []int{2})
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeInvalidPayload, err.Code)
}

func TestCategoryScoreAdvancesTurn(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()

	attachPlayer(t, r, ctx, "alice")
	attachPlayer(t, r, ctx, "bob")
	require.Nil(t, r.HandleGameStart("alice"))

	require.Nil(t, r.HandleDiceRoll("alice", [5]bool{}, fixedRng{face: 3}))
	require.Nil(t, r.HandleCategoryScore("alice", protocol.CategoryThrees))

	// Turn should now belong to bob.
	err := r.HandleDiceRoll("alice", [5]bool{}, fixedRng{face: 3})
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeNotYourTurn, err.Code)
	require.Nil(t, r.HandleDiceRoll("bob", [5]bool{}, fixedRng{face: 3}))
}

func TestCategoryScoreRejectsAlreadyScoredCategory(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()

	attachPlayer(t, r, ctx, "alice")
	attachPlayer(t, r, ctx, "bob")
	require.Nil(t, r.HandleGameStart("alice"))
	require.Nil(t, r.HandleDiceRoll("alice", [5]bool{}, fixedRng{face: 3}))
	require.Nil(t, r.HandleCategoryScore("alice", protocol.CategoryThrees))

	require.Nil(t, r.HandleDiceRoll("bob", [5]bool{}, fixedRng{face: 3}))
	require.Nil(t, r.HandleCategoryScore("bob", protocol.CategoryThrees))
	require.Nil(t, r.HandleDiceRoll("alice", [5]bool{}, fixedRng{face: 3}))

	err := r.HandleCategoryScore("alice", protocol.CategoryThrees)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeInvalidAction, err.Code)
}

func TestChatAppendsToLog(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()
	attachPlayer(t, r, ctx, "alice")

	require.Nil(t, r.HandleChat("alice", "hello room"))

	resultCh := make(chan int, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		resultCh <- r.chat.Len()
	})
	assert.Equal(t, 1, <-resultCh)
}

func TestHandleChatDoesNotReenforceEnvelopeValidation(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()
	attachPlayer(t, r, ctx, "alice")

	big := make([]byte, 0)
	for i := 0; i < 501; i++ {
		big = append(big, 'x')
	}
	// ChatCommand.Validate rejects content over 500 chars at the Dispatch/
	// Decode boundary; HandleChat itself trusts its caller and appends
	// whatever it's given.
	err := r.HandleChat("alice", string(big))
	require.Nil(t, err)
}

func TestQueueJoinRequiresSpectator(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()
	attachPlayer(t, r, ctx, "alice")

	err := r.HandleQueueJoin("alice")
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeInvalidAction, err.Code)
}

func TestDetachThenReattachWithinWindowReclaimsSeat(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()
	ch := attachPlayer(t, r, ctx, "alice")
	attachPlayer(t, r, ctx, "bob")

	r.Detach("alice", ch)
	// Give the actor a moment to process the detach command.
	time.Sleep(20 * time.Millisecond)

	_, role, err := r.Attach(ctx, Identity{PlayerId: "alice"}, 16)
	require.Nil(t, err)
	assert.Equal(t, protocol.RoleTypePlayer, role)
}

func TestRematchResetsScorecardsButKeepsSeats(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()
	attachPlayer(t, r, ctx, "alice")
	attachPlayer(t, r, ctx, "bob")
	require.Nil(t, r.HandleGameStart("alice"))

	// Force completion isn't exercised end-to-end here (13 rounds), so
	// simulate by calling HandleGameRematch only after manually marking the
	// room completed through the actor.
	doneCh := make(chan struct{})
	r.Submit(func(ctx context.Context, now time.Time) {
		r.state = StateCompleted
		close(doneCh)
	})
	<-doneCh

	require.Nil(t, r.HandleGameRematch("alice"))

	stateCh := make(chan State, 1)
	r.Submit(func(ctx context.Context, now time.Time) {
		stateCh <- r.state
	})
	assert.Equal(t, StateWaiting, <-stateCh)
}
