package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

func decodeQueueUpdateFrame(t *testing.T, frame []byte) protocol.QueueUpdateEvent {
	t.Helper()
	var env struct {
		Type    string                   `json:"type"`
		Payload protocol.QueueUpdateEvent `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	require.Equal(t, protocol.EventQueueUpdate, env.Type)
	return env.Payload
}

// attachSpectator attaches playerId as a spectator and drains the room.state
// frame every attach sends before anything else, so callers can read
// subsequent broadcasts (like queue_update) without tripping over it.
func attachSpectator(t *testing.T, r *Room, ctx context.Context, playerId protocol.PlayerIdType) <-chan []byte {
	t.Helper()
	ch, role, err := r.Attach(ctx, Identity{PlayerId: playerId, WantsSpectator: true}, 16)
	require.Nil(t, err)
	assert.Equal(t, protocol.RoleTypeSpectator, role)
	select {
	case frame := <-ch:
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(frame, &env))
		require.Equal(t, protocol.EventRoomState, env.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a room.state frame on spectator attach")
	}
	return ch
}

func TestWarmSeatTransitionNotifiesOnlySpectatorRole(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()

	playerCh := attachPlayer(t, r, ctx, "alice")
	<-playerCh // drain alice's own room.state frame

	spectatorCh := attachSpectator(t, r, ctx, "carol")

	require.Nil(t, r.HandleQueueJoin("carol"))

	// HandleQueueJoin already fires a queue_update; drain it before the
	// warm-seat transition's own update.
	select {
	case frame := <-spectatorCh:
		joined := decodeQueueUpdateFrame(t, frame)
		assert.Equal(t, 1, joined.Positions["carol"])
	case <-time.After(time.Second):
		t.Fatal("spectator did not receive queue update frame for joining the queue")
	}

	done := make(chan struct{})
	r.Submit(func(ctx context.Context, now time.Time) {
		defer close(done)
		r.warmSeatTransition(ctx, now)
	})
	<-done

	select {
	case frame := <-spectatorCh:
		update := decodeQueueUpdateFrame(t, frame)
		assert.Empty(t, update.Positions, "carol should have been promoted out of the queue")
	case <-time.After(time.Second):
		t.Fatal("spectator did not receive queue update frame")
	}

	select {
	case frame := <-playerCh:
		t.Fatalf("player should not receive queue-only broadcast, got %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyQueueUpdateReportsPositionsAndEstimatedWait(t *testing.T) {
	r, ctx, closeFn := newTestRoom(t)
	defer closeFn()

	r.config.MaxPlayers = 2
	attachPlayer(t, r, ctx, "alice")
	attachPlayer(t, r, ctx, "bob")

	carolCh := attachSpectator(t, r, ctx, "carol")
	require.Nil(t, r.HandleQueueJoin("carol"))
	<-carolCh // drain carol's own join update

	daveCh := attachSpectator(t, r, ctx, "dave")
	require.Nil(t, r.HandleQueueJoin("dave"))

	// dave's join broadcasts to every spectator, including carol.
	carolUpdate := decodeQueueUpdateFrame(t, <-carolCh)
	daveUpdate := decodeQueueUpdateFrame(t, <-daveCh)

	for _, update := range []protocol.QueueUpdateEvent{carolUpdate, daveUpdate} {
		assert.Equal(t, 1, update.Positions["carol"])
		assert.Equal(t, 2, update.Positions["dave"])
		assert.Greater(t, update.EstimatedWaitMs["carol"], int64(0))
		assert.Equal(t, update.EstimatedWaitMs["dave"], 2*update.EstimatedWaitMs["carol"])
	}
}

func TestRecordGameDurationFeedsRollingAverage(t *testing.T) {
	r, _, closeFn := newTestRoom(t)
	defer closeFn()

	submitAndWait(r, func(ctx context.Context, now time.Time) {
		started := at(0)
		r.startedAt = &started
		r.recordGameDuration(at(60))
		require.Len(t, r.recentGameDurationsMs, 1)
		assert.Equal(t, int64(60_000), r.recentGameDurationsMs[0])
		assert.Equal(t, int64(60_000), r.averageGameDurationMs())

		started2 := at(60)
		r.startedAt = &started2
		r.recordGameDuration(at(90))
		assert.Equal(t, int64(45_000), r.averageGameDurationMs())
	})
}
