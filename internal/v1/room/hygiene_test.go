package room

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/storage"
)

// TestRunExitsCleanlyOnContextCancel verifies that cancelling a room's
// context stops its actor goroutine rather than leaking it, the same
// contract the teacher's session hub relied on for its per-room workers.
func TestRunExitsCleanlyOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("github.com/alicebob/miniredis/v2.(*Miniredis).runLoop"))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storage.New(client, "hygiene-room", "room:")

	ctx, cancel := context.WithCancel(context.Background())
	r := New(protocol.RoomIdType("HYGIEN"), DefaultConfig(), store, at(0), nil)
	go r.Run(ctx)

	_, _, attachErr := r.Attach(ctx, Identity{PlayerId: "alice"}, 4)
	require.Nil(t, attachErr)

	cancel()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-r.closed:
	default:
		t.Fatal("room actor goroutine did not exit after context cancellation")
	}
	require.NoError(t, client.Close())
}
