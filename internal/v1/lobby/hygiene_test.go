package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dicee-dev/dicee-server/internal/v1/directory"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/storage"
)

// TestRunExitsCleanlyOnContextCancel mirrors room.TestRunExitsCleanlyOnContextCancel:
// cancelling the lobby's context must stop its single actor goroutine.
func TestRunExitsCleanlyOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("github.com/alicebob/miniredis/v2.(*Miniredis).runLoop"))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storage.New(client, "hygiene-lobby", "lobby:")
	dir := directory.New(storage.New(client, "hygiene-directory", "directory:"))

	ctx, cancel := context.WithCancel(context.Background())
	l := New(store, dir, nil, nil)
	go l.Run(ctx)

	ch := l.Attach(ctx, Identity{PlayerId: protocol.PlayerIdType("alice")}, 4)
	require.NotNil(t, ch)

	cancel()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-l.closed:
	default:
		t.Fatal("lobby actor goroutine did not exit after context cancellation")
	}
	require.NoError(t, client.Close())
}
