package lobby

import (
	"context"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/alarmqueue"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// ProcessDueAlarms mirrors room.Room.ProcessDueAlarms: pop everything due,
// persist the remaining queue, then dispatch by kind.
func (l *Lobby) ProcessDueAlarms() {
	l.Submit(func(ctx context.Context, now time.Time) {
		due := l.alarms.ProcessDue(now)
		if len(due) == 0 {
			return
		}
		_ = l.persist(ctx)

		for _, a := range due {
			switch a.Kind {
			case alarmqueue.KindInviteExpiration:
				l.fireInviteExpiration(ctx, a.TargetId, now)
			case alarmqueue.KindJoinRequestExpiration:
				l.fireJoinRequestExpiration(ctx, a.TargetId, now)
			case alarmqueue.KindDirectoryStale:
				l.fireDirectoryStale(ctx, protocol.RoomIdType(a.TargetId), now)
			}
		}
	})
}

// NextWake exposes the queue's earliest fire time for the gateway/runtime
// to arm the external wake primitive against.
func (l *Lobby) NextWake() (time.Time, bool) {
	resultCh := make(chan struct {
		t  time.Time
		ok bool
	}, 1)
	l.Submit(func(ctx context.Context, now time.Time) {
		t, ok := l.alarms.NextWake()
		resultCh <- struct {
			t  time.Time
			ok bool
		}{t, ok}
	})
	res := <-resultCh
	return res.t, res.ok
}
