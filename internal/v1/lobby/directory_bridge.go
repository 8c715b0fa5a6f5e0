package lobby

import (
	"context"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/alarmqueue"
	"github.com/dicee-dev/dicee-server/internal/v1/directory"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/room"
)

func entryToSummary(e directory.Entry) protocol.RoomSummary {
	return protocol.RoomSummary{
		Code: e.Code, Status: e.Status, PlayerCount: e.PlayerCount, SpectatorCount: e.SpectatorCount,
		HostId: e.HostId, IsPublic: e.IsPublic, UpdatedAt: e.UpdatedAt.UnixMilli(),
	}
}

func (l *Lobby) roomSummaries(ctx context.Context) []protocol.RoomSummary {
	entries, err := l.directory.GetPublic(ctx)
	if err != nil {
		return nil
	}
	out := make([]protocol.RoomSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToSummary(e))
	}
	return out
}

// RoomStatus is the Room → Lobby RPC from spec.md §6: a GameRoom upserts
// its directory entry on every directory-affecting mutation. A status of
// "closed" removes the room from the directory instead of upserting it.
func (l *Lobby) RoomStatus(ctx context.Context, code protocol.RoomIdType, update room.RoomStatusUpdate) {
	resultCh := make(chan struct{})
	l.Submit(func(ctx context.Context, now time.Time) {
		defer close(resultCh)

		if update.Status == "closed" {
			_ = l.directory.Remove(ctx, code)
			l.broadcast(protocol.EventRoomUpdate, protocol.RoomUpdateEvent{
				Action: "closed", Room: protocol.RoomSummary{Code: code},
			}, now)
			l.publishDirectoryChanged(ctx)
			return
		}

		entry, err := l.directory.Upsert(ctx, directory.Entry{
			Code: code, Status: update.Status, PlayerCount: update.PlayerCount,
			SpectatorCount: update.SpectatorCount, HostId: update.HostId, IsPublic: update.IsPublic,
		}, now)
		if err != nil {
			return
		}

		if update.Status == "completed" {
			l.alarms.Schedule(alarmqueue.KindDirectoryStale, string(code), now.Add(StaleThreshold), now)
		} else {
			l.alarms.Cancel(alarmqueue.KindDirectoryStale, string(code))
		}

		_ = l.persist(ctx)
		l.broadcast(protocol.EventRoomUpdate, protocol.RoomUpdateEvent{
			Action: "updated", Room: entryToSummary(entry),
		}, now)
		l.publishDirectoryChanged(ctx)
	})
	<-resultCh
}

func (l *Lobby) fireDirectoryStale(ctx context.Context, code protocol.RoomIdType, now time.Time) {
	_ = l.directory.Remove(ctx, code)
	l.broadcast(protocol.EventRoomUpdate, protocol.RoomUpdateEvent{
		Action: "closed", Room: protocol.RoomSummary{Code: code},
	}, now)
	l.publishDirectoryChanged(ctx)
}
