package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/lobby"
	"github.com/dicee-dev/dicee-server/internal/v1/metrics"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/room"
)

// CreateRoom allocates a fresh room code, constructs a new room actor with
// the given config, starts its Run and alarm-pump goroutines, and registers
// it. ctx governs the room's lifetime — cancelling it stops the room.
func (g *Gateway) CreateRoom(ctx context.Context, cfg room.Config) (*room.Room, error) {
	now := time.Now()
	for attempt := 0; attempt < 5; attempt++ {
		code, err := protocol.GenerateRoomCode()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		g.mu.Lock()
		_, collision := g.rooms[code]
		g.mu.Unlock()
		if collision {
			continue
		}
		r := room.New(code, cfg, g.roomStore, now, g.notifyLobby)
		g.registerRoom(ctx, code, r)
		return r, nil
	}
	return nil, fmt.Errorf("could not allocate a free room code")
}

// LookupRoom resolves a room code to a live actor, loading it from storage
// into this process if it isn't already registered. The returned bool is
// false only when neither the registry nor storage has the room.
func (g *Gateway) LookupRoom(ctx context.Context, code protocol.RoomIdType) (*room.Room, bool, error) {
	g.mu.Lock()
	if r, ok := g.rooms[code]; ok {
		if timer, pending := g.pendingRoomCleanups[code]; pending {
			timer.Stop()
			delete(g.pendingRoomCleanups, code)
			slog.Info("cancelled pending room cleanup due to reconnection", "roomCode", code)
		}
		g.mu.Unlock()
		return r, true, nil
	}
	g.mu.Unlock()

	r, found, err := room.Load(ctx, code, g.roomStore, g.notifyLobby)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	g.registerRoom(ctx, code, r)
	return r, true, nil
}

// RoomLookup adapts LookupRoom to lobby.RoomLookup's synchronous signature,
// for wiring into lobby.New where room resolution never needs to hit
// storage (the lobby only asks about rooms already live in this process).
func (g *Gateway) RoomLookup(code protocol.RoomIdType) (*room.Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[code]
	return r, ok
}

func (g *Gateway) registerRoom(ctx context.Context, code protocol.RoomIdType, r *room.Room) {
	g.mu.Lock()
	g.rooms[code] = r
	g.mu.Unlock()

	metrics.ActiveRooms.Inc()
	go r.Run(ctx)
	go g.pumpRoomAlarms(ctx, r)
}

// RemoveRoom schedules a room for eviction after the grace period, the same
// debounce the teacher's Hub uses so a refresh-induced reconnect doesn't
// tear a room down out from under a player who is about to come back.
func (g *Gateway) RemoveRoom(code protocol.RoomIdType) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.pendingRoomCleanups[code]; ok {
		existing.Stop()
	}
	g.pendingRoomCleanups[code] = time.AfterFunc(g.cleanupGracePeriod, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.rooms, code)
		delete(g.pendingRoomCleanups, code)
		metrics.ActiveRooms.Dec()
		slog.Info("evicted room from gateway registry", "roomCode", code)
	})
}

func (g *Gateway) notifyLobby(ctx context.Context, code protocol.RoomIdType, update room.RoomStatusUpdate) {
	g.mu.Lock()
	lob := g.lobby
	g.mu.Unlock()
	if lob == nil {
		return
	}
	lob.RoomStatus(ctx, code, update)
}

// pumpRoomAlarms drives a room's alarm queue: wait until its next scheduled
// fire time (or wake early if none is armed yet), process everything due,
// and repeat until ctx is cancelled. This is the external "wake primitive"
// NextWake/ProcessDueAlarms was written to be driven by.
func (g *Gateway) pumpRoomAlarms(ctx context.Context, r *room.Room) {
	const idlePoll = 2 * time.Second
	for {
		wait := idlePoll
		if next, ok := r.NextWake(); ok {
			if d := time.Until(next); d > 0 {
				wait = d
			} else {
				wait = 0
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.ProcessDueAlarms(g.rng)
		}
	}
}

// pumpLobbyAlarms mirrors pumpRoomAlarms for the singleton lobby.
func (g *Gateway) pumpLobbyAlarms(ctx context.Context, lob *lobby.Lobby) {
	const idlePoll = 2 * time.Second
	for {
		wait := idlePoll
		if next, ok := lob.NextWake(); ok {
			if d := time.Until(next); d > 0 {
				wait = d
			} else {
				wait = 0
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			lob.ProcessDueAlarms()
		}
	}
}

// StartLobbyAlarmPump launches the lobby's alarm pump. Call once, after
// AttachLobby and the lobby's own Run goroutine have both started.
func (g *Gateway) StartLobbyAlarmPump(ctx context.Context) {
	g.mu.Lock()
	lob := g.lobby
	g.mu.Unlock()
	if lob == nil {
		return
	}
	go g.pumpLobbyAlarms(ctx, lob)
}
