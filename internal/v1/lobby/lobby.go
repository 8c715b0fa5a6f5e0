// Package lobby implements the GlobalLobby actor: the single well-known
// instance per deployment that tracks presence, publishes the room
// directory, brokers invites and join requests, and hosts global chat. Like
// internal/v1/room, it is a single goroutine draining a command channel —
// the same single-writer-actor shape, just with one instance instead of one
// per room.
package lobby

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/alarmqueue"
	"github.com/dicee-dev/dicee-server/internal/v1/bus"
	"github.com/dicee-dev/dicee-server/internal/v1/chatlog"
	"github.com/dicee-dev/dicee-server/internal/v1/directory"
	"github.com/dicee-dev/dicee-server/internal/v1/metrics"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/room"
	"github.com/dicee-dev/dicee-server/internal/v1/storage"
	"github.com/google/uuid"
)

const (
	// SnapshotKey is the single well-known persistence key the lobby's own
	// state (chat, invites, join requests, alarms) lives under — there is
	// only ever one GlobalLobby per deployment.
	SnapshotKey = "global"

	// InviteTTL and JoinRequestTTL match spec.md §4.7's stated defaults.
	InviteTTL      = 60 * time.Second
	JoinRequestTTL = 60 * time.Second
	// StaleThreshold is how long a finished room lingers in the directory
	// before the lobby prunes it.
	StaleThreshold = 60 * time.Second
	// SchemaVersion tags persisted snapshots for forward migration.
	SchemaVersion = 1

	// PresenceSetKey is the Redis set every instance's lobby adds/removes a
	// player id from on first-connect/last-disconnect, so presenceSnapshot
	// can report who's online across the whole deployment rather than just
	// the connections terminated on this process.
	PresenceSetKey = "dicee:lobby:presence"
)

// Invite is a pending host-issued invitation.
type Invite struct {
	Id        string
	InviterId protocol.PlayerIdType
	InviteeId protocol.PlayerIdType
	RoomCode  protocol.RoomIdType
	CreatedAt time.Time
	ExpiresAt time.Time
	Resolved  bool
}

// JoinRequest is a pending requester-issued join brokerage.
type JoinRequest struct {
	Id          string
	RequesterId protocol.PlayerIdType
	RoomCode    protocol.RoomIdType
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// conn is one connection's attachment to the global lobby.
type conn struct {
	playerId    protocol.PlayerIdType
	displayName protocol.DisplayNameType
	send        chan []byte
}

// snapshot is the lobby's own durable state — the RoomDirectory persists
// itself independently through internal/v1/directory, one document per
// room, so it is not part of this snapshot.
type snapshot struct {
	SchemaVersion int                    `json:"schemaVersion"`
	Chat          []protocol.ChatMessageEvent       `json:"chat"`
	Invites       map[string]Invite                 `json:"invites"`
	JoinRequests  map[string]JoinRequest             `json:"joinRequests"`
	Alarms        []alarmqueue.ScheduledAlarm         `json:"alarms"`
}

// RoomLookup resolves a room code to a live room actor, supplied by the
// registry/gateway layer that owns room lifecycles. A false second return
// means the room is not currently loaded in this process.
type RoomLookup func(code protocol.RoomIdType) (*room.Room, bool)

// Lobby is the GlobalLobby actor.
type Lobby struct {
	store      *storage.Store
	directory  *directory.Directory
	roomLookup RoomLookup
	bus        *bus.Service
	instanceId string

	chat         *chatlog.Log
	alarms       *alarmqueue.Queue
	invites      map[string]Invite
	joinRequests map[string]JoinRequest
	conns        map[protocol.PlayerIdType][]*conn

	commands chan func(ctx context.Context, now time.Time)
	closed   chan struct{}
}

// New constructs the singleton lobby. dir is this repo's read-through room
// directory cache; lookup resolves a room code to a live actor and is
// stored on the lobby, but no lobby handler calls it (nil is acceptable). busService may be nil — every bus.Service
// method degrades to a single-instance no-op on a nil receiver — in which
// case presence and directory invalidation stay local to this process.
func New(store *storage.Store, dir *directory.Directory, lookup RoomLookup, busService *bus.Service) *Lobby {
	return &Lobby{
		store: store, directory: dir, roomLookup: lookup,
		bus: busService, instanceId: newInstanceId(),
		chat: chatlog.New(chatlog.DefaultCapacity), alarms: alarmqueue.New(),
		invites: make(map[string]Invite), joinRequests: make(map[string]JoinRequest),
		conns:    make(map[protocol.PlayerIdType][]*conn),
		commands: make(chan func(ctx context.Context, now time.Time), 128),
		closed:   make(chan struct{}),
	}
}

// newInstanceId tags this process's pub/sub publications so handleBusMessage
// can skip messages this same instance sent.
func newInstanceId() string {
	host, _ := os.Hostname()
	return host + "-" + uuid.NewString()
}

func (l *Lobby) toSnapshot() snapshot {
	return snapshot{
		SchemaVersion: SchemaVersion, Chat: l.chat.Snapshot(), Invites: l.invites,
		JoinRequests: l.joinRequests, Alarms: l.alarms.Snapshot(),
	}
}

func (l *Lobby) loadFromSnapshot(s snapshot) {
	l.chat = chatlog.Restore(chatlog.DefaultCapacity, s.Chat)
	l.alarms = alarmqueue.Restore(s.Alarms)
	l.invites = s.Invites
	if l.invites == nil {
		l.invites = make(map[string]Invite)
	}
	l.joinRequests = s.JoinRequests
	if l.joinRequests == nil {
		l.joinRequests = make(map[string]JoinRequest)
	}
}

func (l *Lobby) persist(ctx context.Context) error {
	return l.store.Put(ctx, SnapshotKey, l.toSnapshot(), 0)
}

// Load hydrates the lobby's own state (chat/invites/join-requests/alarms)
// from storage, or starts fresh if nothing has been persisted yet.
func Load(ctx context.Context, store *storage.Store, dir *directory.Directory, lookup RoomLookup, busService *bus.Service) (*Lobby, error) {
	l := New(store, dir, lookup, busService)
	var s snapshot
	err := store.Get(ctx, SnapshotKey, &s)
	if err == storage.ErrNotFound {
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	l.loadFromSnapshot(s)
	return l, nil
}

// Run drains the command channel until ctx is cancelled, mirroring room.Room.Run.
func (l *Lobby) Run(ctx context.Context) {
	defer close(l.closed)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-l.commands:
			start := time.Now()
			cmd(ctx, start)
			metrics.CommandProcessingDuration.WithLabelValues("lobby", "command").Observe(time.Since(start).Seconds())
		}
	}
}

// Submit enqueues a command closure onto the actor's single goroutine.
func (l *Lobby) Submit(fn func(ctx context.Context, now time.Time)) {
	select {
	case l.commands <- fn:
	case <-l.closed:
		slog.Warn("submit to closed lobby actor dropped")
	}
}
