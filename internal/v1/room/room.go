// Package room implements the GameRoom actor: a single goroutine that owns
// one room's seats, turn state, chat, and alarm queue, draining a command
// channel one command at a time. This generalizes the teacher's
// mutex-guarded per-room struct into the single-writer-actor model the
// design calls for — no internal locks, because nothing outside the
// actor's own goroutine ever touches its state directly.
package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/alarmqueue"
	"github.com/dicee-dev/dicee-server/internal/v1/chatlog"
	"github.com/dicee-dev/dicee-server/internal/v1/engine"
	"github.com/dicee-dev/dicee-server/internal/v1/metrics"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/storage"
)

// State is the room's coarse lifecycle state.
type State string

const (
	StateWaiting   State = "waiting"
	StateStarting  State = "starting"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateAbandoned State = "abandoned"
)

// TurnPhase is the sub-state of the current turn while State == StatePlaying.
type TurnPhase string

const (
	PhaseNone       TurnPhase = ""
	PhaseTurnRoll   TurnPhase = "turn_roll"
	PhaseTurnDecide TurnPhase = "turn_decide"
	PhaseTurnScore  TurnPhase = "turn_score"
)

// Config holds the room's tunable parameters, set at creation.
type Config struct {
	IsPublic           bool
	AllowSpectators    bool
	MaxPlayers         int
	TurnTimeoutSeconds int
}

// DefaultConfig matches spec.md's stated ranges: 4 max players, a 30s turn
// timeout, spectators and public listing on.
func DefaultConfig() Config {
	return Config{IsPublic: true, AllowSpectators: true, MaxPlayers: 4, TurnTimeoutSeconds: 30}
}

const (
	// ReconnectWindow is the default grace period a disconnected seat is held.
	ReconnectWindow = 5 * time.Minute
	// AfkWarningWindow precedes TurnTimeout by this much, per spec.md §4.6.5.
	AfkWarningWindow = 10 * time.Second
	// PauseDebounce absorbs brief refresh-induced disconnects before pausing.
	PauseDebounce = 2 * time.Second
	// CleanupWindow is how long a completed room lingers before eviction.
	CleanupWindow = 5 * time.Minute
	// SchemaVersion tags persisted snapshots for forward migration.
	SchemaVersion = 1
)

// Seat is one player's durable membership record.
type Seat struct {
	PlayerId          protocol.PlayerIdType
	DisplayName       protocol.DisplayNameType
	AvatarSeed        protocol.AvatarSeedType
	TurnOrder         int
	IsHost            bool
	Connected         bool
	DisconnectedAt    *time.Time
	ReconnectDeadline *time.Time
	JoinedAt          time.Time
	Forfeited         bool

	// PausedTurnRemaining is the turn-timeout budget left at the moment this
	// seat's turn was paused (spec.md §4.6.6). nil when the seat isn't the
	// current player of a paused turn. resumeFromPause consumes and clears
	// it so reconnection re-arms the timeout with what was left rather than
	// a fresh full duration.
	PausedTurnRemaining *time.Duration
}

// Scorecard is one seated player's per-game progress.
type Scorecard struct {
	Slots          map[protocol.CategoryType]*int
	UpperBonus     int
	DiceeBonus     int
	CurrentDice    [5]int
	HasDice        bool
	Kept           [5]bool
	RollsRemaining int
}

func newScorecard() *Scorecard {
	return &Scorecard{Slots: make(map[protocol.CategoryType]*int, len(protocol.Categories)), RollsRemaining: 3}
}

// totalScore computes the player's current total via the engine.
func (sc *Scorecard) totalScore() int {
	return engine.TotalScore(sc.Slots, sc.DiceeBonus)
}

// snapshot is the full durable state of a GameRoom, persisted through
// storage.Store before every broadcast (storage-first discipline).
type snapshot struct {
	SchemaVersion      int                                                `json:"schemaVersion"`
	Code               protocol.RoomIdType                                `json:"code"`
	Config             Config                                             `json:"config"`
	State              State                                              `json:"state"`
	Phase              TurnPhase                                         `json:"phase"`
	HostId             protocol.PlayerIdType                              `json:"hostId"`
	CreatedAt          time.Time                                          `json:"createdAt"`
	StartedAt          *time.Time                                         `json:"startedAt,omitempty"`
	Seats              map[protocol.PlayerIdType]*Seat                    `json:"seats"`
	PlayerOrder        []protocol.PlayerIdType                            `json:"playerOrder"`
	CurrentPlayerIndex int                                                `json:"currentPlayerIndex"`
	TurnNumber         int                                                `json:"turnNumber"`
	RoundNumber        int                                                `json:"roundNumber"`
	Scorecards         map[protocol.PlayerIdType]*Scorecard               `json:"scorecards"`
	Chat               []protocol.ChatMessageEvent                        `json:"chat"`
	Alarms             []alarmqueue.ScheduledAlarm                        `json:"alarms"`
	SpectatorIds       []protocol.PlayerIdType                            `json:"spectatorIds"`
	QueuedIds          []protocol.PlayerIdType                            `json:"queuedIds"`
	RecentGameDurationsMs []int64                                         `json:"recentGameDurationsMs,omitempty"`
}

// conn is the per-connection attachment the gateway registers on attach.
type conn struct {
	playerId    protocol.PlayerIdType
	role        protocol.RoleType
	connectedAt time.Time
	send        chan []byte
}

// Room is the GameRoom actor. All fields below are touched only from the
// goroutine running Run; everything else communicates through commands.
type Room struct {
	code  protocol.RoomIdType
	store *storage.Store

	config             Config
	state              State
	phase              TurnPhase
	hostId             protocol.PlayerIdType
	createdAt          time.Time
	startedAt          *time.Time
	seats              map[protocol.PlayerIdType]*Seat
	playerOrder        []protocol.PlayerIdType
	currentPlayerIndex int
	turnNumber         int
	roundNumber        int
	scorecards         map[protocol.PlayerIdType]*Scorecard

	chat     *chatlog.Log
	alarms   *alarmqueue.Queue
	conns    map[protocol.PlayerIdType][]*conn
	spectatorIds []protocol.PlayerIdType
	queuedIds    []protocol.PlayerIdType

	// recentGameDurationsMs is a capped ring of completed-game durations
	// (StateWaiting->StateCompleted wall-clock, in ms), newest last. Queue
	// position estimates in spectator_helpers.go average over this instead
	// of assuming a fixed game length (spec.md §4.6.8).
	recentGameDurationsMs []int64

	lobbyNotify func(ctx context.Context, code protocol.RoomIdType, snap RoomStatusUpdate)
	lobbyNotifyPending bool

	commands chan func(ctx context.Context, now time.Time)
	closed   chan struct{}
}

// RoomStatusUpdate is the coalesced, debounced directory update the room
// pushes to the lobby per spec.md §4.6.7.
type RoomStatusUpdate struct {
	Status         string
	PlayerCount    int
	SpectatorCount int
	HostId         protocol.PlayerIdType
	IsPublic       bool
}

// New constructs a brand-new room (not yet persisted) with a freshly
// generated code already assigned by the caller.
func New(code protocol.RoomIdType, cfg Config, store *storage.Store, now time.Time, lobbyNotify func(context.Context, protocol.RoomIdType, RoomStatusUpdate)) *Room {
	return &Room{
		code:        code,
		store:       store,
		config:      cfg,
		state:       StateWaiting,
		createdAt:   now,
		seats:       make(map[protocol.PlayerIdType]*Seat),
		scorecards:  make(map[protocol.PlayerIdType]*Scorecard),
		chat:        chatlog.New(chatlog.DefaultCapacity),
		alarms:      alarmqueue.New(),
		conns:       make(map[protocol.PlayerIdType][]*conn),
		lobbyNotify: lobbyNotify,
		commands:    make(chan func(ctx context.Context, now time.Time), 64),
		closed:      make(chan struct{}),
	}
}

func (r *Room) toSnapshot() snapshot {
	return snapshot{
		SchemaVersion: SchemaVersion, Code: r.code, Config: r.config, State: r.state, Phase: r.phase,
		HostId: r.hostId, CreatedAt: r.createdAt, StartedAt: r.startedAt, Seats: r.seats,
		PlayerOrder: r.playerOrder, CurrentPlayerIndex: r.currentPlayerIndex, TurnNumber: r.turnNumber,
		RoundNumber: r.roundNumber, Scorecards: r.scorecards, Chat: r.chat.Snapshot(),
		Alarms: r.alarms.Snapshot(), SpectatorIds: r.spectatorIds, QueuedIds: r.queuedIds,
		RecentGameDurationsMs: r.recentGameDurationsMs,
	}
}

func (r *Room) loadFromSnapshot(s snapshot) {
	r.config, r.state, r.phase = s.Config, s.State, s.Phase
	r.hostId, r.createdAt, r.startedAt = s.HostId, s.CreatedAt, s.StartedAt
	r.seats = s.Seats
	if r.seats == nil {
		r.seats = make(map[protocol.PlayerIdType]*Seat)
	}
	r.playerOrder, r.currentPlayerIndex = s.PlayerOrder, s.CurrentPlayerIndex
	r.turnNumber, r.roundNumber = s.TurnNumber, s.RoundNumber
	r.scorecards = s.Scorecards
	if r.scorecards == nil {
		r.scorecards = make(map[protocol.PlayerIdType]*Scorecard)
	}
	r.chat = chatlog.Restore(chatlog.DefaultCapacity, s.Chat)
	r.alarms = alarmqueue.Restore(s.Alarms)
	r.spectatorIds, r.queuedIds = s.SpectatorIds, s.QueuedIds
	r.recentGameDurationsMs = s.RecentGameDurationsMs
}

// persist writes the full snapshot before any broadcast may occur, per the
// storage-first discipline (spec.md §5).
func (r *Room) persist(ctx context.Context) error {
	return r.store.Put(ctx, string(r.code), r.toSnapshot(), 0)
}

// Load hydrates a room from storage, returning false if no snapshot exists.
func Load(ctx context.Context, code protocol.RoomIdType, store *storage.Store, lobbyNotify func(context.Context, protocol.RoomIdType, RoomStatusUpdate)) (*Room, bool, error) {
	var s snapshot
	err := store.Get(ctx, string(code), &s)
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r := &Room{
		code: code, store: store, conns: make(map[protocol.PlayerIdType][]*conn),
		lobbyNotify: lobbyNotify, commands: make(chan func(ctx context.Context, now time.Time), 64),
		closed: make(chan struct{}),
	}
	r.loadFromSnapshot(s)
	return r, true, nil
}

// Run drains the command channel until the context is cancelled. Each
// command is a closure capturing the actual command logic; Run is the only
// goroutine that ever invokes them, which is what makes the struct above
// lock-free.
func (r *Room) Run(ctx context.Context) {
	defer close(r.closed)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.commands:
			start := time.Now()
			cmd(ctx, start)
			metrics.CommandProcessingDuration.WithLabelValues("room", "command").Observe(time.Since(start).Seconds())
		}
	}
}

// Submit enqueues a command closure to run on the actor goroutine. Submit
// itself never blocks the caller on room logic — only on channel
// backpressure, which is bounded by the channel capacity.
func (r *Room) Submit(fn func(ctx context.Context, now time.Time)) {
	select {
	case r.commands <- fn:
	case <-r.closed:
		slog.Warn("submit to closed room actor dropped", "room", r.code)
	}
}

// Code returns the room's code.
func (r *Room) Code() protocol.RoomIdType { return r.code }
