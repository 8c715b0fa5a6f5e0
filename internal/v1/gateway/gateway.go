// Package gateway is the WebSocket connection boundary in front of the room
// and lobby actors: it authenticates a connection, decides which actor it
// attaches to, and pumps frames between the socket and the actor's own
// per-connection channel. It is grounded on the teacher's
// internal/v1/transport package (Hub/Client, JWT + origin validation,
// non-blocking per-connection send) generalized from a protobuf wire format
// to this repo's JSON protocol.Envelope, and from one room type to the
// room/lobby pair.
package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/auth"
	"github.com/dicee-dev/dicee-server/internal/v1/directory"
	"github.com/dicee-dev/dicee-server/internal/v1/engine"
	"github.com/dicee-dev/dicee-server/internal/v1/lobby"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/ratelimit"
	"github.com/dicee-dev/dicee-server/internal/v1/room"
	"github.com/dicee-dev/dicee-server/internal/v1/storage"
)

// TokenValidator is the subset of auth.Validator the gateway needs to
// resolve a bearer token to a caller's identity. Scoped locally the same
// way ratelimit.TokenValidator is, rather than reaching for the teacher's
// shared internal/v1/types.TokenValidator, since that package carries a
// video-conferencing-specific interface surface this gateway doesn't need.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// Gateway is the Hub-equivalent: it owns the in-memory room registry, the
// singleton lobby, and the dependencies every new connection needs.
type Gateway struct {
	mu                  sync.Mutex
	rooms               map[protocol.RoomIdType]*room.Room
	pendingRoomCleanups map[protocol.RoomIdType]*time.Timer
	cleanupGracePeriod  time.Duration

	roomStore *storage.Store
	directory *directory.Directory
	lobby     *lobby.Lobby

	validator TokenValidator
	limiter   *ratelimit.RateLimiter // nil disables WS rate limiting (tests, dev)
	rng       engine.Rng
	devMode   bool
}

// New constructs a Gateway without a lobby wired in yet — lobby.New needs a
// RoomLookup that closes over this Gateway, so the caller constructs the
// Gateway first, builds the lobby with gateway.RoomLookup, then calls
// AttachLobby before serving any connections. limiter may be nil (rate
// limiting skipped, e.g. in tests).
func New(validator TokenValidator, roomStore *storage.Store, dir *directory.Directory, limiter *ratelimit.RateLimiter, devMode bool) *Gateway {
	return &Gateway{
		rooms:               make(map[protocol.RoomIdType]*room.Room),
		pendingRoomCleanups: make(map[protocol.RoomIdType]*time.Timer),
		cleanupGracePeriod:  5 * time.Second,
		roomStore:           roomStore,
		directory:           dir,
		validator:           validator,
		limiter:             limiter,
		rng:                 engine.CryptoRng{},
		devMode:             devMode,
	}
}

// AttachLobby wires the running lobby actor into the gateway so rooms can
// notify it of status changes and so lobby-routed connections have
// somewhere to attach. Call once, before the gateway starts serving
// connections.
func (g *Gateway) AttachLobby(lob *lobby.Lobby) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lobby = lob
}

// Shutdown stops every pending empty-room cleanup timer and logs the number
// of active rooms. It does not stop the rooms or the lobby; they stop when
// the context they were started with is cancelled. There is nothing to flush
// here since every mutation already persists before it broadcasts
// (storage-first discipline).
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, timer := range g.pendingRoomCleanups {
		timer.Stop()
	}
	slog.Info("gateway shutting down", "activeRooms", len(g.rooms))
}

// activeRoomCount reports the number of rooms currently loaded in this
// process, for health/metrics reporting.
func (g *Gateway) activeRoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
