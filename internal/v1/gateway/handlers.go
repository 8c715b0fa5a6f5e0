package gateway

import (
	"net/http"
	"strings"

	"github.com/dicee-dev/dicee-server/internal/v1/auth"
	"github.com/dicee-dev/dicee-server/internal/v1/lobby"
	"github.com/dicee-dev/dicee-server/internal/v1/logging"
	"github.com/dicee-dev/dicee-server/internal/v1/metrics"
	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/room"
	"github.com/gin-gonic/gin"
)

// sendBuf is the per-connection outbound channel capacity, matching the
// teacher's transport.Client send channel size.
const sendBuf = 256

// ServeRoomWs authenticates the caller and upgrades to a WebSocket attached
// to the room named by the "code" path param. A code of "new" creates a
// fresh room with the default config before attaching the caller as host.
func (g *Gateway) ServeRoomWs(c *gin.Context) {
	tokenResult, err := g.extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}
	claims, err := g.authenticateUser(tokenResult.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	if err := validateOrigin(c.Request, allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	if g.limiter != nil && !g.limiter.CheckWebSocket(c) {
		return // CheckWebSocket already wrote the 429 response
	}

	ctx := c.Request.Context()

	var r *room.Room
	codeParam := c.Param("code")
	if codeParam == "new" {
		r, err = g.CreateRoom(ctx, room.DefaultConfig())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
			return
		}
	} else {
		code, codeErr := protocol.NormalizeRoomCode(codeParam)
		if codeErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": codeErr.Error()})
			return
		}
		var found bool
		r, found, err = g.LookupRoom(ctx, code)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load room"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
	}

	if g.limiter != nil {
		if err := g.limiter.CheckWebSocketUser(ctx, claims.Subject); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
	}

	conn, err := g.upgradeWebSocket(c, allowedOrigins, tokenResult)
	if err != nil {
		return
	}

	identity := room.Identity{
		PlayerId:       protocol.PlayerIdType(claims.Subject),
		DisplayName:    resolveDisplayName(c, claims),
		AvatarSeed:     protocol.AvatarSeedType(c.Query("avatarSeed")),
		WantsSpectator: c.Query("role") == "spectator",
	}

	outbound, _, attachErr := r.Attach(ctx, identity, sendBuf)
	if attachErr != nil {
		conn.Close()
		return
	}

	playerId := identity.PlayerId
	cl := newClient(conn, playerId, outbound, roomDispatcher{room: r, rng: g.rng}, func() {
		r.Detach(playerId, outbound)
	})

	metrics.ActiveWebSocketConnections.Inc()
	go cl.writePump()
	go cl.readPump()
}

// ServeLobbyWs authenticates the caller and upgrades to a WebSocket
// attached to the singleton lobby.
func (g *Gateway) ServeLobbyWs(c *gin.Context) {
	tokenResult, err := g.extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}
	claims, err := g.authenticateUser(tokenResult.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	if err := validateOrigin(c.Request, allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	if g.limiter != nil && !g.limiter.CheckWebSocket(c) {
		return
	}

	g.mu.Lock()
	lob := g.lobby
	g.mu.Unlock()
	if lob == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lobby not available"})
		return
	}

	ctx := c.Request.Context()
	if g.limiter != nil {
		if err := g.limiter.CheckWebSocketUser(ctx, claims.Subject); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
	}

	conn, err := g.upgradeWebSocket(c, allowedOrigins, tokenResult)
	if err != nil {
		return
	}

	identity := lobby.Identity{
		PlayerId:    protocol.PlayerIdType(claims.Subject),
		DisplayName: resolveDisplayName(c, claims),
	}

	outbound := lob.Attach(ctx, identity, sendBuf)
	playerId := identity.PlayerId
	cl := newClient(conn, playerId, outbound, lob, func() {
		lob.Detach(playerId, outbound)
	})

	metrics.ActiveWebSocketConnections.Inc()
	go cl.writePump()
	go cl.readPump()

	logging.Info(ctx, "lobby connection established")
}

// resolveDisplayName prefers an explicit query param, then falls back to
// the JWT's name claim, then the email's local part, mirroring the
// teacher's setupClientConnection fallback chain.
func resolveDisplayName(c *gin.Context, claims *auth.CustomClaims) protocol.DisplayNameType {
	if name := c.Query("displayName"); name != "" {
		return protocol.DisplayNameType(name)
	}
	if claims.Name != "" {
		return protocol.DisplayNameType(claims.Name)
	}
	if claims.Email != "" {
		if at := strings.IndexByte(claims.Email, '@'); at >= 0 {
			return protocol.DisplayNameType(claims.Email[:at])
		}
	}
	return protocol.DisplayNameType(claims.Subject)
}
