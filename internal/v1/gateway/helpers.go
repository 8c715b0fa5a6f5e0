package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/dicee-dev/dicee-server/internal/v1/auth"
	"github.com/dicee-dev/dicee-server/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// tokenExtractionResult mirrors transport.tokenExtractionResult: where the
// token came from determines what (if anything) the upgrade response echoes
// back in Sec-WebSocket-Protocol.
type tokenExtractionResult struct {
	Token      string
	FromHeader bool
}

// extractToken pulls the bearer token from the Sec-WebSocket-Protocol
// header (browsers cannot set arbitrary headers on a WebSocket handshake,
// so the token rides along as a subprotocol) or, failing that, from the
// token query parameter.
func (g *Gateway) extractToken(c *gin.Context) (*tokenExtractionResult, error) {
	headerVal := c.GetHeader("Sec-WebSocket-Protocol")
	if headerVal != "" {
		for _, p := range strings.Split(headerVal, ",") {
			p = strings.TrimSpace(p)
			if p == "" || p == "access_token" {
				continue
			}
			if _, err := g.validator.ValidateToken(p); err == nil {
				return &tokenExtractionResult{Token: p, FromHeader: true}, nil
			}
		}
	}

	if tok := c.Query("token"); tok != "" {
		return &tokenExtractionResult{Token: tok}, nil
	}

	return nil, fmt.Errorf("token not provided")
}

// authenticateUser validates the token and returns the caller's claims.
func (g *Gateway) authenticateUser(token string) (*auth.CustomClaims, error) {
	claims, err := g.validator.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// validateOrigin checks the handshake's Origin header against the allow
// list, the same scheme+host comparison the teacher's transport package
// uses. A missing Origin header is allowed through (non-browser clients).
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}
	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// upgradeWebSocket performs the HTTP-to-WebSocket upgrade.
func (g *Gateway) upgradeWebSocket(c *gin.Context, allowedOrigins []string, tokenResult *tokenExtractionResult) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}

	responseHeader := http.Header{}
	if tokenResult.FromHeader {
		responseHeader.Set("Sec-WebSocket-Protocol", "access_token")
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, responseHeader)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}
