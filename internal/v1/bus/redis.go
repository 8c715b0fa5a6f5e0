package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// PubSubPayload is the standardized container for moving messages between
// server instances: a room event that needs cross-instance fan-out (a
// player connected to a different instance than the one hosting the room's
// actor), a global-lobby chat message, or a directory-invalidation notice.
type PubSubPayload struct {
	ChannelKey string          `json:"channelKey"`      // room code for room fan-out, or empty for a lobby-wide topic
	Event      string          `json:"event"`           // the event type (e.g. "chat_message", "directory_changed")
	Payload    json.RawMessage `json:"payload"`         // the encoded event body
	SenderID   string          `json:"senderId"`        // instance id that published this; used to skip self-echo
	Roles      []string        `json:"roles,omitempty"` // which roles should receive this event (nil/empty = all)
}

// Service handles all interaction with the Redis cluster.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a robust Redis connection with automatic retries.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10, // Optimize for 15 replicas
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("connected to Redis pub/sub", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// roomChannel formats the per-room pub/sub channel for a room code. The
// other namespace this service fans out over is the single fixed
// LobbyChannel below.
func roomChannel(roomCode string) string { return fmt.Sprintf("dicee:room:%s", roomCode) }

// LobbyChannel is the fixed pub/sub channel every server instance
// subscribes to for lobby-wide cross-instance fan-out — global chat and
// directory-invalidation notices, since the GlobalLobby actor and its
// directory cache are local to each process (spec.md §4.3/§4.7).
const LobbyChannel = "dicee:lobby"

// Publish broadcasts a message to every other instance hosting the same
// room. roles restricts delivery to the given role types (nil/empty = all).
func (s *Service) Publish(ctx context.Context, roomCode string, event string, payload any, senderID string, roles []string) error {
	return s.publishTo(ctx, roomChannel(roomCode), roomCode, event, payload, senderID, roles)
}

// PublishLobby broadcasts a lobby-wide message (global chat, directory
// invalidation) to every other instance via LobbyChannel.
func (s *Service) PublishLobby(ctx context.Context, event string, payload any, senderID string) error {
	return s.publishTo(ctx, LobbyChannel, "", event, payload, senderID, nil)
}

func (s *Service) publishTo(ctx context.Context, channel, channelKey, event string, payload any, senderID string, roles []string) error {
	if s == nil || s.client == nil {
		return nil // single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inner payload: %w", err)
		}

		msg := PubSubPayload{
			ChannelKey: channelKey,
			Event:      event,
			Payload:    innerBytes,
			SenderID:   senderID,
			Roles:      roles,
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pubsub envelope: %w", err)
		}

		return nil, s.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: dropping publish", "channel", channel, "event", event)
			return nil // graceful degradation: drop message, don't crash caller
		}
		slog.Error("redis publish failed", "channel", channel, "event", event, "error", err)
		return err
	}

	return nil
}

// PublishDirect sends a message directly to a specific user's connection,
// wherever it's terminated, via a per-user channel.
func (s *Service) PublishDirect(ctx context.Context, targetUserId string, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil // single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inner payload for direct message: %w", err)
		}

		msg := PubSubPayload{
			Event:    event,
			Payload:  innerBytes,
			SenderID: senderID,
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal direct message envelope: %w", err)
		}

		channel := fmt.Sprintf("dicee:user:%s", targetUserId)
		return nil, s.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: dropping direct message", "targetUserId", targetUserId)
			return nil // graceful degradation
		}
		slog.Error("redis publish direct failed", "targetUserId", targetUserId, "senderID", senderID, "event", event, "error", err)
		return err
	}

	slog.Debug("published direct message via redis", "targetUserId", targetUserId, "senderID", senderID, "event", event)
	return nil
}

// Subscribe starts a background goroutine that listens for messages
// published by OTHER instances on a room's channel. handler runs for every
// valid message received; messages this same process published (matched by
// senderID upstream in handler) are the caller's responsibility to skip.
func (s *Service) Subscribe(ctx context.Context, roomCode string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	s.subscribeChannel(ctx, roomChannel(roomCode), wg, handler)
}

// SubscribeLobby listens on LobbyChannel for lobby-wide fan-out from other
// instances (global chat, directory invalidation).
func (s *Service) SubscribeLobby(ctx context.Context, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	s.subscribeChannel(ctx, LobbyChannel, wg, handler)
}

func (s *Service) subscribeChannel(ctx context.Context, channel string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	if s == nil || s.client == nil {
		return // single-instance mode, no Redis available
	}

	// Subscriptions are long-lived and don't fit a request/response circuit
	// breaker; reconnection is handled by the redis client itself.
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("subscribed to redis channel", "channel", channel)

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("redis subscription channel closed", "channel", channel)
					return
				}

				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					slog.Error("failed to unmarshal redis message", "error", err, "raw", msg.Payload)
					continue
				}

				handler(payload)
			}
		}
	}()
}

// Ping checks Redis connectivity using the PING command
// Used by health checks to verify Redis is reachable
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}
	return s.client.Close()
}

// SetAdd adds a member to a Redis set — used for the lobby's cross-instance
// online-presence set (PresenceSetKey), since each instance's in-memory
// conns map only knows about its own websockets.
func (s *Service) SetAdd(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: skipping SetAdd", "key", key)
			return nil // Graceful degradation
		}
		slog.Error("redis setadd failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("failed to add to set: %w", err)
	}
	return nil
}

// SetRem removes a member from a Redis set — the lobby's presence-departure
// counterpart to SetAdd.
func (s *Service) SetRem(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: skipping SetRem", "key", key)
			return nil // Graceful degradation
		}
		slog.Error("redis setrem failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("failed to remove from set: %w", err)
	}
	return nil
}

// SetMembers retrieves every member of a Redis set — the lobby reads this
// to compute presence across every instance, not just its own conns.
func (s *Service) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil // Single-instance mode, no Redis available
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: returning empty set members", "key", key)
			return nil, nil // Graceful degradation: return empty list so room can still function locally
		}
		slog.Error("redis setmembers failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get set members: %w", err)
	}
	return res.([]string), nil
}
