// Package storage provides the durable per-key JSON document store the room
// and lobby actors persist their state through. It wraps a Redis client with
// a circuit breaker the same way bus.Service wraps Redis for pub/sub: a
// tripped breaker degrades to "treat the write as best-effort" rather than
// blocking the actor loop or crashing the process.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable JSON document store keyed by string. Every GameRoom and
// the GlobalLobby persist their full state through one Store instance each,
// following the storage-first discipline: validate, mutate in memory,
// persist, then broadcast.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	prefix string
}

// New creates a Store backed by an already-connected Redis client. prefix is
// prepended to every key (e.g. "room:", "lobby:") so multiple stores can
// share one Redis instance without key collisions.
func New(client *redis.Client, name, prefix string) *Store {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(n string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(n).Set(stateVal)
		},
	}
	return &Store{client: client, cb: gobreaker.NewCircuitBreaker(st), prefix: prefix}
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// Put serializes v and writes it under id. ttl of zero means no expiry.
func (s *Store) Put(ctx context.Context, id string, v any, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", id, err)
	}
	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, s.key(id), data, ttl).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("storage").Inc()
			slog.Warn("storage circuit open, dropping persist", "id", id)
			return nil
		}
		return fmt.Errorf("storage: put %s: %w", id, err)
	}
	return nil
}

// Get deserializes the document stored under id into dst. Returns
// ErrNotFound if the key is absent.
func (s *Store) Get(ctx context.Context, id string, dst any) error {
	if s == nil || s.client == nil {
		return ErrNotFound
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Get(ctx, s.key(id)).Bytes()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("storage").Inc()
			return fmt.Errorf("storage: circuit open, cannot load %s", id)
		}
		return fmt.Errorf("storage: get %s: %w", id, err)
	}
	return json.Unmarshal(res.([]byte), dst)
}

// Delete removes the document stored under id. Deleting an absent key is not
// an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, s.key(id)).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("storage").Inc()
			return nil
		}
		return fmt.Errorf("storage: delete %s: %w", id, err)
	}
	return nil
}

// Keys lists every id currently stored under this store's prefix. Used by
// the directory cache to rebuild after a cold start.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Keys(ctx, s.prefix+"*").Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("storage").Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("storage: keys: %w", err)
	}
	raw := res.([]string)
	out := make([]string, len(raw))
	for i, k := range raw {
		out[i] = k[len(s.prefix):]
	}
	return out, nil
}

// Ping checks the backing Redis connection, used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("storage").Inc()
	}
	return err
}
