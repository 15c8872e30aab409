// Package session keeps short-lived per-account state in Redis, including
// the in-flight marker that stops an account from running two AI requests
// at once.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const releaseTimeout = 2 * time.Second

// Store is safe for concurrent use. A Store built with a nil client is a
// no-op that always grants the in-flight guard.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Connect dials Redis and returns nil when it is unreachable so callers
// can carry on without sessions.
func Connect(ctx context.Context, addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zap.L().Warn("Redis connection failed, continuing without sessions",
			zap.String("addr", addr), zap.Error(err))
		_ = client.Close()
		return nil
	}
	zap.L().Info("Redis connection established", zap.String("addr", addr))
	return client
}

func (s *Store) Enabled() bool { return s != nil && s.client != nil }

func key(accountId string) string     { return "session:" + accountId }
func lockKey(accountId string) string { return "session:" + accountId + ":inflight" }

// Get returns the stored session, or an empty map when absent or unreadable.
func (s *Store) Get(ctx context.Context, accountId string) (map[string]any, error) {
	if !s.Enabled() {
		return map[string]any{}, nil
	}
	data, err := s.client.Get(ctx, key(accountId)).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	out := map[string]any{}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		zap.L().Warn("Discarding unreadable session",
			zap.String("account_id", accountId), zap.Error(err))
		return map[string]any{}, nil
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, accountId string, data map[string]any) error {
	if !s.Enabled() {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, key(accountId), string(payload), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Update merges updates into the stored session and refreshes its TTL.
func (s *Store) Update(ctx context.Context, accountId string, updates map[string]any) error {
	current, err := s.Get(ctx, accountId)
	if err != nil {
		return err
	}
	for k, v := range updates {
		current[k] = v
	}
	return s.Set(ctx, accountId, current)
}

func (s *Store) Clear(ctx context.Context, accountId string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.client.Del(ctx, key(accountId)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// TryAcquire marks the account as busy. It reports false when another
// request already holds the marker. The marker expires after the TTL so a
// crashed request cannot lock an account out.
func (s *Store) TryAcquire(ctx context.Context, accountId string) (bool, error) {
	if !s.Enabled() {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, lockKey(accountId), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire in-flight marker: %w", err)
	}
	return ok, nil
}

// Release runs even when ctx is already cancelled, since the request that
// held the marker usually ends that way on a client disconnect.
func (s *Store) Release(ctx context.Context, accountId string) {
	if !s.Enabled() {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.client.Del(releaseCtx, lockKey(accountId)).Err(); err != nil {
		zap.L().Warn("Failed to release in-flight marker",
			zap.String("account_id", accountId), zap.Error(err))
	}
}
