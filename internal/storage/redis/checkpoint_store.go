// Package redis provides a Redis-backed crawler.CheckpointStore.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/winerank-crawler/internal/checkpoint"
	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// DefaultPrefix namespaces checkpoint keys.
const DefaultPrefix = "winerank:checkpoint:"

// Config controls the Redis connection and key layout.
type Config struct {
	Addr   string
	Prefix string
	// TTL expires checkpoints of abandoned jobs. Zero keeps them forever.
	TTL time.Duration
}

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// CheckpointStore stores checkpoints as single Redis string values, so each
// save replaces the previous one atomically.
type CheckpointStore struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// New connects a CheckpointStore to cfg.Addr.
func New(cfg Config) (*CheckpointStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	return newStore(redis.NewClient(&redis.Options{Addr: cfg.Addr}), cfg), nil
}

func newStore(client redisClient, cfg Config) *CheckpointStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &CheckpointStore{client: client, prefix: prefix, ttl: cfg.TTL}
}

// Close closes the Redis client.
func (s *CheckpointStore) Close() error {
	return s.client.Close()
}

// LoadCheckpoint reads the checkpoint for jobID.
func (s *CheckpointStore) LoadCheckpoint(ctx context.Context, jobID string) (crawler.Checkpoint, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return crawler.Checkpoint{}, false, nil
		}
		return crawler.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	cp, err := checkpoint.Decode(val)
	if err != nil {
		return crawler.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// SaveCheckpoint writes the checkpoint for jobID.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, jobID string, cp crawler.Checkpoint) error {
	payload, err := checkpoint.Encode(cp)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+jobID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
