package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultRedisKeyPrefix namespaces every key the store writes
	DefaultRedisKeyPrefix = "sessionpool:"

	recordKeyPrefix = "record:" // {prefix}record:{id}
	recordSetKey    = "records" // {prefix}records -> Set of ids
)

// RedisStore Redis-based session store
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
	ttl    time.Duration // 0 means records never expire
}

// RedisStoreConfig Redis store configuration
type RedisStoreConfig struct {
	Client    *redis.Client
	Logger    *zap.Logger
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisStore creates a new Redis-based session store
func NewRedisStore(config *RedisStoreConfig) (*RedisStore, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisKeyPrefix
	}

	store := &RedisStore{
		client: config.Client,
		logger: config.Logger,
		prefix: config.KeyPrefix,
		ttl:    config.TTL,
	}

	return store, nil
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + recordKeyPrefix + id
}

func (s *RedisStore) setKey() string {
	return s.prefix + recordSetKey
}

// Save creates or replaces a record in Redis
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record id is required")
	}

	// Serialize record to JSON
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()

	// 1. Store record data
	pipe.Set(ctx, s.recordKey(rec.ID), data, s.ttl)

	// 2. Add to global record set
	pipe.SAdd(ctx, s.setKey(), rec.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to save session record in Redis",
			zap.String("session_id", rec.ID),
			zap.Error(err))
		return fmt.Errorf("failed to save record: %w", err)
	}

	s.logger.Debug("Session record saved in Redis",
		zap.String("session_id", rec.ID),
		zap.Duration("ttl", s.ttl))

	return nil
}

// Get retrieves a record by session id from Redis
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return &rec, nil
}

// Delete deletes a record from Redis
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.recordKey(id))
	pipe.SRem(ctx, s.setKey(), id)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to delete session record from Redis",
			zap.String("session_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to delete record: %w", err)
	}

	s.logger.Debug("Session record deleted from Redis",
		zap.String("session_id", id))

	return nil
}

// List returns every record. Ids whose record has expired are pruned from
// the index.
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	ids, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get record set: %w", err)
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				s.client.SRem(ctx, s.setKey(), id)
				continue
			}
			s.logger.Warn("Failed to get session record", zap.String("session_id", id), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	sortRecords(records)

	return records, nil
}

// Count returns the number of indexed records
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	count, err := s.client.SCard(ctx, s.setKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get record count: %w", err)
	}

	return int(count), nil
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
