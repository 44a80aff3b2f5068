package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/storage"
)

const (
	refreshKeyPrefix = "turnstile:refresh:"
	subjectKeyPrefix = "turnstile:refresh-subject:"
)

// RefreshStore keeps refresh token records in Redis. Records expire with the
// token, so DeleteExpiredRefresh only has to prune subject indexes.
type RefreshStore struct {
	client *redis.Client
	now    func() time.Time
}

var _ auth.RefreshStore = (*RefreshStore)(nil)

// NewClient builds a Redis client from storage config and checks connectivity
func NewClient(config storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRefreshStore wraps an existing client
func NewRefreshStore(client *redis.Client) *RefreshStore {
	return &RefreshStore{client: client, now: time.Now}
}

func refreshKey(id string) string { return refreshKeyPrefix + id }

func subjectKey(subject string) string { return subjectKeyPrefix + subject }

func (s *RefreshStore) SaveRefresh(ctx context.Context, record *auth.RefreshRecord) error {
	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, refreshKey(record.ID), data, ttl)
	pipe.SAdd(ctx, subjectKey(record.Subject), record.ID)
	indexTTL := pipe.TTL(ctx, subjectKey(record.Subject))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save refresh failed: %w", err)
	}

	// The subject index lives as long as its longest token
	if indexTTL.Val() < ttl {
		if err := s.client.Expire(ctx, subjectKey(record.Subject), ttl).Err(); err != nil {
			return fmt.Errorf("redis expire failed: %w", err)
		}
	}
	return nil
}

func (s *RefreshStore) FindRefresh(ctx context.Context, id string) (*auth.RefreshRecord, error) {
	data, err := s.client.Get(ctx, refreshKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var record auth.RefreshRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		// Drop corrupt entries so the token reads as revoked
		s.client.Del(ctx, refreshKey(id))
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	return &record, nil
}

// DeleteRefresh reports whether this call removed the key
func (s *RefreshStore) DeleteRefresh(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, refreshKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete failed: %w", err)
	}
	return n > 0, nil
}

func (s *RefreshStore) DeleteRefreshBySubject(ctx context.Context, subject string) error {
	ids, err := s.client.SMembers(ctx, subjectKey(subject)).Result()
	if err != nil {
		return fmt.Errorf("redis smembers failed: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, refreshKey(id))
	}
	keys = append(keys, subjectKey(subject))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// DeleteExpiredRefresh removes subject index entries whose token key has
// already expired. It returns the number of stale entries removed.
func (s *RefreshStore) DeleteExpiredRefresh(ctx context.Context, _ time.Time) (int64, error) {
	var (
		removed int64
		cursor  uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, subjectKeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan failed: %w", err)
		}

		for _, key := range keys {
			ids, err := s.client.SMembers(ctx, key).Result()
			if err != nil {
				return removed, fmt.Errorf("redis smembers failed: %w", err)
			}
			for _, id := range ids {
				exists, err := s.client.Exists(ctx, refreshKey(id)).Result()
				if err != nil {
					return removed, fmt.Errorf("redis exists failed: %w", err)
				}
				if exists == 0 {
					if err := s.client.SRem(ctx, key, id).Err(); err != nil {
						return removed, fmt.Errorf("redis srem failed: %w", err)
					}
					removed++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Ping checks Redis connectivity
func (s *RefreshStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
