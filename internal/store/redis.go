package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ashureev/campaign-center/internal/domain"
)

const (
	campaignKeyPrefix  = "campaign:"
	defaultCampaignTTL = 7 * 24 * time.Hour
	scanCount          = 100
)

// RedisOptions configures the Redis repository.
type RedisOptions struct {
	TTL time.Duration
}

// RedisStore implements Repository on Redis. Each result is a JSON string
// under campaign:<id> with a TTL.
type RedisStore struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client goredis.UniversalClient, opts RedisOptions) *RedisStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultCampaignTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisFromURL dials redisURL and verifies connectivity.
func NewRedisFromURL(ctx context.Context, redisURL string, opts RedisOptions) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	parsed, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, opts), nil
}

func campaignKey(id domain.CampaignID) string {
	return campaignKeyPrefix + id
}

// Save stores result with the configured TTL.
func (s *RedisStore) Save(ctx context.Context, result domain.CampaignResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal campaign result: %w", err)
	}
	if err := s.client.Set(ctx, campaignKey(result.CampaignID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save campaign %s: %w", result.CampaignID, err)
	}
	return nil
}

// Load retrieves a campaign result by id.
func (s *RedisStore) Load(ctx context.Context, id domain.CampaignID) (*domain.CampaignResult, error) {
	payload, err := s.client.Get(ctx, campaignKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", id, err)
	}

	var result domain.CampaignResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode campaign %s: %w", id, err)
	}
	return &result, nil
}

// ListRecent scans campaign keys and returns up to limit results. Redis gives
// no ordering, so "recent" means "still within TTL".
func (s *RedisStore) ListRecent(ctx context.Context, limit int) ([]domain.CampaignResult, error) {
	limit = clampLimit(limit)
	results := make([]domain.CampaignResult, 0, limit)

	iter := s.client.Scan(ctx, 0, campaignKeyPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		payload, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}

		var result domain.CampaignResult
		if err := json.Unmarshal(payload, &result); err != nil {
			slog.Warn("Skipping undecodable campaign", "key", key, "error", err)
			continue
		}
		results = append(results, result)
		if len(results) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan campaigns: %w", err)
	}
	return results, nil
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
