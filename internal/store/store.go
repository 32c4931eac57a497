// Package store persists terminal campaign results.
package store

import (
	"context"
	"fmt"

	"github.com/ashureev/campaign-center/internal/domain"
)

// DefaultListLimit caps ListRecent when no positive limit is given.
const DefaultListLimit = 20

// Repository defines the interface for persisting campaign results.
type Repository interface {
	// Save stores a terminal result, replacing any earlier result for the
	// same campaign.
	Save(ctx context.Context, result domain.CampaignResult) error

	// Load returns the stored result, or nil and no error when absent.
	Load(ctx context.Context, id domain.CampaignID) (*domain.CampaignResult, error)

	// ListRecent returns up to limit stored results.
	ListRecent(ctx context.Context, limit int) ([]domain.CampaignResult, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	DBPath   string
	RedisURL string
	Redis    RedisOptions
}

// Open creates the repository named by opts.Backend.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		s, err := NewSQLite(opts.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := NewRedisFromURL(ctx, opts.RedisURL, opts.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
