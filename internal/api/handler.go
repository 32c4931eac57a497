// Package api provides HTTP handlers for the campaign API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/campaign-center/internal/domain"
	"github.com/ashureev/campaign-center/internal/store"
)

// Runner executes one campaign to completion.
type Runner interface {
	Run(ctx context.Context, id domain.CampaignID, req domain.CampaignRequest) domain.CampaignResult
}

// Handler serves the campaign endpoints.
type Handler struct {
	repo    store.Repository
	runner  Runner
	timeout time.Duration
	service string
	logger  *slog.Logger

	// Background campaigns outlive the request that launched them.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Options configures a Handler.
type Options struct {
	CampaignTimeout time.Duration
	ServiceName     string
	Logger          *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository, runner Runner, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CampaignTimeout <= 0 {
		opts.CampaignTimeout = 10 * time.Minute
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "Campaign Command Center"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		repo:    repo,
		runner:  runner,
		timeout: opts.CampaignTimeout,
		service: opts.ServiceName,
		logger:  opts.Logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Shutdown waits for in-flight campaigns. When ctx expires first, running
// campaigns are cancelled and Shutdown waits for them to record their result.
func (h *Handler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		<-done
		return ctx.Err()
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
