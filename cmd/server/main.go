// Campaign Command Center server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/campaign-center/internal/api"
	"github.com/ashureev/campaign-center/internal/config"
	"github.com/ashureev/campaign-center/internal/eventbus"
	"github.com/ashureev/campaign-center/internal/eventlog"
	"github.com/ashureev/campaign-center/internal/generation"
	"github.com/ashureev/campaign-center/internal/health"
	"github.com/ashureev/campaign-center/internal/history"
	"github.com/ashureev/campaign-center/internal/linkedin"
	"github.com/ashureev/campaign-center/internal/metrics"
	"github.com/ashureev/campaign-center/internal/middleware"
	"github.com/ashureev/campaign-center/internal/pipeline"
	"github.com/ashureev/campaign-center/internal/relay"
	"github.com/ashureev/campaign-center/internal/store"
	"github.com/ashureev/campaign-center/internal/stream"
	"github.com/ashureev/campaign-center/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	repo, err := store.Open(ctx, store.Options{
		Backend:  cfg.Store.Backend,
		DBPath:   cfg.Store.DBPath,
		RedisURL: cfg.Store.RedisURL,
		Redis:    store.RedisOptions{TTL: cfg.Store.CampaignTTL},
	})
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Storage connected", "backend", cfg.Store.Backend)

	// Generation and content history.
	gen, err := generation.New(ctx, generation.Config{
		APIKey:         cfg.Generation.APIKey,
		Model:          cfg.Generation.Model,
		EmbeddingModel: cfg.Generation.EmbeddingModel,
	})
	if err != nil {
		slog.Error("Failed to initialize generation client", "error", err)
		os.Exit(1)
	}

	historyDB, err := store.OpenDB(cfg.Store.DBPath)
	if err != nil {
		slog.Error("Failed to open history database", "error", err)
		os.Exit(1)
	}
	defer historyDB.Close()

	past := history.New(historyDB, gen, logger)
	past.Start(ctx)

	// Telemetry.
	m := metrics.New()

	// Publishing.
	creds := linkedin.NewCredentials(linkedin.CredentialsConfig{
		AccessToken:  cfg.LinkedIn.AccessToken,
		RefreshToken: cfg.LinkedIn.RefreshToken,
		ClientID:     cfg.LinkedIn.ClientID,
		ClientSecret: cfg.LinkedIn.ClientSecret,
		TokenURL:     cfg.LinkedIn.OAuthURL,
	}, logger)
	publisher := linkedin.NewClient(linkedin.Config{
		APIURL:      cfg.LinkedIn.APIURL,
		MaxAttempts: cfg.LinkedIn.MaxAttempts,
		BaseDelay:   cfg.LinkedIn.BaseDelay,
		Recorder:    m,
	}, creds, logger)
	m.WatchCounter("credential_swaps_total", "Access tokens replaced after a successful refresh.", creds.Refreshes)
	if !publisher.Configured() {
		slog.Warn("LinkedIn access token not set, campaigns will save drafts only")
	}

	// Event fan-out.
	bus := eventbus.New(
		eventbus.WithSendTimeout(cfg.Pipeline.EventSendTimeout),
		eventbus.WithLogger(logger),
		eventbus.WithEvictHook(m.SubscriberEvicted),
	)
	defer bus.Close()
	bus.AddSink(m)
	m.WatchBus(func() (int, int) {
		st := bus.Stats()
		return st.Campaigns, st.Subscribers
	})
	m.WatchCounter("bus_local_events_total", "Events published by this instance, excluding relayed ones.", bus.Published)

	eventLog, err := eventlog.New(eventlog.Config{
		Enabled:   cfg.EventLog.Enabled,
		Dir:       cfg.EventLog.Dir,
		QueueSize: cfg.EventLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize event log", "error", err)
		os.Exit(1)
	}
	if eventLog != nil {
		bus.AddSink(eventLog)
		defer eventLog.Close()
		m.WatchCounter("eventlog_dropped_total", "Audit records discarded under backpressure.", eventLog.Dropped)
		slog.Info("Event audit log enabled", "dir", cfg.EventLog.Dir)
	}

	if cfg.Relay.NATSURL != "" {
		nc, err := relay.Connect(cfg.Relay.NATSURL, "campaign-center", logger)
		if err != nil {
			slog.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		rl, err := relay.New(nc, bus, cfg.Relay.SubjectPrefix, logger)
		if err != nil {
			nc.Close()
			slog.Error("Failed to start event relay", "error", err)
			os.Exit(1)
		}
		bus.AddSink(rl)
		m.WatchCounter("relay_sent_total", "Events relayed to other instances.", rl.Sent)
		m.WatchCounter("relay_received_total", "Remote events delivered to local observers.", rl.Received)
		defer func() {
			if closeErr := rl.Close(); closeErr != nil {
				slog.Error("Failed to close event relay", "error", closeErr)
			}
		}()
	}

	// Pipeline.
	var pacer pipeline.Pacer = pipeline.NoPacer{}
	if cfg.Pipeline.PacingEnabled {
		pacer = pipeline.NewClockPacer(clockwork.NewRealClock())
	}
	orch := pipeline.New(pipeline.Deps{
		Generator: gen,
		History:   past,
		Publisher: publisher,
		Events:    bus,
		Pacer:     pacer,
		Recorder:  m,
		Logger:    logger,
	})

	// HTTP surface.
	handler := api.NewHandler(repo, orch, api.Options{
		CampaignTimeout: cfg.Pipeline.CampaignTimeout,
		Logger:          logger,
	})
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration, nil)
	wsHandler := stream.NewHandler(bus, func(r *http.Request) string {
		return chi.URLParam(r, "campaignID")
	}, cfg.FrontendURL, cfg.IsDevelopment())

	router := api.NewRouter(api.RouterConfig{
		Handler:        handler,
		Stream:         wsHandler,
		Metrics:        m.Handler(),
		Dashboard:      web.SPAHandler(),
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
		RateLimiter:    limiter,
		Recorder:       m,
	})

	// WebSocket streams are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		limiter.RunEviction(gctx)
		return nil
	})

	if cfg.GRPCHealthPort != "" {
		hs := health.NewServer(repo, 10*time.Second, nil, logger)
		g.Go(func() error {
			return hs.Serve(gctx, ":"+cfg.GRPCHealthPort)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		if err := handler.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Campaigns still running at shutdown were cancelled", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
