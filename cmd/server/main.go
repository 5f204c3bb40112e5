package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/voltmesh/auction-engine/internal/analytics"
	"github.com/voltmesh/auction-engine/internal/api"
	"github.com/voltmesh/auction-engine/internal/clearing"
	"github.com/voltmesh/auction-engine/internal/config"
	"github.com/voltmesh/auction-engine/internal/events"
	"github.com/voltmesh/auction-engine/internal/feed"
	"github.com/voltmesh/auction-engine/internal/market"
	"github.com/voltmesh/auction-engine/internal/metrics"
	"github.com/voltmesh/auction-engine/internal/repricer"
	"github.com/voltmesh/auction-engine/internal/store"

	"github.com/shopspring/decimal"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	// --- Store ---
	var st store.Store
	var cleanup []func()

	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if cfg.Storage.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Storage.RedisURL)
			if err != nil {
				slog.Error("invalid redis_url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.Storage.CacheTTL)*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price feed ---
	var pf feed.PriceFeed
	if cfg.Feed.BaseURL != "" {
		pf = feed.NewClient(cfg.Feed.BaseURL, cfg.Feed.APIKey, cfg.FeedTimeout(), cfg.Feed.RequestsPerSec)
		slog.Info("price feed configured", "base_url", cfg.Feed.BaseURL, "region", cfg.Feed.Region)
	} else {
		slog.Warn("feed base_url not set, using simulated price feed")
		pf = feed.NewSimulated(cfg.Feed.Region, time.Now().UnixNano())
	}
	pf = feed.NewGuard(pf, cfg.FeedStaleness())

	// --- Event publishers ---
	wsHub := events.NewWSHub()
	go wsHub.Run()

	pubs := events.Fanout{wsHub}
	if len(cfg.Events.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.TopicPrefix)
		cleanup = append(cleanup, func() { kp.Close() })
		pubs = append(pubs, kp)
		slog.Info("Kafka publisher enabled", "brokers", cfg.Events.Brokers)
	}

	// --- Domain components ---
	an := analytics.New(st, analytics.Limits{
		MaxPositionSizeMWh:  decimal.NewFromFloat(cfg.Risk.MaxPositionSizeMWh),
		MaxDailyLoss:        decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
		MaxConcentrationPct: decimal.NewFromFloat(cfg.Risk.MaxConcentrationPct),
	}, cfg.StartingCash())

	ledger := market.NewLedger(st, pubs, cfg.Market.CutoffHour, cfg.Market.MaxBidsPerHour)
	executor := clearing.NewExecutor(st, pubs, an, cfg.StartingCash())
	engine := clearing.NewEngine(st, pf, executor, pubs, cfg.Feed.Region)
	scheduler := clearing.NewScheduler(engine, cfg.Market.CutoffHour, cfg.SchedulerInterval())
	rp := repricer.New(st, pf, pubs, cfg.Feed.Region, cfg.RepriceInterval())

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go scheduler.Run(bgCtx)
	go rp.Run(bgCtx)

	svc := api.NewService(st, ledger, engine, executor, rp, an, pf, cfg.Feed.Region)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", svc.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time event streaming.
		r.Get("/ws", wsHub.HandleWS)

		// Bid lifecycle.
		r.Post("/bids", svc.SubmitBid)
		r.Get("/bids", svc.ListBids)
		r.Post("/bids/validate", svc.ValidateBid)
		r.Get("/bids/{bidID}", svc.GetBid)
		r.Put("/bids/{bidID}", svc.AmendBid)
		r.Delete("/bids/{bidID}", svc.CancelBid)

		// Clearing.
		r.Post("/clearing/{date}/{hour}", svc.RunClearing)
		r.Get("/clearing/{date}/{hour}", svc.GetClearingRun)

		// Positions.
		r.Get("/positions", svc.ListPositions)
		r.Post("/positions/reprice", svc.RepricePositions)
		r.Post("/positions/{positionID}/close", svc.ClosePosition)

		// Trades and portfolio.
		r.Get("/trades", svc.ListTrades)
		r.Get("/portfolio/{owner}", svc.GetPortfolio)
		r.Get("/portfolio/{owner}/performance", svc.GetPerformance)
		r.Get("/portfolio/{owner}/risk", svc.GetRisk)
		r.Get("/portfolio/{owner}/dashboard", svc.GetDashboard)

		// Market data.
		r.Get("/market/price", svc.GetReferencePrice)
		r.Get("/market/summary", svc.GetMarketSummary)
		r.Get("/market/day-ahead", svc.GetDayAheadCurve)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("auction-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down auction-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("auction-engine stopped")
}

func setupLogger(lc config.LogConfig) {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
