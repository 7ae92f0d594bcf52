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

	"github.com/papertrade/portfolio-engine/internal/config"
	"github.com/papertrade/portfolio-engine/internal/metrics"
	"github.com/papertrade/portfolio-engine/internal/quote"
	"github.com/papertrade/portfolio-engine/internal/reconcile"
	"github.com/papertrade/portfolio-engine/internal/snapshot"
	"github.com/papertrade/portfolio-engine/internal/store"
	"github.com/papertrade/portfolio-engine/internal/trade"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb = redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (demo mode, data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote source ---
	var quotes quote.Source = quote.NewTwelveDataClient(cfg.QuoteBaseURL, cfg.QuoteAPIKey)
	if rdb != nil {
		quotes = quote.NewCachedSource(quotes, rdb)
		slog.Info("quote cache enabled", "backend", "redis")
	} else {
		quotes = quote.NewMemCachedSource(quotes)
		slog.Info("quote cache enabled", "backend", "memory")
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Services ---
	tradeSvc := trade.NewService(st, quotes, wsHub)
	builder := snapshot.NewBuilder(st, quotes)
	reconciler := reconcile.NewEngine(st)

	// --- Daily snapshot sampler ---
	sampler := snapshot.NewSampler(builder)
	if err := sampler.Start(cfg.SnapshotCron); err != nil {
		slog.Error("failed to start snapshot sampler", "err", err)
		os.Exit(1)
	}
	defer sampler.Stop()

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

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade broadcasts.
		r.Get("/ws", wsHub.HandleWS)

		// Accounts.
		r.Post("/accounts", tradeSvc.CreateAccount)
		r.Get("/accounts/{userID}", tradeSvc.GetAccount)
		r.Post("/accounts/{userID}/funds", tradeSvc.AddFunds)

		// Trade execution and history.
		r.Post("/trade", tradeSvc.ExecuteTrade)
		r.Get("/trades/{userID}", tradeSvc.GetTrades)

		// Portfolio queries.
		r.Get("/portfolio/{userID}", tradeSvc.GetPortfolio)
		r.Get("/portfolio/{userID}/history", builder.GetHistory)

		// Reconciliation: analysis, then explicit confirmed rewrite.
		r.Get("/reconcile/{userID}", reconciler.AnalyzeHandler)
		r.Post("/reconcile/{userID}", reconciler.ApplyHandler)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("portfolio-engine stopped")
}
