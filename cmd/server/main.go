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

	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/events"
	"github.com/atmx/perp-engine/internal/metrics"
	"github.com/atmx/perp-engine/internal/quote"
	"github.com/atmx/perp-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration failed", "err", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			cancel()
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			cancel()
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		cancel()
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if markets, err := st.ListMarkets(context.Background()); err == nil {
		open := 0
		for _, m := range markets {
			if m.Status == quote.StatusOpen {
				open++
			}
			metrics.NetNotional.WithLabelValues(m.Symbol).Set(m.Exposure.NetNotional.InexactFloat64())
			metrics.DnfFund.WithLabelValues(m.Symbol).Set(m.Exposure.Fund.InexactFloat64())
		}
		metrics.ActiveMarkets.Set(float64(open))
	}

	// --- Event publishers ---
	wsHub := events.NewWSHub()
	go wsHub.Run()
	pub := events.Fanout{wsHub}

	if cfg.NATS.URL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			slog.Error("nats connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, nats.Close)
		pub = append(pub, nats)
		slog.Info("NATS publishing enabled", "subject", cfg.NATS.Subject)
	}

	// --- Quote service ---
	quoteSvc := quote.NewService(st, pub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
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
		w.Write([]byte(`{"status":"ok","service":"perp-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time exposure updates.
		r.Get("/ws", wsHub.HandleWS)

		// Market management.
		r.Get("/markets", quoteSvc.ListMarkets)
		r.Post("/markets", quoteSvc.CreateMarket)
		r.Get("/markets/{marketID}", quoteSvc.GetMarket)
		r.Put("/markets/{marketID}/price", quoteSvc.UpdatePrices)
		r.Get("/markets/{marketID}/ledger", quoteSvc.GetLedger)

		// Quotes against the stored market state.
		r.Post("/markets/{marketID}/stats", quoteSvc.Stats)
		r.Post("/markets/{marketID}/liquidation", quoteSvc.Liquidation)
		r.Post("/markets/{marketID}/dnf", quoteSvc.Dnf)
		r.Post("/markets/{marketID}/capacity", quoteSvc.Capacity)
		r.Post("/markets/{marketID}/ranges", quoteSvc.Ranges)
		r.Post("/crank-fee", quoteSvc.CrankFee)

		// Exposure changes.
		r.Post("/markets/{marketID}/trade", quoteSvc.ExecuteTrade)
		r.Get("/traders/{traderID}/ledger", quoteSvc.GetTraderLedger)
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
		slog.Info("perp-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down perp-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("perp-engine stopped")
}
