package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"example.com/aki-mvp/internal/akinator"
	"example.com/aki-mvp/internal/config"
	"example.com/aki-mvp/internal/game"
	"example.com/aki-mvp/internal/httpapi"
	"example.com/aki-mvp/internal/store"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db  *pgxpool.Pool
	rdb *redis.Client

	srv *http.Server
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	// --- Postgres ---
	dbpool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})

	// Quick connectivity checks (fail fast).
	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		dbpool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping (%s db=%d): %w", cfg.Redis.Addr, cfg.Redis.DB, err)
	}

	// --- Akinator client ---
	region := akinator.NewRegion(cfg.Akinator.Language, akinator.Theme(cfg.Akinator.Theme), &http.Client{
		Timeout: cfg.Akinator.Timeout,
	})
	if cfg.Akinator.BaseURL != "" && cfg.Akinator.GameServer != "" {
		region.Update(akinator.Endpoint{
			BaseURL:    cfg.Akinator.BaseURL,
			GameServer: cfg.Akinator.GameServer,
		})
	} else {
		if err := region.Resolve(ctx); err != nil {
			dbpool.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("akinator region resolve: %w", err)
		}
	}
	client := akinator.NewClient(region, cfg.Akinator.ChildMode, &http.Client{
		Timeout: cfg.Akinator.Timeout,
	}, log)

	// --- Game ---
	sessions := game.NewRedisStore(rdb, cfg.Redis.SessionTTL)
	stats := store.NewStatsStore(dbpool)

	rules := game.Rules{
		SureVictory:          cfg.Game.SureVictory,
		UnsureVictory:        cfg.Game.UnsureVictory,
		MinStepUnsureVictory: cfg.Game.MinStepUnsureVictory,
		DefeatProgression:    cfg.Game.DefeatProgression,
		CheckpointSteps:      []int{cfg.Game.FirstCheckpoint, cfg.Game.SecondCheckpoint},
		MaxSteps:             cfg.Game.MaxSteps,
		GuessCeiling:         cfg.Game.GuessCeiling,
		RepeatGuess:          game.RepeatGuessPolicy(cfg.Game.RepeatGuessPolicy),
	}

	ctrl := game.NewController(client, sessions, stats, rules, game.DefaultTexts(), cfg.Game.RetryBackoff, log)

	// --- HTTP API ---
	events := &httpapi.EventHandler{
		Games: ctrl,
		Stats: stats,
		Log:   log,
	}
	secret := []byte(cfg.Auth.Secret)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	authed := httpapi.AuthMiddleware(secret)
	mux.Handle("/api/event", authed(http.HandlerFunc(events.HandleEvent)))
	mux.Handle("/api/stats", authed(http.HandlerFunc(events.HandleStats)))
	mux.HandleFunc("/ws", events.HandleWS(secret))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	return &App{cfg: cfg, log: log, db: dbpool, rdb: rdb, srv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.log.Info("http server shutting down")
		_ = a.srv.Shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	_ = a.Close(context.Background())
	return err
}

func (a *App) Close(ctx context.Context) error {
	// best-effort
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	return nil
}
