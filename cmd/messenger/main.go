package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/api"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/cache"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/config"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/delivery"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/media"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider/cloud"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider/session"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/realtime"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/reconcile"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/service"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/store"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/window"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("failed to ping database: %v", err)
	}
	cancel()

	st := store.NewPostgres(db)

	var (
		windowCache cache.WindowCache
		broker      realtime.Broker
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		windowCache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
		broker = realtime.NewRedisBroker(rdb)
	} else {
		hub := realtime.NewHub()
		defer hub.Close()
		broker = hub
	}

	registry := provider.NewRegistry(
		cloud.New(cfg.Cloud.URL, cfg.Cloud.Token),
		session.New(cfg.Session.URL, cfg.Session.Token),
	)

	eng := window.New(cfg.Window.Duration, windowCache, st)
	reconciler := reconcile.New(st, eng, broker)
	svc := service.New(st, registry, eng, reconciler, broker)

	worker := delivery.NewWorker(delivery.Config{
		BatchSize:   cfg.Dispatch.BatchSize,
		Workers:     cfg.Dispatch.Workers,
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BackoffBase: cfg.Delivery.BackoffBase,
		BackoffCap:  cfg.Delivery.BackoffCap,
		SendTimeout: cfg.Delivery.SendTimeout,
	}, st, registry, eng, broker)

	dispatcher, err := delivery.NewDispatcher(cfg.Dispatch.Interval, delivery.DrainFunc(worker))
	if err != nil {
		log.Fatalf("failed to build dispatcher: %v", err)
	}
	dispatcher.Start()
	defer dispatcher.Stop()

	handler := api.NewHandler(svc, dispatcher)
	if cfg.Media.UploadURL != "" {
		mediaStore := media.NewHTTPStore(cfg.Media.UploadURL, cfg.Media.Token, 30*time.Second)
		handler = handler.WithMedia(mediaStore, cfg.Media.MaxBytes)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(handler, broker)),
	}

	go func() {
		slog.Info("server listening",
			"addr", cfg.Server.Address,
			"dispatch_interval", cfg.Dispatch.Interval.String(),
			"redis", cfg.Redis.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the websocket upgrade working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
