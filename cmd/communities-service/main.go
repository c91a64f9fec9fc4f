package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pribylovaa/recycle-communities/internal/cache"
	"github.com/pribylovaa/recycle-communities/internal/config"
	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	"github.com/pribylovaa/recycle-communities/internal/service"
	csminio "github.com/pribylovaa/recycle-communities/internal/storage/minio"
	csmongo "github.com/pribylovaa/recycle-communities/internal/storage/mongo"
	httpapi "github.com/pribylovaa/recycle-communities/internal/transport/http"
)

// Константы окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const (
	apiBasePath = "/api"
	unreadKeys  = "communities:unread:"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (overrides CONFIG_PATH env)")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	logger := setupLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("starting communities-service", "env", cfg.Env)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()
	rootCtx = log.Into(rootCtx, logger)

	dbCtx, dbCancel := context.WithTimeout(rootCtx, 10*time.Second)
	mongoStore, err := csmongo.New(dbCtx, cfg)
	dbCancel()
	if err != nil {
		logger.Error("mongo_connect_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}
	logger.Info("mongo_connected")

	opts := []service.Option{}

	if cfg.Redis.URL != "" {
		unread, err := cache.NewRedisUnread(rootCtx, cfg.Redis.URL, unreadKeys, cfg.Redis.TTL)
		if err != nil {
			// Без кэша счётчики считаются по хранилищу.
			logger.Warn("redis_unavailable", slog.String("err", err.Error()))
		} else {
			defer unread.Close()
			opts = append(opts, service.WithUnreadCache(unread))
			logger.Info("redis_connected")
		}
	}

	if cfg.S3.Endpoint != "" {
		s3Ctx, s3Cancel := context.WithTimeout(rootCtx, 10*time.Second)
		images, err := csminio.New(s3Ctx, cfg)
		s3Cancel()
		if err != nil {
			logger.Warn("minio_unavailable", slog.String("err", err.Error()))
		} else {
			opts = append(opts, service.WithImages(images))
			logger.Info("minio_connected", slog.String("bucket", cfg.S3.Bucket))
		}
	}

	svc := service.New(mongoStore, *cfg, opts...)
	logger.Info("service_initialized")

	var ready atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle(apiBasePath+"/", httpapi.NewRouter(svc, httpapi.Options{
		Logger:   logger,
		Timeout:  cfg.Timeouts.Service,
		BasePath: apiBasePath,
	}))

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		return svc.StartFanout(gctx)
	})

	g.Go(func() error {
		logger.Info("http_listen_start", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown_requested")
		ready.Store(false)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	ready.Store(true)

	code := 0
	if err := g.Wait(); err != nil {
		logger.Error("serve_failed", slog.String("err", err.Error()))
		code = 1
	}

	_ = mongoStore.Close(context.Background())
	logger.Info("service_stopped")

	if code != 0 {
		rootCancel()
		os.Exit(code)
	}
}

// setupLogger - текстовый вывод локально, JSON в dev/prod.
func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
