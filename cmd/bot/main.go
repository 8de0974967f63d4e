package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cookieclicker123/tanooki-copilot/internal/app"
	"github.com/cookieclicker123/tanooki-copilot/internal/bot"
	"github.com/cookieclicker123/tanooki-copilot/internal/llm"
	"github.com/cookieclicker123/tanooki-copilot/internal/logger"
	"github.com/cookieclicker123/tanooki-copilot/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", envOr("COPILOT_CONFIG", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	// Initialize logger
	bootLogger, _ := zap.NewProduction()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootLogger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}
	if cfg.Telegram.Token == "" {
		bootLogger.Fatal("telegram.token (or TELEGRAM_TOKEN) is required")
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		bootLogger.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the query pipeline
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	if cfg.LLM.Provider == llm.ProviderOllama {
		if err := a.KeepAlive(ctx); err != nil {
			log.Warn("Model warm-up failed", zap.Error(err))
		}
	}

	// Initialize bot
	b, err := bot.New(cfg.Telegram.Token, a.Workflow, a.Catalogs, cfg.App.DefaultProjectID, log)
	if err != nil {
		log.Fatal("Failed to create bot", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Address != "" {
		srv := newMetricsServer(cfg.Metrics.Address)
		g.Go(func() error {
			log.Info("Serving metrics", zap.String("address", cfg.Metrics.Address))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// Start the bot
	g.Go(func() error {
		return b.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("Bot error", zap.Error(err))
	}
	log.Info("Bot stopped")
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
