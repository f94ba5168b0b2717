package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/laborare/docchat/internal/config"
	"github.com/laborare/docchat/internal/handler"
	"github.com/laborare/docchat/internal/service/ai"
	"github.com/laborare/docchat/internal/service/relay"
	"github.com/laborare/docchat/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	sessions, err := session.New(cfg.Chat.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize session store",
			zap.String("dbPath", cfg.Chat.DBPath), zap.Error(err))
	}
	defer sessions.Close()

	var aiClient *ai.Client
	var relaySvc *relay.Service
	if cfg.AI.Enabled() {
		aiClient, err = ai.NewClient(ai.Config{
			APIKey:   cfg.AI.APIKey,
			BaseURL:  cfg.AI.BaseURL,
			QAModel:  cfg.AI.QAModel,
			OCRModel: cfg.AI.OCRModel,
			Timeout:  cfg.AI.Timeout,
		})
		if err != nil {
			logger.Fatal("failed to initialize upstream client", zap.Error(err))
		}

		relaySvc = relay.New(sessions, relay.NewTransport(aiClient, logger),
			cfg.Chat.WindowSize, cfg.AI.Timeout, logger)
		logger.Info("upstream q&a service configured",
			zap.String("baseUrl", cfg.AI.BaseURL), zap.String("model", cfg.AI.QAModel))
	} else {
		logger.Warn("MISTRAL_API_KEY not set, document and q&a endpoints disabled")
	}

	router := handler.NewRouter(aiClient, sessions, relaySvc, cfg.Upload.MaxFileSizeMB, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("docchat backend listening", zap.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
