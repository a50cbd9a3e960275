package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stevemurr/collection-server/collection"
	"github.com/stevemurr/collection-server/config"
	"github.com/stevemurr/collection-server/handler"
	"github.com/stevemurr/collection-server/store"
)

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		return z.Build()
	}
	return zap.NewProduction()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	client, err := store.New(cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to create store (backend=%s): %w", cfg.Backend, err)
	}
	defer client.Close()

	svc := collection.NewService(client, log.Named("collection"), collection.Options{
		RetryAttempts: cfg.RetryAttempts,
		RetryBase:     cfg.RetryBase,
	})
	h := handler.New(svc, log.Named("handler"))
	wrapped := handler.Logging(handler.CORS(h, cfg.AllowedOrigins), log.Named("http"))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           wrapped,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Infow("collection server starting", "addr", srv.Addr, "store", cfg.Backend, "data", cfg.DataDir)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
