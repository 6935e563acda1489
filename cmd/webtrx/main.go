package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webtrx/internal/config"
	"webtrx/internal/logging"
	"webtrx/internal/server"
)

func main() {
	cfg := config.Load()

	log := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer log.Sync()

	srv, err := server.New(log, cfg.Server)
	if err != nil {
		log.Fatalw("init", "error", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infow("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Errorw("serve", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(ctx)
}
