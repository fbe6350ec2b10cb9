package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/xhad/docchat/internal/app"
	cfgPkg "github.com/xhad/docchat/pkg/config"
	"github.com/xhad/docchat/pkg/logger"
)

func main() {
	var configPath string
	var workers int
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.IntVar(&workers, "workers", 0, "Number of concurrent workers (overrides worker.concurrency)")
	flag.Parse()

	if err := run(configPath, workers); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string, workers int) error {
	_ = godotenv.Load()

	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if workers > 0 {
		cfg.Worker.Concurrency = workers
	}

	lg := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stdout})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()

	lg.Info("worker starting",
		"queue", cfg.Queue.Driver,
		"vector_store", cfg.VectorStore.Type,
		"topic", cfg.Queue.Topic,
		"concurrency", cfg.Worker.Concurrency,
	)

	// Run returns nil on shutdown and the fatal error when the pool halts.
	if err := a.Pool().Run(ctx); err != nil {
		return fmt.Errorf("worker halted: %w", err)
	}
	lg.Info("worker stopped")
	return nil
}
