package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"iceberg-ingress/catalog"
	"iceberg-ingress/config"
	"iceberg-ingress/ingest"
	"iceberg-ingress/server"
	"iceberg-ingress/storage"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Fatal("loading config", zap.Error(err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	s3Client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		logger.Fatal("creating s3 client", zap.Error(err))
	}
	store := storage.NewS3Storage(s3Client, cfg.S3.Bucket, "")

	cat, err := catalog.NewClient(ctx, cfg.Catalog.URI, logger)
	if err != nil {
		logger.Fatal("connecting to catalog", zap.Error(err))
	}

	coordinator := ingest.NewCoordinator(cfg, cat, store, logger)
	srv := server.New(cfg, coordinator, logger)

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	select {
	case <-sigChan:
		logger.Info("shutting down")
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}
}
