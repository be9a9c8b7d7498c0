// Package main wires together the listing import service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/coralcity/listing-importer/internal/api"
	blobgcs "github.com/coralcity/listing-importer/internal/blob/gcs"
	bloblocal "github.com/coralcity/listing-importer/internal/blob/local"
	blobmem "github.com/coralcity/listing-importer/internal/blob/memory"
	"github.com/coralcity/listing-importer/internal/catalog"
	"github.com/coralcity/listing-importer/internal/clock/system"
	"github.com/coralcity/listing-importer/internal/config"
	"github.com/coralcity/listing-importer/internal/geocode"
	"github.com/coralcity/listing-importer/internal/id/uuid"
	"github.com/coralcity/listing-importer/internal/images"
	"github.com/coralcity/listing-importer/internal/logging"
	"github.com/coralcity/listing-importer/internal/metrics"
	pubmem "github.com/coralcity/listing-importer/internal/publisher/memory"
	pubgcp "github.com/coralcity/listing-importer/internal/publisher/pubsub"
	"github.com/coralcity/listing-importer/internal/report"
	"github.com/coralcity/listing-importer/internal/runner"
	storemem "github.com/coralcity/listing-importer/internal/storage/memory"
	storepg "github.com/coralcity/listing-importer/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.NewGenerator()

	jobStore, listingStore, imageStore, closeStores, err := setupStores(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStores()

	blobStore, err := setupBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	publisher, stopPublisher, err := setupPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer stopPublisher()

	geocoder := geocode.New(geocode.Config{
		BaseURL:     cfg.Geocode.BaseURL,
		UserAgent:   cfg.Importer.UserAgent,
		MinInterval: cfg.GeocodeInterval(),
		Timeout:     cfg.GeocodeTimeout(),
	}, logger.Named("geocode"))

	recorder := report.NewRecorder(
		report.NewStoreSink(jobStore),
		report.NewLogSink(logger.Named("jobs")),
		report.NewMetricsSink(),
	)
	ingestor := images.New(imageStore, blobStore, images.Config{
		ImagesMax: cfg.Importer.ImagesMaxDefault,
		UserAgent: cfg.Importer.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	sources := runner.NewSourceFactory(runner.SourceConfig{
		UserAgent:    cfg.Importer.UserAgent,
		FetchTimeout: cfg.FetchTimeout(),
		UploadDir:    cfg.Importer.UploadDir,
	}, logger.Named("scrape"))
	jobRunner := runner.New(
		jobStore, listingStore, geocoder, ingestor, recorder, publisher,
		sources, clock, logger.Named("runner"),
		runner.Config{CompletionTopic: cfg.Importer.CompletionTopic},
	)

	apiServer := api.NewServer(jobStore, listingStore, jobRunner, idGen, clock, logger.Named("api"), cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := jobRunner.Shutdown(shutdownCtx); err != nil {
		logger.Error("runner shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func setupStores(ctx context.Context, cfg config.Config) (catalog.JobStore, catalog.ListingStore, catalog.ImageStore, func(), error) {
	if cfg.DB.DSN == "" {
		return storemem.NewJobStore(), storemem.NewListingStore(), storemem.NewImageStore(), func() {}, nil
	}

	lifetime, err := time.ParseDuration(cfg.DB.MaxConnLifetime)
	if cfg.DB.MaxConnLifetime != "" && err != nil {
		return nil, nil, nil, nil, fmt.Errorf("parse db.max_conn_lifetime: %w", err)
	}
	pool, err := storepg.NewPool(ctx, storepg.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: lifetime,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	jobs, err := storepg.NewJobStore(pool)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	listings, err := storepg.NewListingStore(pool)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	imgs, err := storepg.NewImageStore(pool)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return jobs, listings, imgs, pool.Close, nil
}

func setupBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (catalog.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return bloblocal.New(bloblocal.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		return blobgcs.New(client, blobgcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		logger.Warn("using in-memory blob store; photos will not survive restarts")
		return blobmem.New(), nil
	}
}

func setupPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (catalog.Publisher, func(), error) {
	if cfg.PubSub.TopicName == "" || cfg.PubSub.ProjectID == "" {
		logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return pubmem.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	pub := pubgcp.New(topic)
	return pub, func() {
		pub.Stop()
		_ = client.Close()
	}, nil
}
