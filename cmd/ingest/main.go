package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/eventgallery/internal/config"
	"github.com/timmy/eventgallery/internal/embedding"
	"github.com/timmy/eventgallery/internal/index"
	"github.com/timmy/eventgallery/internal/logger"
	"github.com/timmy/eventgallery/internal/repository"
	"github.com/timmy/eventgallery/internal/service"
	"github.com/timmy/eventgallery/internal/source/localdir"
	"github.com/timmy/eventgallery/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	cfgLog := logger.ConfigFromEnv()
	cfgLog.ServiceName = "eventgallery-ingest"
	appLogger := logger.New(cfgLog)
	logger.SetDefaultLogger(appLogger)
	defer func() { _ = logger.Sync() }()

	configPath := flag.String("config", "", "Path to config file")
	dir := flag.String("dir", "", "Directory of images to ingest (defaults to ingest.source_dir)")
	limit := flag.Int("limit", 0, "Maximum number of items to ingest, 0 for all")
	skipDuplicates := flag.Bool("skip-duplicates", true, "Skip images whose bytes are already in the gallery")
	rebuild := flag.Bool("rebuild", false, "Rebuild the Qdrant collection from the gallery store and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	sourceDir := *dir
	if sourceDir == "" {
		sourceDir = cfg.Ingest.SourceDir
	}
	if sourceDir == "" && !*rebuild {
		appLogger.Fatal("No source directory: pass -dir or set ingest.source_dir")
	}

	appLogger.WithFields(logger.Fields{
		"dir":             sourceDir,
		"limit":           *limit,
		"skip_duplicates": *skipDuplicates,
		"index":           cfg.Index.Backend,
	}).Info("Starting ingestion")

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	galleryRepo := repository.NewGalleryRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	objectStorage, err := storage.NewStorage(&storage.Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
		LocalDir:  cfg.Storage.LocalDir,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
	}

	extractor, err := embedding.New(&embedding.Config{
		Provider:    cfg.Extractor.Provider,
		Model:       cfg.Extractor.Model,
		APIKey:      cfg.Extractor.APIKey,
		BaseURL:     cfg.Extractor.BaseURL,
		Dimensions:  cfg.Extractor.Dimensions,
		Timeout:     cfg.Extractor.Timeout,
		CacheSize:   cfg.Extractor.CacheSize,
		MinContrast: cfg.Extractor.MinContrast,
		MaxPixels:   cfg.Extractor.MaxPixels,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize extractor")
	}

	// The memory index lives in the API process; it reloads embeddings from
	// the gallery store on startup, so ingestion only needs a scratch index.
	var idx index.Index = index.NewMemory(extractor.Dimensions())
	if cfg.Index.Backend == "qdrant" {
		qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: extractor.Dimensions(),
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
		}
		defer qdrantRepo.Close()
		if err := qdrantRepo.EnsureCollection(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
		}
		idx = qdrantRepo
	}

	validator := service.NewValidator(cfg.Gallery.MaxUploadBytes, cfg.Gallery.AllowedTypes)
	ingestService := service.NewIngestService(galleryRepo, idx, objectStorage, extractor, validator, appLogger,
		&service.IngestConfig{
			Workers:         cfg.Ingest.Workers,
			BatchSize:       cfg.Ingest.BatchSize,
			RetryCount:      cfg.Ingest.RetryCount,
			RetryInitial:    cfg.Ingest.RetryInitial,
			RetryMaxBackoff: cfg.Ingest.RetryMaxBackoff,
		})

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if *rebuild {
		loaded, skipped, err := ingestService.RebuildIndex(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to rebuild index")
		}
		appLogger.WithFields(logger.Fields{
			"loaded":  loaded,
			"skipped": skipped,
		}).Info("Rebuild completed")
		return
	}

	src := localdir.NewAdapter(sourceDir)
	stats, err := ingestService.IngestFromSource(ctx, src, *limit, &service.IngestOptions{
		SkipDuplicates: *skipDuplicates,
	})
	if err != nil {
		appLogger.WithError(err).Error("Ingestion stopped early")
	}
	if stats != nil {
		appLogger.WithFields(logger.Fields{
			"total":     stats.TotalItems,
			"processed": stats.ProcessedItems,
			"skipped":   stats.SkippedItems,
			"failed":    stats.FailedItems,
			"duration":  stats.EndTime.Sub(stats.StartTime).String(),
		}).Info("Ingestion completed")
	}
	if err != nil {
		os.Exit(1)
	}
}
