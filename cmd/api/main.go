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

	"github.com/timmy/eventgallery/internal/api"
	"github.com/timmy/eventgallery/internal/api/handler"
	"github.com/timmy/eventgallery/internal/api/middleware"
	"github.com/timmy/eventgallery/internal/config"
	"github.com/timmy/eventgallery/internal/embedding"
	"github.com/timmy/eventgallery/internal/index"
	"github.com/timmy/eventgallery/internal/logger"
	"github.com/timmy/eventgallery/internal/metrics"
	"github.com/timmy/eventgallery/internal/repository"
	"github.com/timmy/eventgallery/internal/service"
	"github.com/timmy/eventgallery/internal/storage"
)

// pendingGrace is how old a pending record must be before it is purged, at
// startup and periodically after.
const pendingGrace = 10 * time.Minute

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer func() { _ = logger.Sync() }()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	metrics.Register()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to get database handle")
	}
	defer sqlDB.Close()

	galleryRepo := repository.NewGalleryRepository(db)
	eventRepo := repository.NewEventRepository(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage (local disk, R2, S3 or any S3-compatible endpoint)
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

	idx, closeIndex, err := openIndex(ctx, cfg, extractor.Dimensions())
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize similarity index")
	}
	defer closeIndex()

	validator := service.NewValidator(cfg.Gallery.MaxUploadBytes, cfg.Gallery.AllowedTypes)
	reconciler := service.NewReconciler(galleryRepo, idx, cfg.Reconcile.QueueSize, appLogger)
	go reconciler.Run(ctx)

	ingestService := service.NewIngestService(galleryRepo, idx, objectStorage, extractor, validator, appLogger,
		&service.IngestConfig{
			Workers:         cfg.Ingest.Workers,
			BatchSize:       cfg.Ingest.BatchSize,
			RetryCount:      cfg.Ingest.RetryCount,
			RetryInitial:    cfg.Ingest.RetryInitial,
			RetryMaxBackoff: cfg.Ingest.RetryMaxBackoff,
		})
	searchService := service.NewSearchService(galleryRepo, idx, extractor, validator, reconciler, appLogger,
		&service.SearchConfig{
			DefaultK: cfg.Search.DefaultK,
			MaxK:     cfg.Search.MaxK,
		})
	galleryService := service.NewGalleryService(galleryRepo, cfg.Gallery.DefaultPageSize, cfg.Gallery.MaxPageSize)
	eventService := service.NewEventService(eventRepo)

	if err := recoverIndex(ctx, cfg, idx, ingestService, appLogger); err != nil {
		appLogger.WithError(err).Fatal("Failed to restore similarity index")
	}

	go ingestService.RunPendingPurge(ctx, pendingGrace, pendingGrace)

	var filesDir string
	if local, ok := objectStorage.(*storage.LocalStorage); ok {
		filesDir = local.Root()
	}

	router := api.SetupRouter(api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		Logger:         appLogger,
		FilesDir:       filesDir,
		MaxUploadBytes: cfg.Gallery.MaxUploadBytes,
	}, api.Handlers{
		Health: handler.NewHealthHandler(sqlDB, idx, extractor.Model()),
		Images: handler.NewImageHandler(galleryService, ingestService, cfg.Gallery.MaxUploadBytes),
		Search: handler.NewSearchHandler(searchService, cfg.Gallery.MaxUploadBytes),
		Events: handler.NewEventHandler(eventService),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":      cfg.Server.Port,
			"mode":      cfg.Server.Mode,
			"index":     cfg.Index.Backend,
			"extractor": extractor.Model(),
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

// openIndex builds the configured similarity index. The returned close func
// is always non-nil.
func openIndex(ctx context.Context, cfg *config.Config, dim int) (index.Index, func(), error) {
	switch cfg.Index.Backend {
	case "qdrant":
		repo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: dim,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := repo.EnsureCollection(ctx); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return index.NewMemory(dim), func() {}, nil
	}
}

// recoverIndex drops records left pending by an interrupted ingest and loads
// active embeddings into the index. A persistent Qdrant collection is only
// rebuilt when it is empty.
func recoverIndex(ctx context.Context, cfg *config.Config, idx index.Index, ingest *service.IngestService, log *logger.Logger) error {
	purged, err := ingest.PurgePending(ctx, pendingGrace)
	if err != nil {
		return err
	}
	if purged > 0 {
		log.WithField("count", purged).Warn("Purged interrupted ingests")
	}

	if cfg.Index.Backend == "qdrant" {
		n, err := idx.Len(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			metrics.IndexSize.Set(float64(n))
			return nil
		}
	}

	loaded, skipped, err := ingest.RebuildIndex(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"loaded":  loaded,
		"skipped": skipped,
	}).Info("Similarity index loaded")
	return nil
}
