package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/embedding"
	"github.com/timmy/eventgallery/internal/index"
	"github.com/timmy/eventgallery/internal/logger"
	"github.com/timmy/eventgallery/internal/metrics"
	"github.com/timmy/eventgallery/internal/source"
	"github.com/timmy/eventgallery/internal/storage"
)

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers         int
	BatchSize       int
	RetryCount      int
	RetryInitial    time.Duration
	RetryMaxBackoff time.Duration
}

// IngestService adds photos to and removes them from the gallery, keeping
// object storage, the gallery store and the similarity index in step.
type IngestService struct {
	store     GalleryStore
	index     index.Index
	storage   storage.ObjectStorage
	extractor embedding.Extractor
	validator *Validator
	logger    *logger.Logger
	cfg       IngestConfig
}

// NewIngestService creates a new ingest service
func NewIngestService(
	store GalleryStore,
	idx index.Index,
	objectStorage storage.ObjectStorage,
	extractor embedding.Extractor,
	validator *Validator,
	log *logger.Logger,
	cfg *IngestConfig,
) *IngestService {
	c := IngestConfig{Workers: 1, BatchSize: 10, RetryCount: 3, RetryInitial: 100 * time.Millisecond, RetryMaxBackoff: 2 * time.Second}
	if cfg != nil {
		if cfg.Workers > 0 {
			c.Workers = cfg.Workers
		}
		if cfg.BatchSize > 0 {
			c.BatchSize = cfg.BatchSize
		}
		if cfg.RetryCount >= 0 {
			c.RetryCount = cfg.RetryCount
		}
		if cfg.RetryInitial > 0 {
			c.RetryInitial = cfg.RetryInitial
		}
		if cfg.RetryMaxBackoff > 0 {
			c.RetryMaxBackoff = cfg.RetryMaxBackoff
		}
	}
	return &IngestService{
		store:     store,
		index:     idx,
		storage:   objectStorage,
		extractor: extractor,
		validator: validator,
		logger:    log,
		cfg:       c,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IngestService) log(ctx context.Context) *logger.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	if s.logger != nil {
		return s.logger
	}
	return logger.GetDefault()
}

// retry runs fn with exponential backoff. Errors whose kind cannot change on
// a second attempt are returned immediately.
func (s *IngestService) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxInterval = s.cfg.RetryMaxBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.RetryCount)), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		s.log(ctx).WithFields(logger.Fields{
			"op":   op,
			"wait": wait.String(),
		}).WithError(err).Warn("Retrying after failure")
	})
}

func retryable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindDimensionMismatch, domain.KindInvalidRequest, domain.KindNotFound:
		return false
	}
	return true
}

// Ingest validates, embeds and stores one photo. On success the image is
// visible to list, get and search; on failure nothing of it is.
func (s *IngestService) Ingest(ctx context.Context, p Payload) (*domain.GalleryImage, error) {
	img, err := s.ingest(ctx, p)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(string(domain.KindOf(err))).Inc()
		return nil, err
	}
	metrics.IngestTotal.WithLabelValues("ok").Inc()
	s.refreshIndexSize(ctx)
	return img, nil
}

func (s *IngestService) ingest(ctx context.Context, p Payload) (*domain.GalleryImage, error) {
	const op = "ingest"

	contentType, err := s.validator.Validate(p)
	if err != nil {
		return nil, err
	}

	vector, err := extract(ctx, s.extractor, p.Data, s.index.Dimensions())
	if err != nil {
		return nil, err
	}

	width, height := imageSize(p.Data)
	sum := sha256.Sum256(p.Data)
	id := uuid.New().String()
	img := &domain.GalleryImage{
		ID:          id,
		StorageKey:  fmt.Sprintf("images/%s/%s%s", id[:2], id, extensionFor(contentType)),
		Filename:    p.Filename,
		ContentType: contentType,
		Size:        int64(len(p.Data)),
		Width:       width,
		Height:      height,
		Checksum:    hex.EncodeToString(sum[:]),
		Embedding:   domain.Embedding(vector),
		UploadedAt:  time.Now().UTC(),
	}
	img.StorageURL = s.storage.GetURL(img.StorageKey)

	// From here on a client disconnect must not leave a half-written image.
	log := s.log(ctx).WithField(logger.FieldImageID, id)
	pctx := log.WithContext(context.WithoutCancel(ctx))

	err = s.retry(pctx, "storage.upload", func() error {
		return s.storage.Upload(pctx, img.StorageKey, bytes.NewReader(p.Data), img.Size, contentType)
	})
	if err != nil {
		return nil, domain.E(domain.KindStorageFailure, op, fmt.Errorf("failed to upload image: %w", err))
	}

	err = s.retry(pctx, "store.put", func() error {
		_, err := s.store.Put(pctx, img)
		return err
	})
	if err != nil {
		s.deleteObject(pctx, img.StorageKey)
		return nil, domain.E(domain.KindStorageFailure, op, fmt.Errorf("failed to save image record: %w", err))
	}

	err = s.retry(pctx, "index.upsert", func() error {
		return s.index.Upsert(pctx, id, vector)
	})
	if err != nil {
		log.WithError(err).Error("Index write failed, rolling back")
		s.rollbackRecord(pctx, id)
		s.deleteObject(pctx, img.StorageKey)
		if domain.IsKind(err, domain.KindDimensionMismatch) {
			return nil, err
		}
		return nil, domain.E(domain.KindStorageFailure, op, fmt.Errorf("failed to index image: %w", err))
	}

	err = s.retry(pctx, "store.activate", func() error {
		return s.store.Activate(pctx, id)
	})
	if err != nil {
		log.WithError(err).Error("Activation failed, rolling back")
		if rmErr := s.index.Remove(pctx, id); rmErr != nil {
			log.WithError(rmErr).Error("Failed to roll back index entry")
		}
		s.rollbackRecord(pctx, id)
		s.deleteObject(pctx, img.StorageKey)
		return nil, domain.E(domain.KindStorageFailure, op, fmt.Errorf("failed to activate image: %w", err))
	}
	img.Status = domain.ImageStatusActive

	logger.With(logger.Fields{logger.FieldSize: img.Size}).Info(pctx, "Image ingested")
	return img, nil
}

func (s *IngestService) rollbackRecord(ctx context.Context, id string) {
	err := s.retry(ctx, "store.delete", func() error {
		err := s.store.Delete(ctx, id)
		if domain.IsKind(err, domain.KindNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		s.log(ctx).WithField(logger.FieldImageID, id).WithError(err).
			Error("Failed to roll back gallery record; it stays pending until purged")
	}
}

func (s *IngestService) deleteObject(ctx context.Context, key string) {
	if err := s.storage.Delete(ctx, key); err != nil {
		s.log(ctx).WithField("storage_key", key).WithError(err).Warn("Failed to delete stored object")
	}
}

func (s *IngestService) refreshIndexSize(ctx context.Context) {
	if n, err := s.index.Len(ctx); err == nil {
		metrics.IndexSize.Set(float64(n))
	}
}

// Delete removes an image from the index, the store and object storage.
// The object is removed best effort.
func (s *IngestService) Delete(ctx context.Context, id string) error {
	const op = "delete"

	img, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	log := s.log(ctx).WithField(logger.FieldImageID, id)
	pctx := log.WithContext(context.WithoutCancel(ctx))

	if err := s.retry(pctx, "index.remove", func() error { return s.index.Remove(pctx, id) }); err != nil {
		return domain.E(domain.KindStorageFailure, op, fmt.Errorf("failed to remove index entry: %w", err))
	}

	err = s.retry(pctx, "store.delete", func() error { return s.store.Delete(pctx, id) })
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			// Deleted concurrently; the index entry is gone as well.
			return err
		}
		if len(img.Embedding) > 0 {
			if upErr := s.index.Upsert(pctx, id, img.Embedding); upErr != nil {
				log.WithError(upErr).Error("Failed to restore index entry after store failure")
			}
		}
		return domain.E(domain.KindStorageFailure, op, fmt.Errorf("failed to delete image record: %w", err))
	}

	s.deleteObject(pctx, img.StorageKey)
	s.refreshIndexSize(pctx)
	log.Info("Image deleted")
	return nil
}

// RebuildIndex loads every active gallery embedding into the index. Records
// whose embedding does not fit the index are skipped and counted.
func (s *IngestService) RebuildIndex(ctx context.Context) (loaded, skipped int, err error) {
	start := time.Now()
	err = s.store.ForEachActive(ctx, 500, func(batch []domain.GalleryImage) error {
		for i := range batch {
			img := &batch[i]
			if len(img.Embedding) != s.index.Dimensions() {
				skipped++
				continue
			}
			if err := s.index.Upsert(ctx, img.ID, img.Embedding); err != nil {
				if domain.IsKind(err, domain.KindInvalidRequest) {
					skipped++
					continue
				}
				return err
			}
			loaded++
		}
		return nil
	})
	if err != nil {
		return loaded, skipped, fmt.Errorf("failed to rebuild index: %w", err)
	}

	s.refreshIndexSize(ctx)
	logger.With(logger.Fields{
		logger.FieldCount: loaded,
		"skipped":         skipped,
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Index rebuilt from gallery store")
	return loaded, skipped, nil
}

// PurgePending removes records left pending by an interrupted ingestion,
// along with their index entries and objects.
func (s *IngestService) PurgePending(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.store.PurgePending(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	for _, img := range stale {
		if err := s.index.Remove(ctx, img.ID); err != nil {
			s.log(ctx).WithField(logger.FieldImageID, img.ID).WithError(err).Warn("Failed to remove index entry of pending image")
		}
		s.deleteObject(ctx, img.StorageKey)
	}
	if len(stale) > 0 {
		s.log(ctx).WithField(logger.FieldCount, len(stale)).Info("Purged interrupted ingestions")
	}
	return len(stale), nil
}

// RunPendingPurge calls PurgePending every interval until ctx is done.
func (s *IngestService) RunPendingPurge(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgePending(ctx, olderThan); err != nil && ctx.Err() == nil {
				s.log(ctx).WithError(err).Warn("Periodic purge of pending images failed")
			}
		}
	}
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	TotalItems     int64
	ProcessedItems int64
	SkippedItems   int64
	FailedItems    int64
	StartTime      time.Time
	EndTime        time.Time
}

// IngestOptions holds options for bulk ingestion
type IngestOptions struct {
	// SkipDuplicates skips items whose bytes match an existing gallery image.
	SkipDuplicates bool
}

type processResult struct {
	sourceID string
	skipped  bool
	err      error
}

// IngestFromSource ingests up to limit items from src using a worker pool.
// limit <= 0 means no limit.
func (s *IngestService) IngestFromSource(ctx context.Context, src source.Source, limit int, opts *IngestOptions) (*IngestStats, error) {
	if opts == nil {
		opts = &IngestOptions{}
	}
	stats := &IngestStats{StartTime: time.Now()}
	ctx = s.log(ctx).WithField(logger.FieldSource, src.GetSourceID()).WithContext(ctx)

	s.log(ctx).WithFields(logger.Fields{
		"limit":   limit,
		"workers": s.cfg.Workers,
	}).Info("Starting ingestion")

	itemsChan := make(chan source.ImageItem, s.cfg.Workers*2)
	resultsChan := make(chan *processResult, s.cfg.Workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, itemsChan, resultsChan, opts)
		}()
	}

	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			if result.skipped {
				atomic.AddInt64(&stats.SkippedItems, 1)
			} else if result.err != nil {
				atomic.AddInt64(&stats.FailedItems, 1)
				s.log(ctx).WithField("source_id", result.sourceID).WithError(result.err).Error("Failed to process item")
			}
		}
		close(done)
	}()

	var fetchErr error
	cursor := ""
	fetched := 0
fetch:
	for ctx.Err() == nil {
		batchLimit := s.cfg.BatchSize
		if limit > 0 {
			remaining := limit - fetched
			if remaining <= 0 {
				break
			}
			if batchLimit > remaining {
				batchLimit = remaining
			}
		}

		items, next, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			fetchErr = fmt.Errorf("failed to fetch batch: %w", err)
			break
		}
		if len(items) == 0 {
			break
		}

		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		fetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
				break fetch
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()
	s.log(ctx).WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
		"duration":  stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Ingestion completed")

	if fetchErr != nil {
		return stats, fetchErr
	}
	return stats, ctx.Err()
}

func (s *IngestService) worker(ctx context.Context, items <-chan source.ImageItem, results chan<- *processResult, opts *IngestOptions) {
	for item := range items {
		if ctx.Err() != nil {
			// Drain so the producer never blocks.
			continue
		}
		result := &processResult{sourceID: item.SourceID}
		result.skipped, result.err = s.processItem(ctx, &item, opts)
		results <- result
	}
}

func (s *IngestService) processItem(ctx context.Context, item *source.ImageItem, opts *IngestOptions) (bool, error) {
	data, err := os.ReadFile(item.LocalPath)
	if err != nil {
		return false, fmt.Errorf("failed to read image: %w", err)
	}

	if opts.SkipDuplicates {
		sum := sha256.Sum256(data)
		exists, err := s.store.ExistsByChecksum(ctx, hex.EncodeToString(sum[:]))
		if err != nil {
			return false, fmt.Errorf("failed to check checksum: %w", err)
		}
		if exists {
			return true, nil
		}
	}

	if _, err := s.Ingest(ctx, Payload{Data: data, Filename: item.Filename}); err != nil {
		return false, err
	}
	return false, nil
}

func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
