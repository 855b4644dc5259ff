package service

import (
	"context"

	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/embedding"
	"github.com/timmy/eventgallery/internal/index"
	"github.com/timmy/eventgallery/internal/logger"
	"github.com/timmy/eventgallery/internal/metrics"
)

// SearchConfig holds configuration for search service.
type SearchConfig struct {
	DefaultK int
	MaxK     int
}

// SearchService answers "which gallery photos look like this one".
type SearchService struct {
	store      GalleryStore
	index      index.Index
	extractor  embedding.Extractor
	validator  *Validator
	reconciler *Reconciler
	logger     *logger.Logger
	defaultK   int
	maxK       int
}

// NewSearchService creates a new search service. reconciler may be nil.
func NewSearchService(
	store GalleryStore,
	idx index.Index,
	extractor embedding.Extractor,
	validator *Validator,
	reconciler *Reconciler,
	log *logger.Logger,
	cfg *SearchConfig,
) *SearchService {
	defaultK, maxK := 10, 100
	if cfg != nil {
		if cfg.MaxK > 0 {
			maxK = cfg.MaxK
		}
		if cfg.DefaultK > 0 {
			defaultK = cfg.DefaultK
		}
	}
	if defaultK > maxK {
		defaultK = maxK
	}
	return &SearchService{
		store:      store,
		index:      idx,
		extractor:  extractor,
		validator:  validator,
		reconciler: reconciler,
		logger:     log,
		defaultK:   defaultK,
		maxK:       maxK,
	}
}

func (s *SearchService) log(ctx context.Context) *logger.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	if s.logger != nil {
		return s.logger
	}
	return logger.GetDefault()
}

// ClampK maps a requested result count into [1, maxK]; zero selects the
// default.
func (s *SearchService) ClampK(k int) int {
	switch {
	case k == 0:
		return s.defaultK
	case k < 1:
		return 1
	case k > s.maxK:
		return s.maxK
	}
	return k
}

// Search returns up to k gallery images most similar to the uploaded one,
// best first. An image with no identifiable subject yields no results.
func (s *SearchService) Search(ctx context.Context, p Payload, k int) ([]domain.SearchResult, error) {
	results, err := s.search(ctx, p, k)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = string(domain.KindOf(err))
	case len(results) == 0:
		outcome = "empty"
	}
	metrics.SearchRequestsTotal.WithLabelValues(outcome).Inc()
	if err == nil {
		metrics.SearchResultsReturned.Observe(float64(len(results)))
	}
	return results, err
}

func (s *SearchService) search(ctx context.Context, p Payload, k int) ([]domain.SearchResult, error) {
	if _, err := s.validator.Validate(p); err != nil {
		return nil, err
	}

	vector, err := extract(ctx, s.extractor, p.Data, s.index.Dimensions())
	if err != nil {
		if domain.IsKind(err, domain.KindExtractionFailure) {
			s.log(ctx).WithError(err).Info("No subject found in query image")
			return []domain.SearchResult{}, nil
		}
		return nil, err
	}

	matches, err := s.index.Query(ctx, vector, s.ClampK(k))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []domain.SearchResult{}, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	records, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(matches))
	var stale []string
	for _, m := range matches {
		img, ok := records[m.ID]
		if !ok {
			stale = append(stale, m.ID)
			continue
		}
		results = append(results, domain.SearchResult{
			ImageID:    img.ID,
			StorageURL: img.StorageURL,
			Similarity: m.Similarity,
		})
	}

	if len(stale) > 0 {
		metrics.StaleCandidatesTotal.Add(float64(len(stale)))
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldCount: len(stale),
			"ids":             stale,
			"kind":            domain.KindIndexInconsistency,
		}).Warn("Index returned ids with no gallery record")
		s.reconciler.Report(stale...)
	}

	return results, nil
}
