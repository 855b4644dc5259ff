package service

import (
	"context"
	"time"

	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/embedding"
	"github.com/timmy/eventgallery/internal/metrics"
)

// extract runs the extractor, records its latency and checks the vector
// against the index dimension.
func extract(ctx context.Context, ext embedding.Extractor, data []byte, dim int) ([]float32, error) {
	start := time.Now()
	vector, err := ext.Extract(ctx, data)
	metrics.ExtractionDuration.WithLabelValues(ext.Model()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, domain.Errorf(domain.KindDimensionMismatch, "extract",
			"extractor %s produced %d dimensions, index expects %d", ext.Model(), len(vector), dim)
	}
	return vector, nil
}
