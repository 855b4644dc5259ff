// Package embedding turns images into fixed-length feature vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoSubject is returned (wrapped as extraction_failure) when an image decodes
// but contains nothing to describe, e.g. a blank frame.
var ErrNoSubject = errors.New("no identifiable subject in image")

// Extractor produces embeddings. Implementations are deterministic for identical
// input and safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]float32, error)
	Dimensions() int
	Model() string
}

// Config selects and configures an extractor provider.
type Config struct {
	Provider    string // "local" or "jina"
	Model       string
	APIKey      string
	BaseURL     string
	Dimensions  int
	Timeout     time.Duration
	CacheSize   int
	MinContrast float64
	MaxPixels   int64
}

// New builds the extractor named by cfg.Provider, wrapped in a cache when
// cfg.CacheSize > 0.
func New(cfg *Config) (Extractor, error) {
	var (
		ext Extractor
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "local":
		ext = NewLocalExtractor(&LocalConfig{MinContrast: cfg.MinContrast, MaxPixels: cfg.MaxPixels})
	case "jina":
		ext, err = NewJinaExtractor(&JinaConfig{
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Dimensions:  cfg.Dimensions,
			Timeout:     cfg.Timeout,
			MinContrast: cfg.MinContrast,
			MaxPixels:   cfg.MaxPixels,
		})
	default:
		err = fmt.Errorf("unknown extractor provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		return NewCachedExtractor(ext, cfg.CacheSize)
	}
	return ext, nil
}
