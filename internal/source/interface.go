package source

import "context"

// ImageItem is one photo offered by a bulk source.
type ImageItem struct {
	SourceID  string // Unique ID within the source
	Filename  string
	LocalPath string
	Caption   string // Optional, from a manifest
}

// Source is a paginated supply of gallery photos for bulk ingestion.
type Source interface {
	// GetSourceID returns a stable identifier for this source.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	GetDisplayName() string

	// FetchBatch returns up to limit items starting at cursor. An empty
	// nextCursor means the source is exhausted.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []ImageItem, nextCursor string, err error)
}
