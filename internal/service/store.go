package service

import (
	"context"
	"time"

	"github.com/timmy/eventgallery/internal/domain"
)

// GalleryStore is the persistence the gallery services need.
// *repository.GalleryRepository implements it.
type GalleryStore interface {
	Put(ctx context.Context, img *domain.GalleryImage) (string, error)
	Activate(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.GalleryImage, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.GalleryImage, error)
	List(ctx context.Context, page, pageSize int) ([]domain.GalleryImage, error)
	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context, id string) (bool, error)
	ExistsByChecksum(ctx context.Context, checksum string) (bool, error)
	Delete(ctx context.Context, id string) error
	ForEachActive(ctx context.Context, batchSize int, fn func([]domain.GalleryImage) error) error
	PurgePending(ctx context.Context, cutoff time.Time) ([]domain.GalleryImage, error)
}
