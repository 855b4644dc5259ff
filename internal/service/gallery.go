package service

import (
	"context"

	"github.com/timmy/eventgallery/internal/domain"
)

// GalleryService serves read access to the gallery.
type GalleryService struct {
	store           GalleryStore
	defaultPageSize int
	maxPageSize     int
}

// NewGalleryService creates a GalleryService.
func NewGalleryService(store GalleryStore, defaultPageSize, maxPageSize int) *GalleryService {
	if maxPageSize <= 0 {
		maxPageSize = 200
	}
	if defaultPageSize <= 0 || defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}
	return &GalleryService{store: store, defaultPageSize: defaultPageSize, maxPageSize: maxPageSize}
}

// GalleryPage is one page of the gallery listing.
type GalleryPage struct {
	Images   []domain.GalleryImage
	Total    int64
	Page     int
	PageSize int
}

// List returns a page of gallery images, newest first.
func (s *GalleryService) List(ctx context.Context, page, pageSize int) (*GalleryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	images, err := s.store.List(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &GalleryPage{Images: images, Total: total, Page: page, PageSize: pageSize}, nil
}

// Get returns one gallery image.
func (s *GalleryService) Get(ctx context.Context, id string) (*domain.GalleryImage, error) {
	return s.store.Get(ctx, id)
}
