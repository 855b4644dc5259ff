package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/eventgallery/internal/domain"
	"gorm.io/gorm"
)

// GalleryRepository is the Gallery Store. Only active records are visible to
// reads other than Exists.
type GalleryRepository struct {
	db *gorm.DB
}

// NewGalleryRepository creates a new GalleryRepository.
func NewGalleryRepository(db *gorm.DB) *GalleryRepository {
	return &GalleryRepository{db: db}
}

// Put inserts img as a pending record and returns its id. A missing id is
// generated here.
func (r *GalleryRepository) Put(ctx context.Context, img *domain.GalleryImage) (string, error) {
	if img.ID == "" {
		img.ID = uuid.New().String()
	}
	if img.UploadedAt.IsZero() {
		img.UploadedAt = time.Now()
	}
	// SQLite compares timestamps as text, so keep a single zone.
	img.UploadedAt = img.UploadedAt.UTC()
	img.Status = domain.ImageStatusPending
	if err := r.db.WithContext(ctx).Create(img).Error; err != nil {
		return "", storeErr("gallery.put", err)
	}
	return img.ID, nil
}

// Activate marks a pending record as fully ingested.
func (r *GalleryRepository) Activate(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.GalleryImage{}).
		Where("id = ?", id).
		Update("status", domain.ImageStatusActive)
	if res.Error != nil {
		return storeErr("gallery.activate", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.KindNotFound, "gallery.activate", "image %s not found", id)
	}
	return nil
}

// Get returns an active record.
func (r *GalleryRepository) Get(ctx context.Context, id string) (*domain.GalleryImage, error) {
	var img domain.GalleryImage
	err := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.ImageStatusActive).
		First(&img).Error
	if err != nil {
		return nil, storeErr("gallery.get", err)
	}
	return &img, nil
}

// GetByIDs returns the active records among ids, keyed by id.
func (r *GalleryRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.GalleryImage, error) {
	out := make(map[string]*domain.GalleryImage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var imgs []domain.GalleryImage
	err := r.db.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, domain.ImageStatusActive).
		Find(&imgs).Error
	if err != nil {
		return nil, storeErr("gallery.get_by_ids", err)
	}
	for i := range imgs {
		out[imgs[i].ID] = &imgs[i]
	}
	return out, nil
}

// List returns a page of active records, newest first. page is 1-based.
func (r *GalleryRepository) List(ctx context.Context, page, pageSize int) ([]domain.GalleryImage, error) {
	if page < 1 {
		page = 1
	}
	var imgs []domain.GalleryImage
	err := r.db.WithContext(ctx).
		Omit("embedding").
		Where("status = ?", domain.ImageStatusActive).
		Order("uploaded_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&imgs).Error
	if err != nil {
		return nil, storeErr("gallery.list", err)
	}
	return imgs, nil
}

// Count returns the number of active records.
func (r *GalleryRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.GalleryImage{}).
		Where("status = ?", domain.ImageStatusActive).
		Count(&count).Error
	if err != nil {
		return 0, storeErr("gallery.count", err)
	}
	return count, nil
}

// Exists reports whether a record exists in any status.
func (r *GalleryRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.GalleryImage{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, storeErr("gallery.exists", err)
	}
	return count > 0, nil
}

// ExistsByChecksum reports whether an active record has the given content
// checksum.
func (r *GalleryRepository) ExistsByChecksum(ctx context.Context, checksum string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.GalleryImage{}).
		Where("checksum = ? AND status = ?", checksum, domain.ImageStatusActive).
		Count(&count).Error
	if err != nil {
		return false, storeErr("gallery.exists_by_checksum", err)
	}
	return count > 0, nil
}

// Delete removes a record in any status.
func (r *GalleryRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.GalleryImage{})
	if res.Error != nil {
		return storeErr("gallery.delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.KindNotFound, "gallery.delete", "image %s not found", id)
	}
	return nil
}

// ForEachActive calls fn with successive batches of active records, embeddings
// included. A non-nil error from fn stops the walk.
func (r *GalleryRepository) ForEachActive(ctx context.Context, batchSize int, fn func([]domain.GalleryImage) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var batch []domain.GalleryImage
	var fnErr error
	res := r.db.WithContext(ctx).
		Where("status = ?", domain.ImageStatusActive).
		Order("id ASC").
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			if err := fn(batch); err != nil {
				fnErr = err
				return err
			}
			return nil
		})
	if fnErr != nil {
		return fnErr
	}
	if res.Error != nil {
		return storeErr("gallery.for_each_active", res.Error)
	}
	return nil
}

// PurgePending deletes pending records older than cutoff and returns them so
// their objects can be removed.
func (r *GalleryRepository) PurgePending(ctx context.Context, cutoff time.Time) ([]domain.GalleryImage, error) {
	var stale []domain.GalleryImage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("embedding").
			Where("status = ? AND uploaded_at < ?", domain.ImageStatusPending, cutoff.UTC()).
			Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		ids := make([]string, len(stale))
		for i := range stale {
			ids[i] = stale[i].ID
		}
		return tx.Where("id IN ?", ids).Delete(&domain.GalleryImage{}).Error
	})
	if err != nil {
		return nil, storeErr("gallery.purge_pending", err)
	}
	return stale, nil
}
