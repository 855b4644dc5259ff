package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ImageStatus is the store-internal lifecycle marker of a gallery record.
type ImageStatus string

const (
	// ImageStatusPending marks a record whose index entry is not yet written.
	ImageStatusPending ImageStatus = "pending"
	ImageStatusActive  ImageStatus = "active"
)

// Embedding is a fixed-length feature vector. It is persisted as a JSON array.
type Embedding []float32

// Value implements driver.Valuer.
func (e Embedding) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]float32(e))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (e *Embedding) Scan(value interface{}) error {
	if value == nil {
		*e = Embedding{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan Embedding")
	}
	return json.Unmarshal(raw, (*[]float32)(e))
}

// Clone returns a copy that does not share the backing array.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// GalleryImage is an ingested photo and its extracted embedding.
type GalleryImage struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	StorageKey  string      `gorm:"type:text;not null" json:"storage_key"`
	StorageURL  string      `gorm:"type:text;not null" json:"storage_url"`
	Filename    string      `gorm:"type:text" json:"filename"`
	ContentType string      `gorm:"type:text" json:"content_type"`
	Size        int64       `json:"size"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Checksum    string      `gorm:"type:text;index:idx_gallery_images_checksum" json:"checksum"`
	Embedding   Embedding   `gorm:"type:text" json:"-"`
	Status      ImageStatus `gorm:"type:text;index:idx_gallery_images_status;default:pending" json:"-"`
	UploadedAt  time.Time   `gorm:"index:idx_gallery_images_uploaded_at" json:"uploaded_at"`
}

// TableName returns the GORM table name.
func (GalleryImage) TableName() string {
	return "gallery_images"
}

// SearchResult is one ranked match for a query image. Similarity is in [0, 1],
// higher is closer.
type SearchResult struct {
	ImageID    string  `json:"_id"`
	StorageURL string  `json:"cloudinary_url"`
	Similarity float32 `json:"similarity"`
}
