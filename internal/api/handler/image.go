package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/service"
)

// ImageHandler serves the gallery image endpoints.
type ImageHandler struct {
	gallery  *service.GalleryService
	ingest   *service.IngestService
	maxBytes int64
}

// NewImageHandler creates a new image handler.
func NewImageHandler(gallery *service.GalleryService, ingest *service.IngestService, maxBytes int64) *ImageHandler {
	return &ImageHandler{gallery: gallery, ingest: ingest, maxBytes: maxBytes}
}

// ImageItem is the client-facing view of a gallery image.
type ImageItem struct {
	ID         string    `json:"_id"`
	URL        string    `json:"cloudinary_url"`
	Filename   string    `json:"filename,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func toImageItem(img *domain.GalleryImage) ImageItem {
	return ImageItem{
		ID:         img.ID,
		URL:        img.StorageURL,
		Filename:   img.Filename,
		Width:      img.Width,
		Height:     img.Height,
		UploadedAt: img.UploadedAt,
	}
}

// UploadResponse is returned by POST /api/images.
type UploadResponse struct {
	ID  string `json:"id"`
	OID string `json:"_id"`
	URL string `json:"cloudinary_url"`
}

// ListImages handles GET /api/images. The body is a bare array; the total is
// sent in X-Total-Count.
func (h *ImageHandler) ListImages(c *gin.Context) {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		invalidRequest(c, "images.list", err.Error())
		return
	}
	pageSize, err := intQuery(c, "page_size", 0)
	if err != nil {
		invalidRequest(c, "images.list", err.Error())
		return
	}

	result, err := h.gallery.List(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]ImageItem, len(result.Images))
	for i := range result.Images {
		items[i] = toImageItem(&result.Images[i])
	}
	c.Header("X-Total-Count", strconv.FormatInt(result.Total, 10))
	c.JSON(http.StatusOK, items)
}

// GetImage handles GET /api/images/:id.
func (h *ImageHandler) GetImage(c *gin.Context) {
	img, err := h.gallery.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toImageItem(img))
}

// UploadImage handles POST /api/images.
func (h *ImageHandler) UploadImage(c *gin.Context) {
	payload, err := readUpload(c, h.maxBytes)
	if err != nil {
		respondError(c, err)
		return
	}

	img, err := h.ingest.Ingest(c.Request.Context(), payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, UploadResponse{ID: img.ID, OID: img.ID, URL: img.StorageURL})
}

// DeleteImage handles DELETE /api/images/:id.
func (h *ImageHandler) DeleteImage(c *gin.Context) {
	if err := h.ingest.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}
