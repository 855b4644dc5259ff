package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/service"
)

// SearchHandler handles the face-similarity search endpoint.
type SearchHandler struct {
	searchService *service.SearchService
	maxBytes      int64
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(searchService *service.SearchService, maxBytes int64) *SearchHandler {
	return &SearchHandler{searchService: searchService, maxBytes: maxBytes}
}

// SearchResponse wraps ranked results.
type SearchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

// Search handles POST /api/search with a multipart "file" and optional "k".
func (h *SearchHandler) Search(c *gin.Context) {
	payload, err := readUpload(c, h.maxBytes)
	if err != nil {
		respondError(c, err)
		return
	}

	k := 0
	if raw := c.PostForm("k"); raw != "" {
		if k, err = strconv.Atoi(raw); err != nil {
			invalidRequest(c, "search", "k must be an integer")
			return
		}
	} else if raw := c.Query("k"); raw != "" {
		if k, err = strconv.Atoi(raw); err != nil {
			invalidRequest(c, "search", "k must be an integer")
			return
		}
	}

	results, err := h.searchService.Search(c.Request.Context(), payload, k)
	if err != nil {
		respondError(c, err)
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	c.JSON(http.StatusOK, SearchResponse{Results: results})
}
