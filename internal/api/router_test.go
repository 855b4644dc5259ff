package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/eventgallery/internal/api/handler"
	"github.com/timmy/eventgallery/internal/api/middleware"
	"github.com/timmy/eventgallery/internal/config"
	"github.com/timmy/eventgallery/internal/embedding"
	"github.com/timmy/eventgallery/internal/index"
	"github.com/timmy/eventgallery/internal/repository"
	"github.com/timmy/eventgallery/internal/service"
	"github.com/timmy/eventgallery/internal/storage"
)

const maxUpload = 1 << 20

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "api.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	filesDir := t.TempDir()
	objects, err := storage.NewLocalStorage(filesDir, "http://localhost:8000/files")
	require.NoError(t, err)

	store := repository.NewGalleryRepository(db)
	ext := embedding.NewLocalExtractor(&embedding.LocalConfig{})
	idx := index.NewMemory(ext.Dimensions())
	validator := service.NewValidator(maxUpload, []string{"image/jpeg", "image/png", "image/gif", "image/webp"})
	reconciler := service.NewReconciler(store, idx, 8, nil)

	ingest := service.NewIngestService(store, idx, objects, ext, validator, nil, nil)
	search := service.NewSearchService(store, idx, ext, validator, reconciler, nil, &service.SearchConfig{DefaultK: 5, MaxK: 20})
	gallery := service.NewGalleryService(store, 50, 200)
	events := service.NewEventService(repository.NewEventRepository(db))

	return SetupRouter(RouterConfig{
		Mode:           "test",
		CORS:           middleware.CORSConfig{AllowAllOrigins: true},
		FilesDir:       filesDir,
		MaxUploadBytes: maxUpload,
	}, Handlers{
		Health: handler.NewHealthHandler(sqlDB, idx, ext.Model()),
		Images: handler.NewImageHandler(gallery, ingest, maxUpload),
		Search: handler.NewSearchHandler(search, maxUpload),
		Events: handler.NewEventHandler(events),
	})
}

func encodePNG(t *testing.T, w, h int, fill func(x, y int) color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func facePNG(t *testing.T, shift int) []byte {
	return encodePNG(t, 96, 96, func(x, y int) color.Color {
		dx, dy := x-48-shift, y-48
		switch {
		case (dx+14)*(dx+14)+(dy+10)*(dy+10) < 36, (dx-14)*(dx-14)+(dy+10)*(dy+10) < 36:
			return color.RGBA{250, 250, 250, 255}
		case dy > 12 && dy < 18 && dx > -16 && dx < 16:
			return color.RGBA{120, 20, 20, 255}
		case dx*dx+dy*dy < 35*35:
			return color.RGBA{200, 150, 110, 255}
		default:
			return color.RGBA{30, 60, 120, 255}
		}
	})
}

func checkerPNG(t *testing.T) []byte {
	return encodePNG(t, 64, 64, func(x, y int) color.Color {
		if (x/8+y/8)%2 == 0 {
			return color.Black
		}
		return color.White
	})
}

func blankPNG(t *testing.T) []byte {
	return encodePNG(t, 32, 32, func(int, int) color.Color { return color.White })
}

func multipartRequest(t *testing.T, method, target, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func upload(t *testing.T, r http.Handler, filename string, data []byte) string {
	t.Helper()
	rr := do(r, multipartRequest(t, http.MethodPost, "/api/images", filename, data, nil))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp handler.UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, resp.ID, resp.OID)
	assert.NotEmpty(t, resp.URL)
	return resp.ID
}

func TestGalleryFlow(t *testing.T) {
	r := newTestRouter(t)

	face := upload(t, r, "face.png", facePNG(t, 0))
	checker := upload(t, r, "checker.png", checkerPNG(t))

	rr := do(r, httptest.NewRequest(http.MethodGet, "/api/images", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("X-Total-Count"))
	var items []handler.ImageItem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &items))
	assert.Len(t, items, 2)

	rr = do(r, multipartRequest(t, http.MethodPost, "/api/search", "query.png", facePNG(t, 2), map[string]string{"k": "2"}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Results []struct {
			ID         string  `json:"_id"`
			URL        string  `json:"cloudinary_url"`
			Similarity float32 `json:"similarity"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, face, resp.Results[0].ID)
	assert.Equal(t, checker, resp.Results[1].ID)
	assert.Greater(t, resp.Results[0].Similarity, resp.Results[1].Similarity)
	assert.LessOrEqual(t, resp.Results[0].Similarity, float32(1))

	rr = do(r, httptest.NewRequest(http.MethodGet, "/api/images/"+face, http.NoBody))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(r, httptest.NewRequest(http.MethodDelete, "/api/images/"+face, http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())

	rr = do(r, httptest.NewRequest(http.MethodDelete, "/api/images/"+face, http.NoBody))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error":"not_found"`)

	rr = do(r, multipartRequest(t, http.MethodPost, "/api/search", "query.png", facePNG(t, 0), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), face)
}

func TestSearch_BlankImageReturnsEmptyResults(t *testing.T) {
	r := newTestRouter(t)
	upload(t, r, "face.png", facePNG(t, 0))

	rr := do(r, multipartRequest(t, http.MethodPost, "/api/search", "blank.png", blankPNG(t), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"results":[]}`, rr.Body.String())
}

func TestUpload_Errors(t *testing.T) {
	r := newTestRouter(t)

	rr := do(r, multipartRequest(t, http.MethodPost, "/api/images", "fake.jpg", []byte("not really a jpeg"), nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error":"unsupported_format"`)

	rr = do(r, multipartRequest(t, http.MethodPost, "/api/images", "doc.pdf", facePNG(t, 0), nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error":"payload_rejected"`)

	rr = do(r, multipartRequest(t, http.MethodPost, "/api/images", "big.png", bytes.Repeat([]byte{1}, maxUpload+1), nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error":"payload_rejected"`)

	rr = do(r, multipartRequest(t, http.MethodPost, "/api/search", "", nil, nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error":"invalid_request"`)

	rr = do(r, httptest.NewRequest(http.MethodGet, "/api/images", http.NoBody))
	assert.Equal(t, "0", rr.Header().Get("X-Total-Count"))
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = do(r, httptest.NewRequest(http.MethodGet, "/api/images?page=abc", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEventsAndRSVPs(t *testing.T) {
	r := newTestRouter(t)

	create := httptest.NewRequest(http.MethodPost, "/api/events",
		strings.NewReader(`{"name":"Spring Gala","location":"Hall A","capacity":50,`+
			`"startAt":"2026-05-01T18:00:00Z","endAt":"2026-05-01T23:00:00Z",`+
			`"profileImage":"https://example.com/gala.png"}`))
	create.Header.Set("Content-Type", "application/json")
	rr := do(r, create)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created struct {
		Success bool `json:"success"`
		Data    struct {
			ID string `json:"_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.True(t, created.Success)
	id := created.Data.ID

	var raw struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	for _, key := range []string{"_id", "startAt", "endAt", "profileImage", "createdAt"} {
		assert.Contains(t, raw.Data, key)
	}
	assert.NotContains(t, raw.Data, "start_at")
	assert.Equal(t, "https://example.com/gala.png", raw.Data["profileImage"])

	rsvp := httptest.NewRequest(http.MethodPost, "/api/rsvps",
		strings.NewReader(`{"eventId":"`+id+`","name":"Ada","email":"ada@example.com","response":"going"}`))
	rsvp.Header.Set("Content-Type", "application/json")
	rr = do(r, rsvp)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"eventId":"`+id+`"`)

	missing := httptest.NewRequest(http.MethodPost, "/api/events/nope/rsvps",
		strings.NewReader(`{"name":"Bob","email":"bob@example.com","response":"going"}`))
	missing.Header.Set("Content-Type", "application/json")
	rr = do(r, missing)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"success":false`)

	bad := httptest.NewRequest(http.MethodPost, "/api/events/"+id+"/rsvps",
		strings.NewReader(`{"name":"Cy","email":"not-an-email","response":"going"}`))
	bad.Header.Set("Content-Type", "application/json")
	rr = do(r, bad)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(r, httptest.NewRequest(http.MethodGet, "/api/events/"+id+"/rsvps/summary", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"going":1`)
	assert.Contains(t, rr.Body.String(), `"notGoing":0`)

	rr = do(r, httptest.NewRequest(http.MethodGet, "/api/events?search=gala", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Spring Gala")

	rr = do(r, httptest.NewRequest(http.MethodDelete, "/api/events/"+id, http.NoBody))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(r, httptest.NewRequest(http.MethodGet, "/api/events/"+id, http.NoBody))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	rr := do(r, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
	assert.Contains(t, rr.Body.String(), `"indexed":0`)

	rr = do(r, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rr.Code)
}
