package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/eventgallery/internal/config"
	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/index"
	"github.com/timmy/eventgallery/internal/repository"
	"github.com/timmy/eventgallery/internal/storage"
	"gorm.io/gorm"
)

var allowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// vecExtractor reads vectors written as "vec:x,y,..." so tests can place
// images exactly. "blank" has no subject; anything else is unsupported.
type vecExtractor struct{ dim int }

func (e vecExtractor) Dimensions() int { return e.dim }
func (e vecExtractor) Model() string   { return "vec-test" }

func (e vecExtractor) Extract(ctx context.Context, data []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := string(data)
	if s == "blank" {
		return nil, domain.Errorf(domain.KindExtractionFailure, "extract", "no subject")
	}
	if !strings.HasPrefix(s, "vec:") {
		return nil, domain.Errorf(domain.KindUnsupportedFormat, "extract", "cannot decode")
	}
	parts := strings.Split(strings.TrimPrefix(s, "vec:"), ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, domain.Errorf(domain.KindUnsupportedFormat, "extract", "bad vector")
		}
		out[i] = float32(f)
	}
	return out, nil
}

func vecPayload(v string) Payload {
	return Payload{Data: []byte("vec:" + v), Filename: "photo.jpg"}
}

// flakyIndex fails writes on demand.
type flakyIndex struct {
	*index.Memory
	failUpsert bool
	failRemove bool
	upserts    int
}

var errIndexDown = errors.New("index unavailable")

func (f *flakyIndex) Upsert(ctx context.Context, id string, v []float32) error {
	f.upserts++
	if f.failUpsert {
		return errIndexDown
	}
	return f.Memory.Upsert(ctx, id, v)
}

func (f *flakyIndex) Remove(ctx context.Context, id string) error {
	if f.failRemove {
		return errIndexDown
	}
	return f.Memory.Remove(ctx, id)
}

// flakyStore fails Delete on demand.
type flakyStore struct {
	*repository.GalleryRepository
	failDelete bool
}

func (f *flakyStore) Delete(ctx context.Context, id string) error {
	if f.failDelete {
		return domain.E(domain.KindStorageFailure, "gallery.delete", errors.New("disk full"))
	}
	return f.GalleryRepository.Delete(ctx, id)
}

type fixture struct {
	db        *gorm.DB
	store     *flakyStore
	index     *flakyIndex
	objects   *storage.LocalStorage
	validator *Validator
	ingest    *IngestService
	search    *SearchService
	gallery   *GalleryService
	reconcile *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "gallery.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	objects, err := storage.NewLocalStorage(t.TempDir(), "http://localhost:8000/files")
	require.NoError(t, err)

	f := &fixture{
		db:        db,
		store:     &flakyStore{GalleryRepository: repository.NewGalleryRepository(db)},
		index:     &flakyIndex{Memory: index.NewMemory(2)},
		objects:   objects,
		validator: NewValidator(1<<20, allowedTypes),
	}
	ext := vecExtractor{dim: 2}
	f.reconcile = NewReconciler(f.store, f.index, 16, nil)
	f.ingest = NewIngestService(f.store, f.index, objects, ext, f.validator, nil, &IngestConfig{
		Workers:         2,
		BatchSize:       2,
		RetryCount:      2,
		RetryInitial:    time.Millisecond,
		RetryMaxBackoff: 2 * time.Millisecond,
	})
	f.search = NewSearchService(f.store, f.index, ext, f.validator, f.reconcile, nil, &SearchConfig{DefaultK: 2, MaxK: 3})
	f.gallery = NewGalleryService(f.store, 10, 50)
	return f
}

func (f *fixture) mustIngest(t *testing.T, vec string) string {
	t.Helper()
	img, err := f.ingest.Ingest(context.Background(), vecPayload(vec))
	require.NoError(t, err)
	return img.ID
}

// objectCount counts stored files, ignoring directories.
func (f *fixture) objectCount(t *testing.T) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(f.objects.Root(), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func (f *fixture) counts(t *testing.T) (store int64, idx int, objects int) {
	t.Helper()
	var err error
	store, err = f.store.Count(context.Background())
	require.NoError(t, err)
	idx, err = f.index.Len(context.Background())
	require.NoError(t, err)
	return store, idx, f.objectCount(t)
}

func pngBytes(t *testing.T, w, h int, fill func(x, y int) color.Color) []byte {
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
