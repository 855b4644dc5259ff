package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/index"
	"github.com/timmy/eventgallery/internal/source/localdir"
)

func TestIngest_PersistsEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	img, err := f.ingest.Ingest(ctx, vecPayload("1,0"))
	require.NoError(t, err)
	assert.NotEmpty(t, img.ID)
	assert.Equal(t, "image/jpeg", img.ContentType)
	assert.Equal(t, domain.ImageStatusActive, img.Status)
	assert.Contains(t, img.StorageURL, img.ID)

	got, err := f.gallery.Get(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, img.StorageURL, got.StorageURL)

	ok, err := f.objects.Exists(ctx, img.StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)

	matches, err := f.index.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, img.ID, matches[0].ID)
}

func TestIngest_DuplicatesGetDistinctIDs(t *testing.T) {
	f := newFixture(t)
	a := f.mustIngest(t, "1,0")
	b := f.mustIngest(t, "1,0")
	assert.NotEqual(t, a, b)

	store, idx, objects := f.counts(t)
	assert.EqualValues(t, 2, store)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 2, objects)
}

func TestIngest_UnsupportedLeavesNothing(t *testing.T) {
	f := newFixture(t)
	f.mustIngest(t, "1,0")
	ctx := context.Background()

	_, err := f.ingest.Ingest(ctx, Payload{Data: []byte("plain text pretending"), Filename: "x.jpg"})
	assert.Equal(t, domain.KindUnsupportedFormat, domain.KindOf(err))

	_, err = f.ingest.Ingest(ctx, Payload{Data: []byte("vec:1,0"), Filename: "x.exe"})
	assert.Equal(t, domain.KindPayloadRejected, domain.KindOf(err))

	store, idx, objects := f.counts(t)
	assert.EqualValues(t, 1, store)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 1, objects)
}

func TestIngest_IndexFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.index.failUpsert = true

	_, err := f.ingest.Ingest(context.Background(), vecPayload("1,0"))
	require.Error(t, err)
	assert.Equal(t, domain.KindStorageFailure, domain.KindOf(err))
	assert.Equal(t, 3, f.index.upserts, "first attempt plus two retries")

	var rows int64
	require.NoError(t, f.db.Model(&domain.GalleryImage{}).Count(&rows).Error)
	assert.Zero(t, rows, "no pending record left behind")

	_, idx, objects := f.counts(t)
	assert.Zero(t, idx)
	assert.Zero(t, objects)
}

func TestIngest_DimensionMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingest.Ingest(context.Background(), vecPayload("1,0,0"))
	assert.Equal(t, domain.KindDimensionMismatch, domain.KindOf(err))

	store, idx, objects := f.counts(t)
	assert.Zero(t, store)
	assert.Zero(t, idx)
	assert.Zero(t, objects)
}

func TestIngest_PersistenceSurvivesCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Extraction honours the caller's context; once it has run the write
	// sequence is detached, so cancelling mid-way cannot strand a record.
	img, err := f.ingest.Ingest(ctx, vecPayload("0,1"))
	require.NoError(t, err)
	cancel()

	got, err := f.gallery.Get(context.Background(), img.ID)
	require.NoError(t, err)
	assert.Equal(t, img.ID, got.ID)

	_, err = f.ingest.Ingest(ctx, vecPayload("0,1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keep := f.mustIngest(t, "0,1")
	gone := f.mustIngest(t, "1,0")

	require.NoError(t, f.ingest.Delete(ctx, gone))

	results, err := f.search.Search(ctx, vecPayload("1,0"), 3)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, gone, r.ImageID)
	}
	assert.Len(t, results, 1)
	assert.Equal(t, keep, results[0].ImageID)

	_, err = f.gallery.Get(ctx, gone)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	err = f.ingest.Delete(ctx, gone)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	store, idx, objects := f.counts(t)
	assert.EqualValues(t, 1, store)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 1, objects)
}

func TestDelete_RestoresIndexWhenStoreFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustIngest(t, "1,0")

	f.store.failDelete = true
	err := f.ingest.Delete(ctx, id)
	assert.Equal(t, domain.KindStorageFailure, domain.KindOf(err))

	results, err := f.search.Search(ctx, vecPayload("1,0"), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ImageID)
}

func TestDelete_IndexFailureKeepsImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustIngest(t, "1,0")

	f.index.failRemove = true
	err := f.ingest.Delete(ctx, id)
	assert.Equal(t, domain.KindStorageFailure, domain.KindOf(err))

	_, err = f.gallery.Get(ctx, id)
	assert.NoError(t, err)
}

func TestRebuildIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.mustIngest(t, "1,0")
	f.mustIngest(t, "0,1")

	fresh := index.NewMemory(2)
	svc := NewIngestService(f.store, fresh, f.objects, vecExtractor{dim: 2}, f.validator, nil, nil)
	loaded, skipped, err := svc.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Zero(t, skipped)

	matches, err := fresh.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, a, matches[0].ID)
}

func TestPurgePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key := "images/ab/orphan.jpg"
	require.NoError(t, os.MkdirAll(filepath.Join(f.objects.Root(), "images", "ab"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.objects.Root(), key), []byte("x"), 0o644))
	_, err := f.store.Put(ctx, &domain.GalleryImage{
		StorageKey: key,
		StorageURL: f.objects.GetURL(key),
		UploadedAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	n, err := f.ingest.PurgePending(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.objectCount(t))
}

func TestRunPendingPurge(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.store.Put(ctx, &domain.GalleryImage{
		StorageKey: "images/cd/stuck.jpg",
		UploadedAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	live := f.mustIngest(t, "1,0")

	done := make(chan struct{})
	go func() {
		f.ingest.RunPendingPurge(ctx, 5*time.Millisecond, time.Minute)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		var pending int64
		f.db.Model(&domain.GalleryImage{}).Where("status = ?", domain.ImageStatusPending).Count(&pending)
		return pending == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	_, err = f.store.Get(context.Background(), live)
	assert.NoError(t, err)
}

func TestIngestFromSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"a.jpg":    "vec:1,0",
		"b.jpg":    "vec:0,1",
		"c.png":    "vec:1,1",
		"dup.jpg":  "vec:1,0",
		"bad.jpg":  "garbage",
		"skip.txt": "vec:1,0",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	stats, err := f.ingest.IngestFromSource(ctx, localdir.NewAdapter(dir), 0, &IngestOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.EqualValues(t, 5, stats.TotalItems)
	assert.EqualValues(t, 5, stats.ProcessedItems)
	assert.EqualValues(t, 1, stats.FailedItems)

	store, idx, _ := f.counts(t)
	// a.jpg and dup.jpg race under two workers, so either may be skipped or
	// both ingested.
	assert.Equal(t, int64(idx), store)
	assert.Equal(t, stats.ProcessedItems-stats.FailedItems-stats.SkippedItems, store)
	assert.GreaterOrEqual(t, store, int64(3))

	again, err := f.ingest.IngestFromSource(ctx, localdir.NewAdapter(dir), 2, &IngestOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, again.TotalItems)
	assert.EqualValues(t, 2, again.SkippedItems)
}
