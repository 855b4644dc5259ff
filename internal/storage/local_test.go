package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8000/files/")
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(ctx))

	data := []byte("image bytes")
	require.NoError(t, s.Upload(ctx, "images/ab/abc.png", bytes.NewReader(data), int64(len(data)), "image/png"))

	ok, err := s.Exists(ctx, "images/ab/abc.png")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Download(ctx, "images/ab/abc.png")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.Equal(t, "http://localhost:8000/files/images/ab/abc.png", s.GetURL("images/ab/abc.png"))

	require.NoError(t, s.Delete(ctx, "images/ab/abc.png"))
	require.NoError(t, s.Delete(ctx, "images/ab/abc.png"))
	ok, err = s.Exists(ctx, "images/ab/abc.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	err = s.Upload(context.Background(), "../outside.png", bytes.NewReader(nil), 0, "image/png")
	assert.Error(t, err)
}

func TestDetectStorageType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     StorageType
	}{
		{"", StorageTypeLocal},
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.us-east-1.amazonaws.com", StorageTypeS3},
		{"localhost:9000", StorageTypeS3Compatible},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, detectStorageType(tc.endpoint), tc.endpoint)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "minio:9000", normalizeEndpoint("http://minio:9000/some/path"))
	assert.Equal(t, "s3.amazonaws.com", normalizeEndpoint("https://s3.amazonaws.com"))
}
