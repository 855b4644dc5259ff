// Package localdir reads gallery photos from a directory on disk.
package localdir

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/timmy/eventgallery/internal/source"
)

// ManifestFileName is an optional JSONL file listing the photos to ingest.
// Without it every image file under the directory is ingested.
const ManifestFileName = "manifest.jsonl"

// ManifestItem is one line of the manifest.
type ManifestItem struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// Adapter implements source.Source for a local directory.
type Adapter struct {
	root string

	once    sync.Once
	items   []source.ImageItem
	loadErr error
}

var _ source.Source = (*Adapter)(nil)

// NewAdapter creates an adapter rooted at dir.
func NewAdapter(dir string) *Adapter {
	return &Adapter{root: dir}
}

// GetSourceID returns the source identifier.
func (a *Adapter) GetSourceID() string {
	return "localdir:" + filepath.Base(a.root)
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Local directory (%s)", a.root)
}

// FetchBatch pages through the directory listing. The cursor is an offset.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.ImageItem, string, error) {
	a.once.Do(func() { a.loadErr = a.load(ctx) })
	if a.loadErr != nil {
		return nil, "", fmt.Errorf("failed to load local images: %w", a.loadErr)
	}

	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}
	if start >= len(a.items) {
		return []source.ImageItem{}, "", nil
	}
	if limit <= 0 {
		limit = len(a.items)
	}

	end := start + limit
	if end > len(a.items) {
		end = len(a.items)
	}

	next := ""
	if end < len(a.items) {
		next = strconv.Itoa(end)
	}
	return a.items[start:end], next, nil
}

func (a *Adapter) load(ctx context.Context) error {
	info, err := os.Stat(a.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", a.root)
	}

	manifest := filepath.Join(a.root, ManifestFileName)
	if _, err := os.Stat(manifest); err == nil {
		a.items, err = a.loadManifest(manifest)
		return err
	}

	a.items, err = a.walk(ctx)
	return err
}

func (a *Adapter) loadManifest(path string) ([]source.ImageItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	var items []source.ImageItem
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var m ManifestItem
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		local := filepath.Join(a.root, filepath.Clean("/"+m.Filename))
		if _, err := os.Stat(local); err != nil {
			continue
		}
		id := m.ID
		if id == "" {
			id = filepath.ToSlash(m.Filename)
		}
		items = append(items, source.ImageItem{
			SourceID:  id,
			Filename:  filepath.Base(m.Filename),
			LocalPath: local,
			Caption:   m.Caption,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].SourceID < items[j].SourceID })
	return items, nil
}

func (a *Adapter) walk(ctx context.Context) ([]source.ImageItem, error) {
	var items []source.ImageItem
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != a.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			return err
		}
		items = append(items, source.ImageItem{
			SourceID:  filepath.ToSlash(rel),
			Filename:  d.Name(),
			LocalPath: path,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SourceID < items[j].SourceID })
	return items, nil
}
