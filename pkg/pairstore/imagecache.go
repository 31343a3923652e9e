package pairstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// IndexVersion is the current version of the image cache index format.
const IndexVersion = 1

// ErrImageNotFound is returned when no cached image exists for a version.
var ErrImageNotFound = errors.New("developer disk image not cached")

// ImageEntry records one cached developer disk image.
type ImageEntry struct {
	// Version is the "major.minor" iOS version the image was built for.
	Version string `json:"version"`

	// ImagePath is the path to the cached .dmg file.
	ImagePath string `json:"image_path"`

	// SignaturePath is the path to the cached .dmg.signature file.
	SignaturePath string `json:"signature_path"`

	// CachedAt is when the image was added to the cache.
	CachedAt time.Time `json:"cached_at"`
}

// index is the on-disk JSON structure listing every cached image.
type index struct {
	Version int                   `json:"version"`
	Images  map[string]ImageEntry `json:"images"`
}

// ImageCache manages a directory of cached developer disk images, indexed
// by iOS major.minor version so a mount only has to download an image the
// first time a given OS version is seen.
type ImageCache struct {
	mu      sync.Mutex
	baseDir string
}

// NewImageCache creates an image cache rooted at baseDir.
func NewImageCache(baseDir string) *ImageCache {
	return &ImageCache{baseDir: baseDir}
}

func (c *ImageCache) indexPath() string {
	return filepath.Join(c.baseDir, "index.json")
}

func (c *ImageCache) loadIndex() (*index, error) {
	data, err := os.ReadFile(c.indexPath())
	if os.IsNotExist(err) {
		return &index{Version: IndexVersion, Images: make(map[string]ImageEntry)}, nil
	}
	if err != nil {
		return nil, err
	}

	idx := &index{}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, err
	}
	if idx.Images == nil {
		idx.Images = make(map[string]ImageEntry)
	}
	return idx, nil
}

func (c *ImageCache) saveIndex(idx *index) error {
	if err := os.MkdirAll(c.baseDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.indexPath(), data, 0o644)
}

// Get returns the cached entry for version, if present.
func (c *ImageCache) Get(version string) (ImageEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return ImageEntry{}, err
	}
	entry, ok := idx.Images[version]
	if !ok {
		return ImageEntry{}, ErrImageNotFound
	}
	return entry, nil
}

// Store writes the image and signature bytes to the cache directory and
// records the entry in the index.
func (c *ImageCache) Store(version string, image, signature []byte) (ImageEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.baseDir, 0o755); err != nil {
		return ImageEntry{}, err
	}

	imagePath := filepath.Join(c.baseDir, fmt.Sprintf("%s.dmg", version))
	sigPath := filepath.Join(c.baseDir, fmt.Sprintf("%s.dmg.signature", version))

	if err := os.WriteFile(imagePath, image, 0o644); err != nil {
		return ImageEntry{}, err
	}
	if err := os.WriteFile(sigPath, signature, 0o644); err != nil {
		return ImageEntry{}, err
	}

	entry := ImageEntry{
		Version:       version,
		ImagePath:     imagePath,
		SignaturePath: sigPath,
		CachedAt:      time.Now(),
	}

	idx, err := c.loadIndex()
	if err != nil {
		return ImageEntry{}, err
	}
	idx.Version = IndexVersion
	idx.Images[version] = entry
	if err := c.saveIndex(idx); err != nil {
		return ImageEntry{}, err
	}

	return entry, nil
}

// Remove deletes a cached image and its index entry.
func (c *ImageCache) Remove(version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return err
	}
	entry, ok := idx.Images[version]
	if !ok {
		return ErrImageNotFound
	}

	_ = os.Remove(entry.ImagePath)
	_ = os.Remove(entry.SignaturePath)
	delete(idx.Images, version)

	return c.saveIndex(idx)
}

// List returns every cached version.
func (c *ImageCache) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex()
	if err != nil {
		return nil
	}
	versions := make([]string, 0, len(idx.Images))
	for v := range idx.Images {
		versions = append(versions, v)
	}
	return versions
}
