package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ibeckermayer/claim4me/internal/config"
)

// OutputName identifies a flow output for caching purposes.
type OutputName string

const (
	OutputCoin    OutputName = "shopee_coin"
	OutputCoupons OutputName = "shopee_coupons"
	OutputSales   OutputName = "shopee_sales"
	OutputTasks   OutputName = "momo_tasks"
	OutputReport  OutputName = "report"
)

// Cache writes timestamped dumps of flow outputs under a directory.
type Cache struct {
	dir string
	now func() time.Time
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir, now: time.Now}
}

// DefaultCache returns a cache in the user cache directory.
func DefaultCache() (*Cache, error) {
	dir, err := config.CacheDir()
	if err != nil {
		return nil, err
	}
	return NewCache(dir), nil
}

// Root returns the cache's base directory.
func (c *Cache) Root() string { return c.dir }

// Dir returns the directory holding outputs of name.
func (c *Cache) Dir(name OutputName) string {
	return filepath.Join(c.dir, string(name))
}

func (c *Cache) filename(ext string) string {
	return c.now().Format("2006-01-02T15-04-05.000") + ext
}

// SaveOutput saves JSON-serializable data to the output's cache directory.
// Returns the path to the saved file.
func SaveOutput[T any](c *Cache, name OutputName, data T) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s output: %w", name, err)
	}
	return c.write(name, jsonData, ".json")
}

// SaveText saves text content (e.g. an HTML report) to the output's cache
// directory.
func (c *Cache) SaveText(name OutputName, content, ext string) (string, error) {
	return c.write(name, []byte(content), ext)
}

func (c *Cache) write(name OutputName, data []byte, ext string) (string, error) {
	dir := c.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	path := filepath.Join(dir, c.filename(ext))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s output: %w", name, err)
	}
	return path, nil
}

// LoadLatestOutput loads the most recent output of name.
// Returns the data, the filepath it was loaded from, and any error.
func LoadLatestOutput[T any](c *Cache, name OutputName) (T, string, error) {
	var zero T

	latestPath, err := c.LatestFile(name)
	if err != nil {
		return zero, "", err
	}

	data, err := LoadOutput[T](latestPath)
	if err != nil {
		return zero, "", err
	}

	return data, latestPath, nil
}

// LoadOutput loads JSON data from a specific file path.
func LoadOutput[T any](path string) (T, error) {
	var data T

	jsonData, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read cached output: %w", err)
	}

	if err := json.Unmarshal(jsonData, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal cached output: %w", err)
	}

	return data, nil
}

// LatestFile returns the most recent file of name. Names sort
// chronologically.
func (c *Cache) LatestFile(name OutputName) (string, error) {
	dir := c.Dir(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no cached output for %s", name)
		}
		return "", err
	}

	var latest string
	for _, entry := range entries {
		if !entry.IsDir() {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no cached output for %s", name)
	}

	return filepath.Join(dir, latest), nil
}
