// Package artifact stores generated card art on disk as a flat
// id -> bytes mapping. The cache is the only state that survives a
// process restart.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Cache is a content store keyed by card id. Reads on distinct ids do
// not interfere; concurrent writes are serialized.
type Cache struct {
	dir string
	mu  sync.Mutex
}

func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Put writes the artifact for the given id, overwriting any prior
// entry. The write is atomic: readers never observe a partial file.
func (c *Cache) Put(id string, data []byte) error {
	path, err := c.path(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, "artifact-*")
	if err != nil {
		return fmt.Errorf("stage artifact %s: %w", id, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit artifact %s: %w", id, err)
	}
	return nil
}

// Get returns the stored artifact for the given id. Absence is a
// normal result, not an error: most cards have no generated art.
func (c *Cache) Get(id string) ([]byte, bool) {
	path, err := c.path(id)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Has reports whether an artifact exists for the given id without
// reading it.
func (c *Cache) Has(id string) bool {
	path, err := c.path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// path maps a card id to its backing file. Ids come over the wire, so
// anything that would escape the cache directory is rejected.
func (c *Cache) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id != filepath.Base(id) {
		return "", errors.New("invalid artifact id")
	}
	return filepath.Join(c.dir, id+".png"), nil
}
