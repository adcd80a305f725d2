package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// AttributeCache wraps an AttributeStore that may not durably persist
// across process restarts (pkg/hostsim's in-memory store, for instance)
// with a local JSON file guarded by a file lock. A real resource manager's
// attribute store is assumed durable (§3) and would typically be used
// directly, without this wrapper.
type AttributeCache struct {
	delegate AttributeStore
	path     string
	lock     *flock.Flock
	mu       sync.Mutex
}

// cacheEntry is one application's cached attribute set.
type cacheEntry map[string]string

// NewAttributeCache builds a cache backed by path, delegating reads that
// miss the cache and all eventual durability to delegate.
func NewAttributeCache(delegate AttributeStore, path string) *AttributeCache {
	return &AttributeCache{
		delegate: delegate,
		path:     path,
		lock:     flock.New(path + ".lock"),
	}
}

// GetAttr first tries the local cache file, falling back to the delegate.
func (c *AttributeCache) GetAttr(ctx context.Context, app AppID, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.readLocked()
	if err != nil {
		return "", false, err
	}

	if entry, ok := entries[string(app)]; ok {
		if val, ok := entry[key]; ok {
			return val, true, nil
		}
	}

	return c.delegate.GetAttr(ctx, app, key)
}

// SetAttr writes through to the delegate and then updates the local cache
// file under an exclusive file lock, so a crash between the two writes
// never leaves the cache file half-written.
func (c *AttributeCache) SetAttr(ctx context.Context, app AppID, key, value string) error {
	if err := c.delegate.SetAttr(ctx, app, key, value); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("lock attribute cache %s: %w", c.path, err)
	}
	defer func() { _ = c.lock.Unlock() }()

	entries, err := c.readFile()
	if err != nil {
		return err
	}

	entry, ok := entries[string(app)]
	if !ok {
		entry = cacheEntry{}
		entries[string(app)] = entry
	}

	entry[key] = value

	return c.writeFile(entries)
}

func (c *AttributeCache) readLocked() (map[string]cacheEntry, error) {
	return c.readFile()
}

func (c *AttributeCache) readFile() (map[string]cacheEntry, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]cacheEntry{}, nil
		}

		return nil, fmt.Errorf("read attribute cache %s: %w", c.path, err)
	}

	if len(data) == 0 {
		return map[string]cacheEntry{}, nil
	}

	var entries map[string]cacheEntry

	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode attribute cache %s: %w", c.path, err)
	}

	return entries, nil
}

func (c *AttributeCache) writeFile(entries map[string]cacheEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode attribute cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create attribute cache directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write attribute cache %s: %w", c.path, err)
	}

	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace attribute cache %s: %w", c.path, err)
	}

	return nil
}
