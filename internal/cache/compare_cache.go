// Package cache memoizes commit-pair diffs on disk. A diff between two
// commit ids never changes, so entries never expire.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/harvest/internal/errors"
	"github.com/rohankatakam/harvest/internal/extractor"
	"github.com/rohankatakam/harvest/internal/logging"
	"github.com/rohankatakam/harvest/internal/models"
)

const bucketName = "compare"

// CachedClient wraps a remote client and serves Compare from bbolt when possible
type CachedClient struct {
	extractor.RemoteRepositoryClient

	db     *bolt.DB
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

var _ extractor.RemoteRepositoryClient = (*CachedClient)(nil)

// Open opens (creating if needed) the cache file at path
func Open(path string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.ConfigErrorf("create cache directory: %v", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "open compare cache %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.DatabaseError(err, "create cache bucket")
	}
	return db, nil
}

// NewCachedClient decorates next. The caller owns db.
func NewCachedClient(next extractor.RemoteRepositoryClient, db *bolt.DB) *CachedClient {
	return &CachedClient{
		RemoteRepositoryClient: next,
		db:                     db,
		logger:                 logging.Component("cache"),
	}
}

// Compare returns the cached diff or fetches and stores it
func (c *CachedClient) Compare(ctx context.Context, owner, name, base, head string) ([]models.FileChange, error) {
	key := cacheKey(owner, name, base, head)

	changes, ok, err := c.get(key)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}
	if ok {
		c.hits.Add(1)
		return changes, nil
	}
	c.misses.Add(1)

	changes, err = c.RemoteRepositoryClient.Compare(ctx, owner, name, base, head)
	if err != nil {
		return nil, err
	}

	if err := c.put(key, changes); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return changes, nil
}

// Stats returns hit and miss counts since creation
func (c *CachedClient) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedClient) get(key string) ([]models.FileChange, bool, error) {
	var changes []models.FileChange
	var found bool

	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &changes)
	})
	if err != nil {
		return nil, false, err
	}
	return changes, found, nil
}

func (c *CachedClient) put(key string, changes []models.FileChange) error {
	if changes == nil {
		changes = []models.FileChange{}
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), data)
	})
}

func cacheKey(owner, name, base, head string) string {
	return fmt.Sprintf("%s/%s:%s..%s", owner, name, base, head)
}
