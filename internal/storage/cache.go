package storage

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cached wraps an ObjectStore with a TTL read cache for JSON documents.
// Metadata documents change at most a few times a day, so repeated catalogue
// reads should not hit the object store every time. Writes through Put
// invalidate the cached entry.
type Cached struct {
	inner ObjectStore
	cache *gocache.Cache
}

var _ ObjectStore = (*Cached)(nil)

// NewCached builds a caching wrapper with the given TTL.
func NewCached(inner ObjectStore, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// GetJSON serves the decoded document from cache when present, falling back
// to the wrapped store. Cached entries hold raw bytes so each caller decodes
// into its own value.
func (c *Cached) GetJSON(ctx context.Context, bucket, key string, out any) error {
	cacheKey := bucket + "/" + key
	if raw, ok := c.cache.Get(cacheKey); ok {
		return json.Unmarshal(raw.([]byte), out)
	}

	var doc json.RawMessage
	if errGet := c.inner.GetJSON(ctx, bucket, key, &doc); errGet != nil {
		return errGet
	}
	c.cache.SetDefault(cacheKey, []byte(doc))
	return json.Unmarshal(doc, out)
}

// Put writes through and drops any cached copy.
func (c *Cached) Put(ctx context.Context, bucket, key string, body []byte) error {
	if errPut := c.inner.Put(ctx, bucket, key, body); errPut != nil {
		return errPut
	}
	c.cache.Delete(bucket + "/" + key)
	return nil
}

// ListPrefixes delegates to the wrapped store.
func (c *Cached) ListPrefixes(ctx context.Context, bucket, prefix string) ([]string, error) {
	return c.inner.ListPrefixes(ctx, bucket, prefix)
}

// PresignGet delegates to the wrapped store; presigned URLs are never cached.
func (c *Cached) PresignGet(ctx context.Context, bucket, key string, forceDownload bool) (string, error) {
	return c.inner.PresignGet(ctx, bucket, key, forceDownload)
}
