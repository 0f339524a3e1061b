// Package cache keeps recent search provider responses in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/regsearch"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/tavily"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/search"
)

const (
	keyPrefix  = "searchcore:search:"
	DefaultTTL = 15 * time.Minute
	opTimeout  = 500 * time.Millisecond
)

// Cache stores JSON encoded provider responses. Redis failures behave as misses.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

// Key hashes the parts into a namespaced cache key.
func Key(namespace string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return keyPrefix + namespace + ":" + hex.EncodeToString(h[:16])
}

func (c *Cache) get(ctx context.Context, key string, out any) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.SearchCache.WithLabelValues("miss").Inc()
		return false
	case err != nil:
		metrics.SearchCache.WithLabelValues("error").Inc()
		c.logger.Debug("Search cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		metrics.SearchCache.WithLabelValues("error").Inc()
		return false
	}
	metrics.SearchCache.WithLabelValues("hit").Inc()
	return true
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		c.logger.Debug("Search cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Web wraps a web search backend.
func (c *Cache) Web(next search.WebBackend) search.WebBackend {
	return &webBackend{next: next, cache: c}
}

// Regulatory wraps a regulatory search backend.
func (c *Cache) Regulatory(next search.RegulatoryBackend) search.RegulatoryBackend {
	return &regulatoryBackend{next: next, cache: c}
}

type webBackend struct {
	next  search.WebBackend
	cache *Cache
}

func (b *webBackend) Search(ctx context.Context, req tavily.SearchRequest) (*tavily.SearchResponse, error) {
	keyed := req
	keyed.APIKey = ""
	raw, _ := json.Marshal(keyed)
	key := Key("web", string(raw))

	var cached tavily.SearchResponse
	if b.cache.get(ctx, key, &cached) {
		return &cached, nil
	}
	resp, err := b.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	b.cache.set(ctx, key, resp)
	return resp, nil
}

type regulatoryBackend struct {
	next  search.RegulatoryBackend
	cache *Cache
}

func (b *regulatoryBackend) Search(ctx context.Context, query, market string) ([]regsearch.Document, error) {
	key := Key("regulatory", strings.ToLower(market), query)

	var cached []regsearch.Document
	if b.cache.get(ctx, key, &cached) {
		return cached, nil
	}
	docs, err := b.next.Search(ctx, query, market)
	if err != nil {
		return nil, err
	}
	b.cache.set(ctx, key, docs)
	return docs, nil
}
