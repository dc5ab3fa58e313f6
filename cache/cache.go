// Package cache memoizes sorted task lists keyed by the content of the
// inputs that produced them, so unchanged builds resolve without
// re-running the topology engine.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/meikuraledutech/buildgraph"
)

// DefaultTTL is applied when the cache is constructed without an
// explicit entry lifetime.
const DefaultTTL = time.Hour

const keyPrefix = "sorted:"

// Store is the key-value backend a ResultCache writes through to. Get
// returns nil, nil when the key is absent. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// ResultCache stores sorted task lists as JSON under content-derived
// keys. The backend is treated as expendable: every failure is logged
// and counted, and the caller proceeds as if the entry were absent.
type ResultCache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a result cache over store. A ttl of zero or less selects
// DefaultTTL; a nil logger selects slog.Default.
func New(store Store, ttl time.Duration, logger *slog.Logger) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{store: store, ttl: ttl, logger: logger}
}

// TTL reports the entry lifetime the cache writes with.
func (c *ResultCache) TTL() time.Duration { return c.ttl }

// Key derives the cache key for resolving build with algorithm against
// universe: the build name, the algorithm and a digest of the member
// tasks and their prerequisite lists. Any change to the inputs yields a
// different key, so stale entries are never served, only orphaned.
func Key(build *buildgraph.Build, algorithm buildgraph.Algorithm, universe map[string]*buildgraph.Task) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, build.Name, algorithm, ContentHash(build, universe))
}

// ContentHash digests the build's member set together with each
// member's prerequisite list, both in sorted order so that declaration
// order does not matter. Every field is written with a length prefix
// and every list with an element count, so distinct inputs cannot
// collide by concatenation. The digest is the first 16 hex characters
// of a SHA-256 sum.
func ContentHash(build *buildgraph.Build, universe map[string]*buildgraph.Task) string {
	members := append([]string(nil), build.Tasks...)
	sort.Strings(members)

	h := sha256.New()
	writeCount(h, len(members))
	for _, name := range members {
		writeString(h, name)
		var requires []string
		if task := universe[name]; task != nil {
			requires = append([]string(nil), task.Requires...)
			sort.Strings(requires)
		}
		writeCount(h, len(requires))
		for _, req := range requires {
			writeString(h, req)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Get returns the cached result under key, or nil when the key is
// absent, the entry does not decode, or the backend misbehaves. A
// non-decoding entry is deleted so it cannot shadow future writes.
// Backend trouble never surfaces as an error; the caller recomputes.
func (c *ResultCache) Get(ctx context.Context, key string) *buildgraph.SortedTaskList {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		lookupErrors.Inc()
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return nil
	}
	if raw == nil {
		misses.Inc()
		return nil
	}

	var result buildgraph.SortedTaskList
	if err := json.Unmarshal(raw, &result); err != nil {
		lookupErrors.Inc()
		c.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("cache delete failed", "key", key, "error", err)
		}
		return nil
	}

	hits.Inc()
	return &result
}

// Put stores result under key for the cache's TTL. Failures are logged
// and swallowed; an uncached result is simply recomputed next time.
func (c *ResultCache) Put(ctx context.Context, key string, result *buildgraph.SortedTaskList) {
	raw, err := json.Marshal(result)
	if err != nil {
		writeErrors.Inc()
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		writeErrors.Inc()
		c.logger.Warn("cache put failed", "key", key, "error", err)
		return
	}
	writes.Inc()
}

// InvalidateBuild drops every cached result for the named build, across
// all algorithms and content digests.
func (c *ResultCache) InvalidateBuild(ctx context.Context, name string) {
	c.dropPrefix(ctx, keyPrefix+name+":")
}

// InvalidateAll drops every cached result. Used when a task changes,
// since any build may depend on it.
func (c *ResultCache) InvalidateAll(ctx context.Context) {
	c.dropPrefix(ctx, keyPrefix)
}

func (c *ResultCache) dropPrefix(ctx context.Context, prefix string) {
	if err := c.store.DeletePrefix(ctx, prefix); err != nil {
		writeErrors.Inc()
		c.logger.Warn("cache invalidation failed", "prefix", prefix, "error", err)
		return
	}
	invalidations.Inc()
}

func writeString(h hash.Hash, s string) {
	writeCount(h, len(s))
	io.WriteString(h, s)
}

func writeCount(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}
