package inference

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/internal/cache"
	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/types"
	"github.com/BaSui01/ensembleflow/workflow"
)

// PayloadCache stores inference results. Get returns an error satisfying
// cache.IsCacheMiss when the key is absent.
type PayloadCache interface {
	Key(suffix string) string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachingInvoker serves repeated invocations from a PayloadCache. Only
// successful results are stored. A cache that cannot be reached is bypassed.
type CachingInvoker struct {
	next    workflow.Invoker
	cache   PayloadCache
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewCachingInvoker wraps next. A zero ttl defers to the cache default.
func NewCachingInvoker(next workflow.Invoker, c PayloadCache, ttl time.Duration, opts ...Option) *CachingInvoker {
	o := applyOptions(opts)
	return &CachingInvoker{
		next:    next,
		cache:   c,
		ttl:     ttl,
		logger:  o.logger.With(zap.String("component", "result_cache")),
		metrics: o.metrics,
	}
}

// Invoke implements workflow.Invoker.
func (c *CachingInvoker) Invoke(ctx context.Context, ref workflow.ServiceRef, req *types.Request) ([]byte, error) {
	key := c.cache.Key(CacheKey(ref, req))

	cached, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		c.record(ref, "hit")
		c.logger.Debug("serving cached result", zap.String("model", ref.String()), zap.String("key", key))
		return cached, nil
	case cache.IsCacheMiss(err):
		c.record(ref, "miss")
	default:
		c.record(ref, "error")
		c.logger.Warn("result cache lookup failed", zap.String("model", ref.String()), zap.Error(err))
	}

	payload, err := c.next.Invoke(ctx, ref, req)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, payload, c.ttl); err != nil {
		c.logger.Warn("failed to store result", zap.String("model", ref.String()), zap.Error(err))
	}
	return payload, nil
}

func (c *CachingInvoker) record(ref workflow.ServiceRef, result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(ref.Model, result)
	}
}

// CacheKey derives a stable key from the target and the request content.
// The request ID is excluded; headers are included in sorted order and an
// absent payload hashes differently from an empty one.
func CacheKey(ref workflow.ServiceRef, req *types.Request) string {
	h := sha256.New()
	writeField(h, []byte(ref.Model))
	writeField(h, []byte(ref.Version))

	if req != nil {
		for _, k := range slices.Sorted(maps.Keys(req.Headers)) {
			writeField(h, []byte(k))
			writeField(h, []byte(req.Headers[k]))
		}
		h.Write([]byte{0xff})
		for _, p := range req.Parameters {
			writeField(h, []byte(p.Name))
			if p.Value == nil {
				h.Write([]byte{0})
				continue
			}
			h.Write([]byte{1})
			writeField(h, p.Value)
		}
	}

	return ref.String() + ":" + hex.EncodeToString(h.Sum(nil))
}

// writeField writes a length-prefixed field so adjacent fields cannot collide.
func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}
