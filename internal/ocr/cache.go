package ocr

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ocrd/internal/manager"
)

// DefaultCacheTTL is the default lifetime of a cached result.
const DefaultCacheTTL = 10 * time.Minute

var cacheRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ocrd",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Result cache lookups by result (hit, miss, shared)",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(cacheRequests)
}

// CacheStats reports result cache counters.
type CacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
	Entries          int    `json:"entries"`
}

// resultCache stores raw generations for deterministic requests and collapses
// concurrent identical ones.
type resultCache struct {
	cache *ttlcache.Cache[string, string]
	sf    singleflight.Group
	log   zerolog.Logger

	// flights tracks the callers waiting on each shared generation. The
	// generation runs on the flight's own context, which is canceled only
	// once every waiter has gone.
	mu      sync.Mutex
	flights map[string]*flight

	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func newResultCache(ttl time.Duration, capacity uint64, log zerolog.Logger) *resultCache {
	opts := []ttlcache.Option[string, string]{ttlcache.WithTTL[string, string](ttl)}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, string](capacity))
	}
	c := &resultCache{
		cache:   ttlcache.New[string, string](opts...),
		log:     log,
		flights: make(map[string]*flight),
	}
	go c.cache.Start()
	return c
}

// do returns the cached text for key or runs fn once for all concurrent
// callers with the same key. Errors are never cached. A caller whose ctx ends
// stops waiting without affecting the others; fn only sees cancellation when
// no caller is left.
func (c *resultCache) do(ctx context.Context, key string, fn func(context.Context) (string, error)) (text string, cached bool, err error) {
	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		cacheRequests.WithLabelValues("hit").Inc()
		c.log.Debug().Msg("result cache hit")
		return item.Value(), true, nil
	}

	f := c.join(ctx, key)
	defer c.leave(key, f)
	ch := c.sf.DoChan(key, func() (any, error) {
		c.misses.Add(1)
		cacheRequests.WithLabelValues("miss").Inc()
		text, err := fn(f.ctx)
		if err != nil {
			return "", err
		}
		c.cache.Set(key, text, ttlcache.DefaultTTL)
		return text, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		if res.Shared {
			c.sfHits.Add(1)
			cacheRequests.WithLabelValues("shared").Inc()
		}
		return res.Val.(string), res.Shared, nil
	case <-ctx.Done():
		return "", false, &manager.InferenceFailureError{Cause: ctx.Err()}
	}
}

// join registers a waiter on the flight for key, starting one if needed. The
// flight context keeps the values of the first caller but not its deadline or
// cancellation.
func (c *resultCache) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one out cancels the flight and makes the
// next caller start a fresh generation instead of joining a canceled one.
func (c *resultCache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
		c.sf.Forget(key)
	}
}

func (c *resultCache) stats() CacheStats {
	return CacheStats{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
		Entries:          c.cache.Len(),
	}
}

func (c *resultCache) close() { c.cache.Stop() }

// cacheKey hashes everything that determines a deterministic generation.
func cacheKey(p manager.GenerateParams) string {
	h := xxhash.New()
	_, _ = h.WriteString("p:")
	_, _ = h.WriteString(p.Prompt)
	_, _ = h.WriteString("|t:")
	var buf [8]byte
	maxTokens := int64(-1)
	if p.MaxTokens != nil {
		maxTokens = int64(*p.MaxTokens)
	}
	binary.BigEndian.PutUint64(buf[:], uint64(maxTokens))
	_, _ = h.Write(buf[:])
	if p.Temperature != nil {
		_, _ = h.WriteString("|T:")
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(*p.Temperature))
		_, _ = h.Write(buf[:])
	}
	if img := p.Image; img != nil {
		_, _ = h.WriteString("|i:")
		if img.Crop {
			_, _ = h.WriteString("crop")
		}
		_, _ = h.WriteString(img.MIMEType)
		_, _ = h.Write(img.Data)
	}
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}
