package adapters

import (
	"fmt"
	"sync"

	"github.com/oriys/skysweep/internal/cache"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
)

// Factory implements sources.Binder, dispatching on a site's format
// tag to construct the matching adapter.
type Factory struct {
	// L2 is an optional shared cache used by basic-https sites for
	// cross-instance dedup. Nil disables the L2 tier.
	L2 cache.Cache

	// l1 is the in-memory tier shared by every basic-https site bound
	// through this Factory, so a single cache.CacheInvalidator can evict
	// entries across all of them when L2 is a RedisCache (see L1()).
	l1     cache.Cache
	l1Once sync.Once
}

// L1 returns the in-memory cache tier shared by every basic-https site
// this Factory binds, creating it on first use. Callers (typically
// cmd/engined) use this to wire a cache.CacheInvalidator against the
// same L1 every BasicAuth adapter reads and writes.
func (f *Factory) L1() cache.Cache {
	f.l1Once.Do(func() {
		f.l1 = cache.NewBoundedInMemoryCache(basicAuthCacheCapacity, basicAuthIdleTTL)
	})
	return f.l1
}

func (f *Factory) Fetchable(site sources.Site, st *stats.Handle) (sources.Fetchable, error) {
	switch site.Format {
	case "token-https":
		return NewTokenHTTPS(site, st)
	case "tls-proxy":
		return NewTLSProxy(site, st)
	default:
		return nil, fmt.Errorf("adapters: format %q has no fetchable adapter", site.Format)
	}
}

func (f *Factory) Streamable(site sources.Site, st *stats.Handle) (sources.Streamable, error) {
	switch site.Format {
	case "basic-https":
		return NewBasicAuth(site, st, f.L1(), f.L2)
	case "amqp":
		return NewAMQP(site, st)
	case "raw-tcp":
		return NewRawTCP(site, st)
	case "tls-proxy":
		return NewTLSProxy(site, st)
	default:
		return nil, fmt.Errorf("adapters: format %q has no streamable adapter", site.Format)
	}
}
