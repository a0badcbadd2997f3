package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oriys/skysweep/internal/cache"
	"github.com/oriys/skysweep/internal/logging"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
)

// basicAuthCacheCapacity, basicAuthIdleTTL and basicAuthMaxTTL bound
// the poll de-dup cache.
const (
	basicAuthCacheCapacity = 20
	basicAuthIdleTTL       = 20 * time.Second
	basicAuthMaxTTL        = 60 * time.Second
	basicAuthErrSleep      = 2 * time.Second
)

// BasicAuth is the poll-with-cache HTTPS stream adapter. The cache
// dedups repeated polls that return an identical `time` value.
type BasicAuth struct {
	site  sources.Site
	stats *stats.Handle
	http  *http.Client
	cache cache.Cache

	// interPollDelay is applied after a 5xx response.
	interPollDelay time.Duration
}

// NewBasicAuth constructs a BasicAuth adapter. l1 is the in-memory tier
// shared across every basic-https site bound by the same Factory (so a
// cache.CacheInvalidator can evict it from outside); l2 may be nil, in
// which case the cache runs L1-only (in-memory dedup, no cross-instance
// sharing).
func NewBasicAuth(site sources.Site, st *stats.Handle, l1, l2 cache.Cache) (*BasicAuth, error) {
	if err := site.Credential.Accepts(sources.CredAnonymous, sources.CredLogin); err != nil {
		return nil, err
	}
	if l1 == nil {
		l1 = cache.NewBoundedInMemoryCache(basicAuthCacheCapacity, basicAuthIdleTTL)
	}
	c := l1
	if l2 != nil {
		c = cache.NewTieredCache(l1, l2, basicAuthIdleTTL)
	}
	return &BasicAuth{
		site:           site,
		stats:          st,
		http:           &http.Client{Timeout: 15 * time.Second},
		cache:          c,
		interPollDelay: 5 * time.Second,
	}, nil
}

func (b *BasicAuth) Name() string   { return b.site.Name }
func (b *BasicAuth) Format() string { return "basic-https" }

// Authenticate is a no-op for basic-auth sites; credentials travel
// with every poll request instead.
func (b *BasicAuth) Authenticate(context.Context) (string, error) { return "", nil }

// Stream polls the site's get-route on a tight loop until duration
// expires or ctx is cancelled, deduplicating identical `time` values
// via the bounded TTL cache.
func (b *BasicAuth) Stream(ctx context.Context, out chan<- sources.Record, _ string, args json.RawMessage) error {
	var filter sources.Filter
	if len(args) > 0 {
		if err := json.Unmarshal(args, &filter); err != nil {
			return fmt.Errorf("adapters: decode filter: %w", err)
		}
	}

	var deadline <-chan time.Time
	if filter.Kind == sources.FilterStream && !filter.Infinite() {
		timer := time.NewTimer(filter.StreamDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	t := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		default:
		}

		if err := b.pollOnce(ctx, out, t); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Op().Warn("basic-https poll failed", "site", b.site.Name, "error", err)
		}
		t = time.Now()
	}
}

func (b *BasicAuth) pollOnce(ctx context.Context, out chan<- sources.Record, t time.Time) error {
	url := fmt.Sprintf("%s/%s?time=%d", b.site.BaseURL, b.site.Routes.Get, t.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		b.stats.Error()
		return err
	}
	if b.site.Credential.Kind == sources.CredLogin {
		req.SetBasicAuth(b.site.Credential.Login, b.site.Credential.Password)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		b.stats.Error()
		sleep(ctx, basicAuthErrSleep)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		b.stats.Error()
		sleep(ctx, b.interPollDelay)
		return fmt.Errorf("adapters: basic-https 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		b.stats.Error()
		sleep(ctx, basicAuthErrSleep)
		return fmt.Errorf("adapters: basic-https status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		b.stats.Error()
		return err
	}

	// time may arrive as a number or a string depending on the site;
	// the raw token works as a cache key either way.
	var parsed struct {
		Time json.RawMessage `json:"time"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		b.stats.Error()
		return err
	}

	if key := string(parsed.Time); key != "" && key != "null" {
		if _, err := b.cache.Get(ctx, key); err == nil {
			b.stats.Hit()
			return nil
		}
		_ = b.cache.Set(ctx, key, []byte{1}, basicAuthMaxTTL)
	}

	record := append(body, '\n')
	select {
	case out <- sources.Record(record):
	case <-ctx.Done():
		return nil
	}
	b.stats.Miss()
	b.stats.Pkts(1)
	b.stats.Bytes(int64(len(record)))
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
