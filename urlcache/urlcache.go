// Package urlcache caches time-limited signed download URLs and proactively
// refreshes them before they expire, so consumers never hold a dead link.
package urlcache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/BotCoder254/remocloud-sub000/backoff"
	"github.com/BotCoder254/remocloud-sub000/transfer/network"
)

// Purpose selects the requested validity window of a signed URL; it is
// otherwise orthogonal to caching.
type Purpose string

const (
	PurposeDownload Purpose = "download"
	PurposePreview  Purpose = "preview"
	PurposeStream   Purpose = "stream"
)

// expiry returns the validity window requested from the backend for this
// purpose.
func (p Purpose) expiry() time.Duration {
	switch p {
	case PurposePreview:
		return 300 * time.Second
	case PurposeStream:
		return 1800 * time.Second
	default:
		return 900 * time.Second
	}
}

// DefaultRefreshLead is how long before expiry a cached entry is refreshed.
const DefaultRefreshLead = 2 * time.Minute

// Entry is one cached signed URL for a (file, purpose) pair.
type Entry struct {
	FileID       string
	Purpose      Purpose
	URL          string
	IsPublic     bool
	ExpiresAt    time.Time
	CacheHeaders map[string]string
}

// Options tune one Get call.
type Options struct {
	// ForceRefresh bypasses the cache and fetches a fresh URL.
	ForceRefresh bool
	// Expiry overrides the purpose's default validity window.
	Expiry time.Duration
}

// Params configure a Cache.
type Params struct {
	API    *network.APIClient
	Logger log.Logger
	// RefreshLead overrides DefaultRefreshLead.
	RefreshLead time.Duration
	// Policy overrides the signed-URL retry policy.
	Policy *backoff.Policy
	// TransformPolicy overrides the transform retry policy.
	TransformPolicy *backoff.Policy
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
	// Downloader is the HTTP client used by DownloadTo. Nil for a default.
	Downloader *http.Client
}

type inflightFetch struct {
	done  chan struct{}
	entry Entry
	err   error
}

// Cache holds signed URLs keyed by (file, purpose). All mutations of the
// entry, timer and in-flight sets are atomic per key: one mutex guards all
// three maps, and concurrent misses for a key coalesce onto the in-flight
// fetch instead of racing.
type Cache struct {
	api             *network.APIClient
	logger          log.Logger
	policy          backoff.Policy
	transformPolicy backoff.Policy
	refreshLead     time.Duration
	now             func() time.Time
	downloader      *http.Client

	mu       sync.Mutex
	entries  map[string]Entry
	timers   map[string]*time.Timer
	inflight map[string]*inflightFetch
	closed   bool
}

// New creates a cache. Tear it down with Close to stop pending refresh
// timers.
func New(params Params) *Cache {
	refreshLead := params.RefreshLead
	if refreshLead == 0 {
		refreshLead = DefaultRefreshLead
	}
	policy := backoff.SignedURLPolicy()
	if params.Policy != nil {
		policy = *params.Policy
	}
	transformPolicy := backoff.TransformPolicy()
	if params.TransformPolicy != nil {
		transformPolicy = *params.TransformPolicy
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Cache{
		api:             params.API,
		logger:          params.Logger,
		policy:          policy,
		transformPolicy: transformPolicy,
		refreshLead:     refreshLead,
		now:             clock,
		downloader:      params.Downloader,
		entries:         map[string]Entry{},
		timers:          map[string]*time.Timer{},
		inflight:        map[string]*inflightFetch{},
	}
}

func cacheKey(fileID string, purpose Purpose) string {
	return fmt.Sprintf("%s/%s", fileID, purpose)
}

// Get returns a valid signed URL for the file, from cache when fresh,
// fetched otherwise. A fetch overwrites the entry and reschedules its
// refresh timer.
func (c *Cache) Get(ctx context.Context, fileID string, purpose Purpose, opts Options) (Entry, error) {
	key := cacheKey(fileID, purpose)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Entry{}, fmt.Errorf("url cache is closed")
	}

	if entry, ok := c.entries[key]; ok && !opts.ForceRefresh && c.fresh(entry) {
		c.mu.Unlock()
		return entry, nil
	}

	// a fetch for this key is already running; await it rather than racing
	if pending, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-pending.done:
			return pending.entry, pending.err
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}

	pending := &inflightFetch{done: make(chan struct{})}
	c.inflight[key] = pending
	c.mu.Unlock()

	entry, err := c.fetch(ctx, fileID, purpose, opts)

	c.mu.Lock()
	delete(c.inflight, key)
	// a Close while the fetch was in flight already wiped the maps; do not
	// repopulate them
	if err == nil && !c.closed {
		c.entries[key] = entry
		c.schedule(key, entry)
	}
	c.mu.Unlock()

	pending.entry = entry
	pending.err = err
	close(pending.done)

	return entry, err
}

// Clear evicts the given files (every purpose) and cancels their refresh
// timers. With no arguments the whole cache and all timers are dropped.
func (c *Cache) Clear(fileIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(fileIDs) == 0 {
		for key, timer := range c.timers {
			timer.Stop()
			delete(c.timers, key)
		}
		c.entries = map[string]Entry{}
		return
	}

	for _, fileID := range fileIDs {
		for _, purpose := range []Purpose{PurposeDownload, PurposePreview, PurposeStream} {
			key := cacheKey(fileID, purpose)
			if timer, ok := c.timers[key]; ok {
				timer.Stop()
				delete(c.timers, key)
			}
			delete(c.entries, key)
		}
	}
}

// Close wipes the cache and stops every pending timer. The cache is unusable
// afterwards.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, timer := range c.timers {
		timer.Stop()
		delete(c.timers, key)
	}
	c.entries = map[string]Entry{}
	c.closed = true
}

// TransformURL requests a URL serving a transformed variant of the file.
// Transform requests go through their own retry policy; the results are
// parameter-dependent and are not cached.
func (c *Cache) TransformURL(ctx context.Context, fileID string, request network.TransformRequest) (network.TransformInfo, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return network.TransformInfo{}, fmt.Errorf("url cache is closed")
	}
	c.mu.Unlock()

	var info network.TransformInfo
	err := backoff.Retry(ctx, c.logger, c.transformPolicy, func() error {
		var err error
		info, err = c.api.TransformURL(ctx, fileID, request)
		return err
	})
	if err != nil {
		return network.TransformInfo{}, err
	}
	return info, nil
}

// DownloadTo resolves a download URL for the file and streams the content to
// a local path.
func (c *Cache) DownloadTo(ctx context.Context, fileID string, dest string) error {
	entry, err := c.Get(ctx, fileID, PurposeDownload, Options{})
	if err != nil {
		return fmt.Errorf("resolve download url: %w", err)
	}
	return network.DownloadFile(ctx, c.downloader, entry.URL, dest)
}

// fresh reports whether the entry can still be served. Public entries have
// no meaningful expiry.
func (c *Cache) fresh(entry Entry) bool {
	return entry.IsPublic || c.now().Before(entry.ExpiresAt)
}

func (c *Cache) fetch(ctx context.Context, fileID string, purpose Purpose, opts Options) (Entry, error) {
	expiry := opts.Expiry
	if expiry == 0 {
		expiry = purpose.expiry()
	}

	var info network.SignedURLInfo
	err := backoff.Retry(ctx, c.logger, c.policy, func() error {
		var err error
		info, err = c.api.SignedURL(ctx, fileID, string(purpose), expiry)
		return err
	})
	if err != nil {
		return Entry{}, err
	}

	return Entry{
		FileID:       fileID,
		Purpose:      purpose,
		URL:          info.URL,
		IsPublic:     info.IsPublic,
		ExpiresAt:    info.ExpiresAt,
		CacheHeaders: info.CacheHeaders,
	}, nil
}

// schedule arms the single-shot refresh timer for a fetched entry, replacing
// any pending timer for the key so two timers never race. Public entries and
// entries with no known expiry are never scheduled. Caller holds c.mu.
func (c *Cache) schedule(key string, entry Entry) {
	if timer, ok := c.timers[key]; ok {
		timer.Stop()
		delete(c.timers, key)
	}

	if c.closed || entry.IsPublic || entry.ExpiresAt.IsZero() {
		return
	}

	delay := entry.ExpiresAt.Sub(c.now()) - c.refreshLead
	if delay < 0 {
		delay = 0
	}

	c.timers[key] = time.AfterFunc(delay, func() {
		c.refresh(entry.FileID, entry.Purpose)
	})
}

// refresh is the timer callback: re-fetch the key before its entry expires.
func (c *Cache) refresh(fileID string, purpose Purpose) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := c.Get(ctx, fileID, purpose, Options{ForceRefresh: true}); err != nil {
		c.logger.Warnf("Scheduled refresh of %s/%s failed: %s", fileID, purpose, err)
	}
}
