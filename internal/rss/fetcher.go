// Package rss seeds the remote document store from RSS and Atom feeds.
package rss

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/feedwindow/internal/model"
	"github.com/bryan-buckman/feedwindow/internal/opml"
	"github.com/bryan-buckman/feedwindow/internal/remote"
)

// MinPollingInterval is the minimum allowed interval between seeding runs.
const MinPollingInterval = 15 * time.Minute

// Concurrency settings
const (
	// DefaultWorkers is the number of feeds fetched in parallel.
	DefaultWorkers = 10
	// MaxConcurrencyPerDomain limits parallel requests to any single domain
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum delay between requests to the same domain
	DelayBetweenDomainRequests = 500 * time.Millisecond
)

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
	delay       time.Duration
}

func newDomainLimiter(delay time.Duration) *domainLimiter {
	return &domainLimiter{
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
		delay:       delay,
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if !lastReq.IsZero() {
		if elapsed := time.Since(lastReq); elapsed < dl.delay {
			timer := time.NewTimer(dl.delay - elapsed)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	return u.Host
}

// AuthorWriter stores display info for feed owners. RedisDirectory
// implements it.
type AuthorWriter interface {
	Put(ctx context.Context, ownerID string, snap model.AuthorSnapshot) error
}

// Option configures a Seeder.
type Option func(*Seeder)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(s *Seeder) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMaxPerFeed caps how many items are stored per feed and run.
func WithMaxPerFeed(n int) Option {
	return func(s *Seeder) {
		if n > 0 {
			s.maxPerFeed = n
		}
	}
}

// WithAuthors records each feed's title and image as its owner's display info.
func WithAuthors(w AuthorWriter) Option {
	return func(s *Seeder) { s.authors = w }
}

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Seeder) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDomainDelay overrides DelayBetweenDomainRequests.
func WithDomainDelay(d time.Duration) Option {
	return func(s *Seeder) { s.limiter.delay = d }
}

// Seeder fetches feeds and stores their items as documents under the
// scope of each feed's OPML folder.
type Seeder struct {
	docs       remote.DocumentStore
	authors    AuthorWriter
	parser     *gofeed.Parser
	limiter    *domainLimiter
	logger     *slog.Logger
	workers    int
	maxPerFeed int

	mu    sync.RWMutex
	feeds []opml.FeedEntry
}

// NewSeeder creates a seeder writing to docs.
func NewSeeder(docs remote.DocumentStore, opts ...Option) *Seeder {
	s := &Seeder{
		docs:    docs,
		parser:  gofeed.NewParser(),
		limiter: newDomainLimiter(DelayBetweenDomainRequests),
		logger:  slog.Default(),
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddFeeds registers feeds, ignoring URLs already known. It returns how
// many were new.
func (s *Seeder) AddFeeds(entries ...opml.FeedEntry) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[string]bool, len(s.feeds))
	for _, f := range s.feeds {
		known[f.URL] = true
	}
	added := 0
	for _, e := range entries {
		if e.URL == "" || known[e.URL] {
			continue
		}
		known[e.URL] = true
		s.feeds = append(s.feeds, e)
		added++
	}
	return added
}

// Feeds returns the registered feeds.
func (s *Seeder) Feeds() []opml.FeedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]opml.FeedEntry(nil), s.feeds...)
}

// OwnerID returns the stable owner id for a feed URL.
func OwnerID(feedURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(feedURL)).String()
}

// ToFeedItem converts a parsed entry. It reports false when the entry has
// neither a GUID nor a link to derive an id from.
func ToFeedItem(scope, ownerID string, item *gofeed.Item, now time.Time) (model.FeedItem, bool) {
	id := item.GUID
	if id == "" && item.Link != "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(item.Link)).String()
	}
	if id == "" {
		return model.FeedItem{}, false
	}

	ts := now
	switch {
	case item.PublishedParsed != nil:
		ts = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		ts = *item.UpdatedParsed
	}

	text := strings.TrimSpace(item.Title)
	if text == "" {
		text = strings.TrimSpace(item.Description)
	}

	var media []string
	if item.Image != nil && item.Image.URL != "" {
		media = append(media, item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			media = append(media, enc.URL)
		}
	}

	return model.FeedItem{
		ID:        id,
		OwnerID:   ownerID,
		ScopeKey:  scope,
		Text:      text,
		Timestamp: ts.UTC(),
		MediaRefs: media,
	}, true
}

// SeedFeed fetches one feed and stores its items. Returns the number of
// items written.
func (s *Seeder) SeedFeed(ctx context.Context, feed opml.FeedEntry) (int, error) {
	domain := extractDomain(feed.URL)
	if err := s.limiter.acquire(ctx, domain); err != nil {
		return 0, fmt.Errorf("rate limit cancelled for %s: %w", feed.URL, err)
	}
	defer s.limiter.release(domain)

	parsed, err := s.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return 0, fmt.Errorf("parse feed %s: %w", feed.URL, err)
	}

	scope := feed.Scope()
	owner := OwnerID(feed.URL)
	if s.authors != nil {
		snap := model.AuthorSnapshot{DisplayName: parsed.Title}
		if snap.DisplayName == "" {
			snap.DisplayName = feed.Title
		}
		if parsed.Image != nil {
			snap.AvatarURL = parsed.Image.URL
		}
		if err := s.authors.Put(ctx, owner, snap); err != nil {
			s.logger.WarnContext(ctx, "storing feed author failed", "feed", feed.URL, "error", err)
		}
	}

	now := time.Now()
	written := 0
	for _, it := range parsed.Items {
		if s.maxPerFeed > 0 && written >= s.maxPerFeed {
			break
		}
		item, ok := ToFeedItem(scope, owner, it, now)
		if !ok {
			continue
		}
		doc, err := remote.EncodeItem(item)
		if err != nil {
			s.logger.WarnContext(ctx, "encode item failed", "id", item.ID, "error", err)
			continue
		}
		if err := s.docs.Put(ctx, scope, doc); err != nil {
			return written, fmt.Errorf("store item %s: %w", item.ID, err)
		}
		written++
	}
	return written, nil
}

// FetchResult holds the result of seeding a single feed.
type FetchResult struct {
	URL      string
	NewItems int
	Error    error
}

// SeedAll seeds every registered feed using the worker pool. Returns a map
// of feed URL -> items written; failed feeds are logged and omitted.
func (s *Seeder) SeedAll(ctx context.Context) (map[string]int, error) {
	feeds := s.Feeds()
	results := make(map[string]int)
	if len(feeds) == 0 {
		return results, nil
	}
	s.logger.InfoContext(ctx, "seeding feeds", "feeds", len(feeds), "workers", s.workers)

	var wg sync.WaitGroup
	feedChan := make(chan opml.FeedEntry)
	resultChan := make(chan FetchResult, len(feeds))

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feed := range feedChan {
				count, err := s.SeedFeed(ctx, feed)
				resultChan <- FetchResult{URL: feed.URL, NewItems: count, Error: err}
			}
		}()
	}

	go func() {
		defer close(feedChan)
		for _, feed := range feeds {
			select {
			case <-ctx.Done():
				return
			case feedChan <- feed:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for result := range resultChan {
		if result.Error != nil {
			s.logger.WarnContext(ctx, "feed seeding failed", "feed", result.URL, "error", result.Error)
			continue
		}
		results[result.URL] = result.NewItems
	}
	return results, ctx.Err()
}

// Poller runs SeedAll on an interval.
type Poller struct {
	seeder   *Seeder
	interval time.Duration
	logger   *slog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a background poller. Intervals below
// MinPollingInterval are raised to it.
func NewPoller(seeder *Seeder, interval time.Duration) *Poller {
	if interval < MinPollingInterval {
		interval = MinPollingInterval
	}
	return &Poller{
		seeder:   seeder,
		interval: interval,
		logger:   seeder.logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop. The first run starts immediately.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			results, err := p.seeder.SeedAll(ctx)
			cancel()

			if err != nil {
				p.logger.Warn("poller run failed", "error", err)
			} else {
				total := 0
				for _, c := range results {
					total += c
				}
				p.logger.Info("poller run finished", "items", total, "feeds", len(results))
			}

			select {
			case <-p.stopChan:
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

// Stop stops the poller gracefully.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}
