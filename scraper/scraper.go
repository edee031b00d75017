// Package scraper drives the catalog crawl: listing pages fan out into detail
// requests and the next listing page, detail pages become catalog entries.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-books-spider/config"
	"github.com/aluiziolira/go-books-spider/models"
	"github.com/aluiziolira/go-books-spider/parser"
	"github.com/aluiziolira/go-books-spider/pipeline"
)

// Request context keys and page kinds.
const (
	kindKey     = "page_kind"
	fragmentKey = "listing_fragment"
	startKey    = "start"

	kindListing = "listing"
	kindDetail  = "detail"
)

// Sink receives extracted entries. *pipeline.Pipeline implements it.
type Sink interface {
	Process(entries ...*models.CatalogEntry) error
}

// Scraper wraps the colly collector and retry logic for the catalog site.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	retry     *retryManager
	Metrics   *Metrics

	requestCount int64
	errorCount   int64
	listingPages int64
	detailPages  int64
	skippedItems int64
	entryCount   int64

	mu               sync.Mutex
	failedURLs       []string
	errorsByType     map[string]int
	extractionErrors map[string]int

	handlersOnce sync.Once
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Scraper{
		cfg:              cfg,
		collector:        collector,
		errorsByType:     make(map[string]int),
		extractionErrors: make(map[string]int),
		Metrics:          NewMetrics(),
	}
	s.retry = newRetryManager(cfg, s.Metrics)
	return s, nil
}

// Run crawls from the catalog root until no listing or detail request is
// outstanding, streaming entries into sink.
func (s *Scraper) Run(ctx context.Context, sink Sink) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.retry.SetContext(ctx)
	s.configureHandlers(ctx, sink)

	start := time.Now()
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.retry.Stop()
		case <-done:
		}
	}()

	if err := s.collector.Request(http.MethodGet, s.cfg.BaseURL, nil, newRequestContext(kindListing, nil), nil); err != nil {
		return nil, fmt.Errorf("initial visit: %w", err)
	}

	for {
		s.collector.Wait()
		if !s.retry.Wait() {
			break
		}
	}
	s.retry.Stop()

	return &models.ScraperResult{
		StartTime:        start,
		EndTime:          time.Now(),
		TotalCount:       int(atomic.LoadInt64(&s.entryCount)),
		ErrorCount:       int(atomic.LoadInt64(&s.errorCount)),
		FailedURLs:       s.snapshotFailedURLs(),
		ErrorsByType:     s.snapshot(s.errorsByType),
		RetryCount:       s.retry.TotalRetries(),
		RequestCount:     int(atomic.LoadInt64(&s.requestCount)),
		ListingPages:     int(atomic.LoadInt64(&s.listingPages)),
		DetailPages:      int(atomic.LoadInt64(&s.detailPages)),
		SkippedItems:     int(atomic.LoadInt64(&s.skippedItems)),
		ExtractionErrors: s.snapshot(s.extractionErrors),
	}, nil
}

func (s *Scraper) configureHandlers(ctx context.Context, sink Sink) {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			if ctx.Err() != nil {
				r.Abort()
				return
			}
			r.Ctx.Put(startKey, time.Now())
			current := atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.IncRequest(pageKind(r.Ctx))
			if current%50 == 0 {
				slog.Debug("spider request progress",
					slog.Int64("requests", current),
					slog.Int64("listing_pages", atomic.LoadInt64(&s.listingPages)),
					slog.String("url", r.URL.String()),
				)
			}
		})

		s.collector.OnResponse(func(r *colly.Response) {
			if start, ok := r.Request.Ctx.GetAny(startKey).(time.Time); ok {
				s.Metrics.ObserveDuration(pageKind(r.Request.Ctx), time.Since(start))
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			atomic.AddInt64(&s.errorCount, 1)
			statusCode := 0
			if r != nil {
				statusCode = r.StatusCode
			}
			classified := classifyError(err, statusCode)
			category := errorTypeLabel(classified)

			s.mu.Lock()
			s.errorsByType[category]++
			s.mu.Unlock()

			var req *colly.Request
			target := ""
			if r != nil && r.Request != nil && r.Request.URL != nil {
				req = r.Request
				target = req.URL.String()
			}
			slog.Error("request error",
				slog.String("url", target),
				slog.String("page_kind", pageKindOf(req)),
				slog.String("category", category),
				slog.Any("error", err),
			)
			s.Metrics.IncError(category)

			if retryable(classified) && s.retry.Schedule(req) {
				return
			}
			s.mu.Lock()
			s.failedURLs = append(s.failedURLs, target)
			s.mu.Unlock()
		})

		s.collector.OnHTML("html", func(e *colly.HTMLElement) {
			switch pageKind(e.Request.Ctx) {
			case kindDetail:
				s.handleDetail(e, sink)
			default:
				s.handleListing(ctx, e)
			}
		})
	})
}

// handleListing follows every item card to its detail page and the pager to
// the next listing page.
func (s *Scraper) handleListing(ctx context.Context, e *colly.HTMLElement) {
	pageNumber := atomic.AddInt64(&s.listingPages, 1)
	if ctx.Err() != nil {
		return
	}

	page := parser.FromSelection(e.DOM)
	base := pageBase(e.Request)

	followed := 0
	for fragment := range parser.ExtractListingFragments(page, base) {
		followed++
		s.visit(fragment.DetailURL, newRequestContext(kindDetail, &fragment))
	}

	if skipped := parser.CountItemCards(page) - followed; skipped > 0 {
		atomic.AddInt64(&s.skippedItems, int64(skipped))
		s.Metrics.AddSkipped(skipped)
		slog.Debug("listing cards without detail link",
			slog.String("url", e.Request.URL.String()),
			slog.Int("skipped", skipped),
		)
	}

	if pageNumber >= int64(s.cfg.MaxPages) {
		slog.Debug("max listing pages reached", slog.Int("max_pages", s.cfg.MaxPages))
		return
	}
	next, ok := parser.NextPageURL(page, base)
	if !ok {
		slog.Debug("last listing page", slog.String("url", e.Request.URL.String()))
		return
	}
	s.visit(next, newRequestContext(kindListing, nil))
}

// handleDetail turns a detail page and its carried fragment into one entry.
// Extraction failures drop the item and never stop the crawl.
func (s *Scraper) handleDetail(e *colly.HTMLElement, sink Sink) {
	atomic.AddInt64(&s.detailPages, 1)
	target := e.Request.URL.String()

	fragment, ok := e.Request.Ctx.GetAny(fragmentKey).(*parser.ListingFragment)
	if !ok || fragment == nil {
		s.recordExtractionError("missing_fragment")
		slog.Error("detail page without listing fragment", slog.String("url", target))
		return
	}

	entry, err := parser.ExtractDetail(*fragment, parser.FromSelection(e.DOM))
	if err != nil {
		label := parser.ErrorTypeLabel(err)
		s.recordExtractionError(label)
		slog.Warn("dropping catalog entry",
			slog.String("url", target),
			slog.String("error_type", label),
			slog.Any("error", err),
		)
		return
	}
	if err := parser.ValidateEntry(entry); err != nil {
		s.recordExtractionError("invalid_entry")
		slog.Warn("dropping incomplete catalog entry",
			slog.String("url", target),
			slog.String("error_type", "invalid_entry"),
			slog.Any("error", err),
		)
		return
	}

	atomic.AddInt64(&s.entryCount, 1)
	s.Metrics.IncEntries()
	if err := sink.Process(entry); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
		slog.Error("pipeline process error", slog.String("url", target), slog.Any("error", err))
	}
}

func (s *Scraper) visit(target string, reqCtx *colly.Context) {
	err := s.collector.Request(http.MethodGet, target, nil, reqCtx, nil)
	switch {
	case err == nil:
	case errors.Is(err, colly.ErrAlreadyVisited):
		slog.Debug("already visited", slog.String("url", target))
	default:
		slog.Warn("visit rejected", slog.String("url", target), slog.Any("error", err))
	}
}

func (s *Scraper) recordExtractionError(label string) {
	s.mu.Lock()
	s.extractionErrors[label]++
	s.mu.Unlock()
	s.Metrics.IncExtractionError(label)
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshot(counts map[string]int) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}

// newRequestContext gives every request its own context so a detail
// request carries exactly one fragment.
func newRequestContext(kind string, fragment *parser.ListingFragment) *colly.Context {
	c := colly.NewContext()
	c.Put(kindKey, kind)
	if fragment != nil {
		c.Put(fragmentKey, fragment)
	}
	return c
}

func pageKind(c *colly.Context) string {
	if c == nil {
		return kindListing
	}
	if kind := c.Get(kindKey); kind != "" {
		return kind
	}
	return kindListing
}

func pageKindOf(r *colly.Request) string {
	if r == nil {
		return ""
	}
	return pageKind(r.Ctx)
}

// pageBase honours a <base href> on the page, as colly does.
func pageBase(r *colly.Request) *url.URL {
	if abs := r.AbsoluteURL(""); abs != "" {
		if u, err := url.Parse(abs); err == nil {
			return u
		}
	}
	return r.URL
}
