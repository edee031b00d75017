package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-books-spider/config"
	"github.com/aluiziolira/go-books-spider/models"
	"github.com/aluiziolira/go-books-spider/pipeline"
)

const testBaseURL = "http://example.test/"

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.MaxPages = 10
	cfg.Parallelism = 4
	cfg.MaxRetries = 0
	cfg.PipelineBufferSize = 64
	cfg.BatchSize = 8
	return cfg
}

func mustRequest(t *testing.T, raw string) *colly.Request {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return &colly.Request{URL: u, Ctx: colly.NewContext()}
}

func TestRetryManagerScheduleRespectsLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Hour
	cfg.RetryBackoffMax = time.Hour

	rm := newRetryManager(cfg, NewMetrics())
	req := mustRequest(t, "http://example.com/page")

	if !rm.Schedule(req) {
		t.Fatalf("first retry should be scheduled")
	}
	if !rm.Schedule(req) {
		t.Fatalf("second retry should be scheduled")
	}
	if rm.Schedule(req) {
		t.Fatalf("third retry should not be scheduled")
	}

	rm.Stop()
	if got := rm.TotalRetries(); got != 2 {
		t.Fatalf("total retries = %d, want 2", got)
	}
	if rm.Wait() {
		t.Fatalf("no retry should be pending after stop")
	}
	if rm.Schedule(mustRequest(t, "http://example.com/other")) {
		t.Fatalf("schedule after stop should be refused")
	}
}

func TestRetryManagerDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 0
	rm := newRetryManager(cfg, nil)
	if rm.Schedule(mustRequest(t, "http://example.com/page")) {
		t.Fatalf("retries disabled, nothing should be scheduled")
	}
	if rm.Schedule(nil) {
		t.Fatalf("nil request should not be scheduled")
	}
}

func TestRetryManagerRefusesAfterCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	rm := newRetryManager(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rm.SetContext(ctx)
	if rm.Schedule(mustRequest(t, "http://example.com/page")) {
		t.Fatalf("cancelled context should refuse retries")
	}
}

func TestRetryManagerFiresAndForgetsPending(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryBackoff = time.Nanosecond
	cfg.RetryBackoffMax = time.Nanosecond

	rm := newRetryManager(cfg, nil)
	var resubmitted int32
	rm.resubmit = func(*colly.Request) error {
		atomic.AddInt32(&resubmitted, 1)
		return nil
	}

	const n = 50
	for i := 0; i < n; i++ {
		if !rm.Schedule(mustRequest(t, fmt.Sprintf("http://example.com/page/%d", i))) {
			t.Fatalf("retry %d should be scheduled", i)
		}
	}

	if !rm.Wait() {
		t.Fatalf("retries should have been pending")
	}
	if got := atomic.LoadInt32(&resubmitted); got != n {
		t.Fatalf("resubmitted = %d, want %d", got, n)
	}

	rm.mu.Lock()
	left := len(rm.pending)
	rm.mu.Unlock()
	if left != 0 {
		t.Fatalf("pending entries after firing = %d, want 0", left)
	}
	if rm.Wait() {
		t.Fatalf("nothing should be pending after the retries fired")
	}
}

func TestRetryManagerBackoffCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	rm := newRetryManager(cfg, NewMetrics())

	if delay := rm.backoff(1); delay != 200*time.Millisecond {
		t.Fatalf("first delay = %v, want 200ms", delay)
	}
	if delay := rm.backoff(2); delay != 400*time.Millisecond {
		t.Fatalf("second delay = %v, want 400ms", delay)
	}
	if delay := rm.backoff(4); delay != cfg.RetryBackoffMax {
		t.Fatalf("delay %v, want cap %v", delay, cfg.RetryBackoffMax)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: errors.New("Service Unavailable"), statusCode: http.StatusServiceUnavailable, expected: "other"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if retryable(classifyError(nil, http.StatusNotFound)) {
		t.Fatalf("404 should not be retried")
	}
	if !retryable(classifyError(nil, http.StatusTooManyRequests)) {
		t.Fatalf("429 should be retried")
	}
	if !retryable(classifyError(context.DeadlineExceeded, 0)) {
		t.Fatalf("timeouts should be retried")
	}
}

type collectingWriter struct {
	mu      sync.Mutex
	entries []*models.CatalogEntry
}

func (cw *collectingWriter) Write(entries []*models.CatalogEntry) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.entries = append(cw.entries, entries...)
	return nil
}

func (cw *collectingWriter) Close() error {
	return nil
}

func (cw *collectingWriter) Validate() error {
	return nil
}

func (cw *collectingWriter) Count() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return len(cw.entries)
}

func (cw *collectingWriter) ByUPC(upc string) *models.CatalogEntry {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	for _, e := range cw.entries {
		if e.UPC == upc {
			return e
		}
	}
	return nil
}

type listingItem struct {
	title  string
	href   string
	price  string
	rating string
}

func buildListingPage(items []listingItem, next string) string {
	var b strings.Builder
	b.WriteString("<html><body><section><ol class=\"row\">")
	for _, item := range items {
		b.WriteString("<li><article class=\"product_pod\">")
		fmt.Fprintf(&b, "<p class=\"star-rating %s\"></p>", item.rating)
		if item.href != "" {
			fmt.Fprintf(&b, "<h3><a href=\"%s\" title=\"%s\">%s</a></h3>", item.href, item.title, item.title)
		} else {
			fmt.Fprintf(&b, "<h3><a title=\"%s\">%s</a></h3>", item.title, item.title)
		}
		fmt.Fprintf(&b, "<p class=\"price_color\">%s</p>", item.price)
		b.WriteString("</article></li>")
	}
	b.WriteString("</ol>")
	if next != "" {
		fmt.Fprintf(&b, "<ul class=\"pager\"><li class=\"next\"><a href=\"%s\">next</a></li></ul>", next)
	}
	b.WriteString("</section></body></html>")
	return b.String()
}

func buildDetailPage(category, upc string, stock int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<ul class=\"breadcrumb\"><li><a href=\"/\">Home</a></li><li><a href=\"/books\">Books</a></li><li><a href=\"/c\">%s</a></li><li class=\"active\">x</li></ul>", category)
	fmt.Fprintf(&b, "<p class=\"instock availability\">In stock (%d available)</p>", stock)
	b.WriteString("<div id=\"product_description\"><h2>Product Description</h2></div><p>A fine book.</p>")
	if upc != "" {
		fmt.Fprintf(&b, "<table class=\"table table-striped\"><tr><th>UPC</th><td>%s</td></tr></table>", upc)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func newTestScraper(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport) *Scraper {
	t.Helper()
	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.collector.WithTransport(transport)
	return s
}

func runCrawl(t *testing.T, ctx context.Context, s *Scraper, cfg *config.Config) (*models.ScraperResult, *collectingWriter) {
	t.Helper()
	writer := &collectingWriter{}
	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(2)

	result, err := s.Run(ctx, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}
	return result, writer
}

// twoPageCatalog registers a catalog whose first page has one card without a
// detail link.
func twoPageCatalog(transport *httpmock.MockTransport) {
	page1 := buildListingPage([]listingItem{
		{title: "A Light in the Attic", href: "catalogue/a-light-in-the-attic_1000/index.html", price: "£51.77", rating: "Three"},
		{title: "Unavailable", price: "£10.00", rating: "One"},
	}, "catalogue/page-2.html")
	page2 := buildListingPage([]listingItem{
		{title: "Tipping the Velvet", href: "tipping-the-velvet_999/index.html", price: "Â£53.74", rating: "One"},
	}, "")

	transport.RegisterResponder("GET", testBaseURL, htmlResponder(page1))
	transport.RegisterResponder("GET", testBaseURL+"catalogue/page-2.html", htmlResponder(page2))
	transport.RegisterResponder("GET", testBaseURL+"catalogue/a-light-in-the-attic_1000/index.html",
		htmlResponder(buildDetailPage("Poetry", "a897fe39b1053632", 22)))
	transport.RegisterResponder("GET", testBaseURL+"catalogue/tipping-the-velvet_999/index.html",
		htmlResponder(buildDetailPage("Historical Fiction", "90fa61229261140a", 20)))
}

func TestScraperTwoPageCatalog(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	twoPageCatalog(transport)

	s := newTestScraper(t, cfg, transport)
	result, writer := runCrawl(t, context.Background(), s, cfg)

	if got := writer.Count(); got != 2 {
		t.Fatalf("entries=%d, want 2 (requests=%d errors=%d failed=%v)", got, result.RequestCount, result.ErrorCount, result.FailedURLs)
	}
	if result.ListingPages != 2 || result.DetailPages != 2 || result.SkippedItems != 1 {
		t.Fatalf("listing=%d detail=%d skipped=%d, want 2/2/1", result.ListingPages, result.DetailPages, result.SkippedItems)
	}
	if result.TotalCount != 2 || result.RequestCount != 4 {
		t.Fatalf("total=%d requests=%d, want 2/4", result.TotalCount, result.RequestCount)
	}

	calls := transport.GetCallCountInfo()
	for _, u := range []string{
		testBaseURL,
		testBaseURL + "catalogue/page-2.html",
		testBaseURL + "catalogue/a-light-in-the-attic_1000/index.html",
		testBaseURL + "catalogue/tipping-the-velvet_999/index.html",
	} {
		if got := calls["GET "+u]; got != 1 {
			t.Fatalf("calls to %s = %d, want 1", u, got)
		}
	}

	attic := writer.ByUPC("a897fe39b1053632")
	if attic == nil {
		t.Fatalf("expected entry for a897fe39b1053632")
	}
	if attic.Title != "A Light in the Attic" || attic.Price != 51.77 || attic.Rating != 3 {
		t.Fatalf("unexpected entry: %+v", attic)
	}
	if attic.Category != "Poetry" || attic.StockCount == nil || *attic.StockCount != 22 {
		t.Fatalf("unexpected detail fields: %+v", attic)
	}

	velvet := writer.ByUPC("90fa61229261140a")
	if velvet == nil || velvet.Price != 53.74 || velvet.Rating != 1 || velvet.Title != "Tipping the Velvet" {
		t.Fatalf("unexpected second entry: %+v", velvet)
	}

	if got := testutil.ToFloat64(s.Metrics.EntriesExtractedTotal); got != 2 {
		t.Fatalf("entries metric = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.Metrics.SkippedItemsTotal); got != 1 {
		t.Fatalf("skipped metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.Metrics.RequestsTotal.WithLabelValues(kindDetail)); got != 2 {
		t.Fatalf("detail requests metric = %v, want 2", got)
	}
}

func TestScraperMaxPagesStopsPagination(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 1
	transport := httpmock.NewMockTransport()
	twoPageCatalog(transport)

	s := newTestScraper(t, cfg, transport)
	result, writer := runCrawl(t, context.Background(), s, cfg)

	if result.ListingPages != 1 {
		t.Fatalf("listing pages = %d, want 1", result.ListingPages)
	}
	if got := writer.Count(); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}
	if got := transport.GetCallCountInfo()["GET "+testBaseURL+"catalogue/page-2.html"]; got != 0 {
		t.Fatalf("page 2 fetched %d times, want 0", got)
	}
}

func TestScraperExtractionFailureDropsOnlyThatItem(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()

	page := buildListingPage([]listingItem{
		{title: "No UPC", href: "catalogue/no-upc_1/index.html", price: "£10.00", rating: "Two"},
		{title: "Bad Rating", href: "catalogue/bad-rating_2/index.html", price: "£11.00", rating: "Eleven"},
		{title: "Fine", href: "catalogue/fine_3/index.html", price: "£12.00", rating: "Five"},
		{title: "", href: "catalogue/untitled_4/index.html", price: "£13.00", rating: "Four"},
	}, "")
	transport.RegisterResponder("GET", testBaseURL, htmlResponder(page))
	transport.RegisterResponder("GET", testBaseURL+"catalogue/no-upc_1/index.html", htmlResponder(buildDetailPage("Travel", "", 1)))
	transport.RegisterResponder("GET", testBaseURL+"catalogue/bad-rating_2/index.html", htmlResponder(buildDetailPage("Travel", "bbbb", 2)))
	transport.RegisterResponder("GET", testBaseURL+"catalogue/fine_3/index.html", htmlResponder(buildDetailPage("Travel", "cccc", 3)))
	transport.RegisterResponder("GET", testBaseURL+"catalogue/untitled_4/index.html", htmlResponder(buildDetailPage("Travel", "dddd", 4)))

	s := newTestScraper(t, cfg, transport)
	result, writer := runCrawl(t, context.Background(), s, cfg)

	if got := writer.Count(); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}
	if writer.ByUPC("cccc") == nil {
		t.Fatalf("expected the valid entry to be written")
	}
	if result.ExtractionErrors["missing_identifier"] != 1 || result.ExtractionErrors["unknown_rating"] != 1 {
		t.Fatalf("extraction errors = %v", result.ExtractionErrors)
	}
	if result.ExtractionErrors["invalid_entry"] != 1 {
		t.Fatalf("untitled entry should count as invalid_entry, got %v", result.ExtractionErrors)
	}
	if result.DetailPages != 4 || result.TotalCount != 1 {
		t.Fatalf("detail pages = %d total = %d, want 4/1", result.DetailPages, result.TotalCount)
	}
	if got := testutil.ToFloat64(s.Metrics.ExtractionErrorsTotal.WithLabelValues("missing_identifier")); got != 1 {
		t.Fatalf("missing_identifier metric = %v, want 1", got)
	}
}

func TestScraperRetryKeepsFragment(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.RetryBackoffMax = 20 * time.Millisecond

	transport := httpmock.NewMockTransport()
	page := buildListingPage([]listingItem{
		{title: "Soumission", href: "catalogue/soumission_998/index.html", price: "£50.10", rating: "One"},
	}, "")
	transport.RegisterResponder("GET", testBaseURL, htmlResponder(page))

	var attempts int32
	detail := buildDetailPage("Fiction", "6957f44c3847a760", 20)
	transport.RegisterResponder("GET", testBaseURL+"catalogue/soumission_998/index.html",
		func(req *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
			}
			resp := httpmock.NewStringResponse(http.StatusOK, detail)
			resp.Header.Set("Content-Type", "text/html")
			return resp, nil
		})

	s := newTestScraper(t, cfg, transport)
	result, writer := runCrawl(t, context.Background(), s, cfg)

	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Fatalf("detail attempts = %d, want 2", got)
	}
	if result.RetryCount != 1 {
		t.Fatalf("retries = %d, want 1", result.RetryCount)
	}
	entry := writer.ByUPC("6957f44c3847a760")
	if entry == nil {
		t.Fatalf("expected retried detail page to produce an entry")
	}
	if entry.Title != "Soumission" || entry.Price != 50.10 {
		t.Fatalf("fragment lost across retry: %+v", entry)
	}
	if len(result.FailedURLs) != 0 {
		t.Fatalf("failed urls = %v, want none", result.FailedURLs)
	}
}

func TestScraperHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxPages = 1
			cfg.Parallelism = 1

			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", cfg.BaseURL, httpmock.NewStringResponder(tt.status, ""))

			s := newTestScraper(t, cfg, transport)
			result, writer := runCrawl(t, context.Background(), s, cfg)

			if got := result.ErrorsByType[tt.expected]; got == 0 {
				t.Fatalf("expected %q classification for status %d, got %v", tt.expected, tt.status, result.ErrorsByType)
			}
			if len(result.FailedURLs) != 1 {
				t.Fatalf("failed urls = %v, want the seed", result.FailedURLs)
			}
			if writer.Count() != 0 {
				t.Fatalf("no entries expected")
			}
		})
	}
}

func TestScraperCancelledContextIssuesNoRequests(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	twoPageCatalog(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScraper(t, cfg, transport)
	result, writer := runCrawl(t, ctx, s, cfg)

	if result.RequestCount != 0 || writer.Count() != 0 {
		t.Fatalf("requests=%d entries=%d, want 0/0", result.RequestCount, writer.Count())
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("transport calls = %d, want 0", got)
	}
}

func TestPageKindDefaultsToListing(t *testing.T) {
	if got := pageKind(nil); got != kindListing {
		t.Fatalf("pageKind(nil) = %q", got)
	}
	if got := pageKind(colly.NewContext()); got != kindListing {
		t.Fatalf("pageKind(empty) = %q", got)
	}
	if got := pageKind(newRequestContext(kindDetail, nil)); got != kindDetail {
		t.Fatalf("pageKind(detail) = %q", got)
	}
}

type benchWriter struct {
	mu    sync.Mutex
	count int
}

func (bw *benchWriter) Write(entries []*models.CatalogEntry) error {
	bw.mu.Lock()
	bw.count += len(entries)
	bw.mu.Unlock()
	return nil
}

func (bw *benchWriter) Close() error {
	return nil
}

func (bw *benchWriter) Validate() error {
	return nil
}

func BenchmarkPipeline_Throughput(b *testing.B) {
	cfg := config.DefaultConfig()
	cfg.PipelineBufferSize = 1024
	cfg.BatchSize = 64
	cfg.DedupeMaxSize = 5000000

	for _, workers := range []int{4, 8, 16, 32} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			writer := &benchWriter{}
			p := pipeline.NewPipeline(context.Background(), writer, cfg)
			p.Start(workers)

			scrapedAt := time.Unix(0, 0)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				entry := &models.CatalogEntry{
					Title:       "Benchmark Book",
					Price:       10,
					Rating:      2,
					Description: "No description available",
					UPC:         fmt.Sprintf("upc-%d", i),
					URL:         fmt.Sprintf("http://example.test/book/%d", i),
					ScrapedAt:   scrapedAt,
				}
				if err := p.Process(entry); err != nil {
					b.Fatalf("process: %v", err)
				}
			}
			b.StopTimer()
			if err := p.Close(); err != nil {
				b.Fatalf("close: %v", err)
			}
			elapsed := b.Elapsed().Seconds()
			if elapsed > 0 {
				b.ReportMetric(float64(b.N)/elapsed, "items/sec")
			}
		})
	}
}
