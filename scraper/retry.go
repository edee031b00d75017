package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-books-spider/config"
)

// retryManager re-submits failed requests with capped exponential backoff.
// Requests are retried as-is, so their context (page kind, listing
// fragment) survives the retry.
type retryManager struct {
	cfg      *config.Config
	metrics  *Metrics
	resubmit func(*colly.Request) error

	mu           sync.Mutex
	idle         *sync.Cond
	ctx          context.Context
	attempts     map[string]int
	pending      map[string]*pendingRetry
	outstanding  int
	totalRetries int
	stopped      bool
}

func newRetryManager(cfg *config.Config, metrics *Metrics) *retryManager {
	rm := &retryManager{
		cfg:      cfg,
		metrics:  metrics,
		ctx:      context.Background(),
		attempts: make(map[string]int),
		pending:  make(map[string]*pendingRetry),
	}
	rm.resubmit = (*colly.Request).Retry
	rm.idle = sync.NewCond(&rm.mu)
	return rm
}

// Schedule arranges a retry of req and reports whether one was scheduled.
func (rm *retryManager) Schedule(req *colly.Request) bool {
	if rm.cfg.MaxRetries == 0 || req == nil || req.URL == nil {
		return false
	}
	url := req.URL.String()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped || rm.ctx.Err() != nil {
		return false
	}

	attempt := rm.attempts[url]
	if attempt >= rm.cfg.MaxRetries {
		return false
	}

	attempt++
	rm.attempts[url] = attempt
	rm.totalRetries++
	rm.metrics.IncRetries()

	if prev, ok := rm.pending[url]; ok && prev.timer.Stop() {
		rm.doneLocked()
	}
	rm.outstanding++
	p := &pendingRetry{req: req}
	p.timer = time.AfterFunc(rm.backoff(attempt), func() {
		rm.fire(url, p)
	})
	rm.pending[url] = p
	return true
}

// pendingRetry is one scheduled resubmission. The timer field is only
// touched under retryManager.mu.
type pendingRetry struct {
	req   *colly.Request
	timer *time.Timer
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (rm *retryManager) fire(url string, p *pendingRetry) {
	defer func() {
		rm.mu.Lock()
		rm.doneLocked()
		rm.mu.Unlock()
	}()

	rm.mu.Lock()
	if rm.pending[url] == p {
		delete(rm.pending, url)
	}
	stopped := rm.stopped
	ctx := rm.ctx
	rm.mu.Unlock()

	if stopped || ctx.Err() != nil {
		return
	}
	if err := rm.resubmit(p.req); err != nil {
		slog.Debug("retry visit failed", slog.String("url", url), slog.Any("error", err))
	}
}

func (rm *retryManager) doneLocked() {
	rm.outstanding--
	if rm.outstanding == 0 {
		rm.idle.Broadcast()
	}
}

// Wait blocks until no retry is pending and reports whether any was.
// Once it returns true the retried requests are tracked by the collector.
func (rm *retryManager) Wait() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.outstanding == 0 {
		return false
	}
	for rm.outstanding > 0 {
		rm.idle.Wait()
	}
	return true
}

// Stop cancels pending retries; later calls to Schedule are no-ops.
func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return
	}

	rm.stopped = true
	for url, p := range rm.pending {
		if p.timer.Stop() {
			rm.doneLocked()
		}
		delete(rm.pending, url)
	}
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}

func (rm *retryManager) SetContext(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		rm.ctx = context.Background()
		return
	}
	rm.ctx = ctx
}
