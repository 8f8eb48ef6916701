package extract

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// FetcherConfig controls the static probe collector.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyFetcher implements Fetcher with a gocolly collector. One base
// collector holds the pooled transport; each fetch runs on a clone so
// per-call hooks never leak between requests.
type CollyFetcher struct {
	cfg  FetcherConfig
	base *colly.Collector
}

// NewCollyFetcher builds a static-probe fetcher.
func NewCollyFetcher(cfg FetcherConfig) *CollyFetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.IgnoreRobotsTxt = true
	return &CollyFetcher{cfg: cfg, base: c}
}

// Fetch executes a single HTTP GET.
func (f *CollyFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		result   Page
		fetchErr error
	)

	collector.OnResponse(func(r *colly.Response) {
		result = Page{
			URL:        url,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			// Keep the status around so a 403 or 503 can be
			// classified as blocked rather than unreachable.
			result.StatusCode = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return Page{}, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			if result.StatusCode >= 400 {
				return result, fmt.Errorf("probe status %d: %w", result.StatusCode, err)
			}
			return Page{}, fmt.Errorf("probe visit failed: %w", err)
		}
		if fetchErr != nil {
			if result.StatusCode >= 400 {
				return result, fmt.Errorf("probe status %d: %w", result.StatusCode, fetchErr)
			}
			return Page{}, fmt.Errorf("probe response failed: %w", fetchErr)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
