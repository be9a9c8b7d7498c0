package scrape

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyConfig controls the plain-HTTP page fetcher.
type CollyConfig struct {
	UserAgent  string
	Timeout    time.Duration
	CookieFile string
}

// CollyFetcher implements PageFetcher with a Colly collector. It is the
// default transport for sources that render server-side.
type CollyFetcher struct {
	cfg       CollyConfig
	collector *colly.Collector
	cookies   []*http.Cookie
}

// NewCollyFetcher builds a CollyFetcher. The cookie file, when configured,
// is loaded eagerly so a bad path fails the job before any fetch.
func NewCollyFetcher(cfg CollyConfig) (*CollyFetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	})
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	var cookies []*http.Cookie
	if cfg.CookieFile != "" {
		var err error
		cookies, err = LoadCookieFile(cfg.CookieFile)
		if err != nil {
			return nil, err
		}
	}

	return &CollyFetcher{cfg: cfg, collector: c, cookies: cookies}, nil
}

// FetchPage executes a single GET and returns the response body.
func (f *CollyFetcher) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	collector := f.collector.Clone()

	if len(f.cookies) > 0 {
		if err := collector.SetCookies(pageURL, f.cookies); err != nil {
			return nil, fmt.Errorf("apply cookies: %w", err)
		}
	}

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("page fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", pageURL, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", pageURL, fetchErr)
		}
		return body, nil
	}
}

// Close is a no-op; the collector holds no long-lived resources.
func (f *CollyFetcher) Close() error {
	return nil
}
