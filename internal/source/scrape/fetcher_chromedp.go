package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromedpConfig controls the browser-backed page fetcher.
type ChromedpConfig struct {
	// Headed runs the browser with a visible UI, used to debug sources with
	// anti-bot defenses. Normal runs are headless.
	Headed            bool
	UserAgent         string
	NavigationTimeout time.Duration
	CookieFile        string
}

// ChromedpFetcher implements PageFetcher with a real browser, for sources
// that require JavaScript rendering or defeat plain HTTP clients.
type ChromedpFetcher struct {
	cfg         ChromedpConfig
	allocator   context.Context
	allocCancel context.CancelFunc
	cookies     []*networkCookie
}

type networkCookie struct {
	name, value, domain, path string
	secure, httpOnly          bool
	expires                   time.Time
}

// NewChromedpFetcher creates a browser fetcher. The browser process is
// allocated lazily per fetch; only the allocator lives for the adapter's
// lifetime.
func NewChromedpFetcher(cfg ChromedpConfig) (*ChromedpFetcher, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headed {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &ChromedpFetcher{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}

	if cfg.CookieFile != "" {
		parsed, err := LoadCookieFile(cfg.CookieFile)
		if err != nil {
			allocCancel()
			return nil, err
		}
		for _, c := range parsed {
			f.cookies = append(f.cookies, &networkCookie{
				name:     c.Name,
				value:    c.Value,
				domain:   c.Domain,
				path:     c.Path,
				secure:   c.Secure,
				httpOnly: c.HttpOnly,
				expires:  c.Expires,
			})
		}
	}
	return f, nil
}

// FetchPage navigates the browser to the URL and returns the rendered DOM.
func (f *ChromedpFetcher) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	// Tie the browser task to the caller's context.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	var html string
	actions := []chromedp.Action{
		f.sessionSetupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return []byte(html), nil
}

func (f *ChromedpFetcher) sessionSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		for _, c := range f.cookies {
			setCookie := network.SetCookie(c.name, c.value).
				WithDomain(c.domain).
				WithPath(c.path).
				WithSecure(c.secure).
				WithHTTPOnly(c.httpOnly)
			if !c.expires.IsZero() {
				expires := cdp.TimeSinceEpoch(c.expires)
				setCookie = setCookie.WithExpires(&expires)
			}
			if err := setCookie.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.name, err)
			}
		}
		return nil
	})
}

// Close tears down the browser allocator.
func (f *ChromedpFetcher) Close() error {
	f.allocCancel()
	return nil
}
