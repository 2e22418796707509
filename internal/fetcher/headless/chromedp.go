// Package headless renders release pages that need JavaScript using chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/bios-notifier/internal/metrics"
	"github.com/JakeFAU/bios-notifier/internal/releasepage"
	"github.com/JakeFAU/bios-notifier/internal/retry"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// DefaultWaitSelector matches the first cell of the release table.
const DefaultWaitSelector = "table tbody tr td"

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	Attempts          int
	RetryDelay        time.Duration
	ExecPath          string
	NoSandbox         bool
	WaitSelector      string
}

// Fetcher implements tracker.PageFetcher with a fresh headless browser per attempt.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger
	render func(ctx context.Context, url string) (string, error)
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.Attempts < 0 {
		return nil, fmt.Errorf("attempts must be >= 0")
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = DefaultWaitSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{cfg: cfg, logger: logger}
	f.render = f.runHeadless
	return f, nil
}

// Fetch renders url, retrying browser failures only, and parses the release table from the DOM.
func (f *Fetcher) Fetch(ctx context.Context, url string) (tracker.Release, error) {
	attempt := 0
	html, err := retry.Do(ctx, retry.Policy{Attempts: f.cfg.Attempts, Delay: f.cfg.RetryDelay},
		func(ctx context.Context) (string, error) {
			attempt++
			html, err := f.render(ctx, url)
			if err != nil {
				f.logger.Warn("browser attempt failed",
					zap.String("url", url),
					zap.Int("attempt", attempt),
					zap.Error(err))
			}
			return html, err
		})
	if err != nil {
		err = tracker.ClassifyFetchError(url, err)
		metrics.ObserveFetch("browser", url, string(tracker.FetchKind(err)))
		return tracker.Release{}, err
	}
	rel, err := releasepage.Parse(url, []byte(html))
	if err != nil {
		metrics.ObserveFetch("browser", url, string(tracker.FetchKind(err)))
		return tracker.Release{}, err
	}
	metrics.ObserveFetch("browser", url, "ok")
	return rel, nil
}

// runHeadless launches a browser, waits for the release table, and returns the rendered DOM.
// Deferred cancels shut the browser down on every path.
func (f *Fetcher) runHeadless(ctx context.Context, url string) (string, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, f.allocatorOptions()...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()

	var html string
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitVisible(f.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("chromedp run: %w", context.DeadlineExceeded)
		}
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (f *Fetcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if f.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	return opts
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return 45 * time.Second
}
