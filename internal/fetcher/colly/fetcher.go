// Package collyfetcher implements the lightweight release page strategy using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/bios-notifier/internal/metrics"
	"github.com/JakeFAU/bios-notifier/internal/releasepage"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// DefaultUserAgent mimics a desktop browser; the vendor rejects bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements tracker.PageFetcher with a plain HTTP GET.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page is what one visit produced.
type page struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch downloads url and extracts the newest release row.
func (f *Fetcher) Fetch(ctx context.Context, url string) (tracker.Release, error) {
	body, err := f.Get(ctx, url)
	if err != nil {
		metrics.ObserveFetch("http", url, string(tracker.FetchKind(err)))
		return tracker.Release{}, err
	}
	rel, err := releasepage.Parse(url, body)
	if err != nil {
		metrics.ObserveFetch("http", url, string(tracker.FetchKind(err)))
		return tracker.Release{}, err
	}
	metrics.ObserveFetch("http", url, "ok")
	return rel, nil
}

// Get returns the raw body of url. HTTP 404 maps to a not_found FetchError,
// other failures to network or timeout.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var result page
	collector := f.buildCollector(ctx, &result)
	if err := f.runCollector(ctx, collector, url, &result); err != nil {
		if ctx.Err() == nil && result.status == http.StatusNotFound {
			return nil, tracker.NewFetchError(tracker.FetchNotFound, url, err)
		}
		return nil, tracker.ClassifyFetchError(url, err)
	}
	return result.body, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, result *page) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.Context = ctx
	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, result *page) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if result.err != nil {
			return fmt.Errorf("colly response failed: %w", result.err)
		}
		if result.status == 0 {
			return errors.New("colly returned no response")
		}
		return nil
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
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
