// Package fetcher routes release page requests to the strategy a host needs.
package fetcher

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// DefaultAltHost serves release pages that only render in a browser.
const DefaultAltHost = "pg.asrock.com"

var errNoBrowser = errors.New("browser strategy not configured")

// Router implements tracker.PageFetcher by picking a strategy per host.
type Router struct {
	primary  tracker.PageFetcher
	browser  tracker.PageFetcher
	altHosts map[string]struct{}
}

// NewRouter builds a Router. browser may be nil, in which case alternate-host
// pages fail with an unavailable FetchError. Empty altHosts means DefaultAltHost.
func NewRouter(primary, browser tracker.PageFetcher, altHosts ...string) *Router {
	if len(altHosts) == 0 {
		altHosts = []string{DefaultAltHost}
	}
	hosts := make(map[string]struct{}, len(altHosts))
	for _, h := range altHosts {
		hosts[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return &Router{primary: primary, browser: browser, altHosts: hosts}
}

// UsesBrowser reports whether rawURL is routed to the browser strategy.
func (r *Router) UsesBrowser(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := r.altHosts[strings.ToLower(u.Hostname())]
	return ok
}

// Fetch delegates to the strategy serving rawURL's host.
func (r *Router) Fetch(ctx context.Context, rawURL string) (tracker.Release, error) {
	if r.UsesBrowser(rawURL) {
		if r.browser == nil {
			return tracker.Release{}, tracker.NewFetchError(tracker.FetchUnavailable, rawURL, errNoBrowser)
		}
		return r.browser.Fetch(ctx, rawURL)
	}
	return r.primary.Fetch(ctx, rawURL)
}
