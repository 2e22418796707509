// Package discovery onboards models that appear in the vendor catalog but are not tracked yet.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/bios-notifier/internal/metrics"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// Defaults for the vendor catalog.
const (
	DefaultCatalogURL  = "https://www.asrock.com/mb/"
	DefaultPrimaryBase = "https://www.asrock.com"
	DefaultAltBase     = "https://pg.asrock.com"
)

// DefaultSockets is the socket allow-list.
var DefaultSockets = []string{"1700", "1851", "am4", "am5"}

var whitespace = regexp.MustCompile(`\s`)

// ListingFetcher downloads the raw catalog page.
type ListingFetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Config controls Discoverer behavior.
type Config struct {
	CatalogURL  string
	PrimaryBase string
	AltBase     string
	Sockets     []string
}

// Discoverer diffs the vendor catalog against known models.
type Discoverer struct {
	store    tracker.ModelStore
	snapshot tracker.Snapshot
	listing  ListingFetcher
	pages    tracker.PageFetcher
	pacer    tracker.Pacer
	ids      tracker.IDGenerator
	clock    tracker.Clock
	cfg      Config
	sockets  map[string]struct{}
	logger   *zap.Logger
}

// New constructs a Discoverer. snapshot and pacer may be nil.
func New(
	store tracker.ModelStore,
	snapshot tracker.Snapshot,
	listing ListingFetcher,
	pages tracker.PageFetcher,
	pacer tracker.Pacer,
	ids tracker.IDGenerator,
	clock tracker.Clock,
	cfg Config,
	logger *zap.Logger,
) *Discoverer {
	if cfg.CatalogURL == "" {
		cfg.CatalogURL = DefaultCatalogURL
	}
	if cfg.PrimaryBase == "" {
		cfg.PrimaryBase = DefaultPrimaryBase
	}
	if cfg.AltBase == "" {
		cfg.AltBase = DefaultAltBase
	}
	if len(cfg.Sockets) == 0 {
		cfg.Sockets = DefaultSockets
	}
	sockets := make(map[string]struct{}, len(cfg.Sockets))
	for _, s := range cfg.Sockets {
		sockets[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		store:    store,
		snapshot: snapshot,
		listing:  listing,
		pages:    pages,
		pacer:    pacer,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		sockets:  sockets,
		logger:   logger.Named(tracker.StageDiscovery),
	}
}

// Name identifies the stage.
func (d *Discoverer) Name() string {
	return tracker.StageDiscovery
}

// Run onboards every allowed catalog entry that is neither stored nor in the snapshot.
func (d *Discoverer) Run(ctx context.Context) (tracker.Summary, error) {
	summary := tracker.Summary{
		Stage:     tracker.StageDiscovery,
		Title:     "New Model Discovery",
		StartedAt: d.clock.Now(),
	}
	finish := func(err error) (tracker.Summary, error) {
		summary.FinishedAt = d.clock.Now()
		if err != nil {
			summary.RunError = err.Error()
		}
		return summary, err
	}

	body, err := d.listing.Get(ctx, d.cfg.CatalogURL)
	if err != nil {
		return finish(fmt.Errorf("fetch catalog: %w", err))
	}
	candidates, err := ParseListing(body)
	if err != nil {
		return finish(fmt.Errorf("parse catalog: %w", err))
	}
	stored, err := d.store.GetModels(ctx)
	if err != nil {
		return finish(fmt.Errorf("load models: %w", err))
	}
	var snapped []tracker.Model
	if d.snapshot != nil {
		if snapped, err = d.snapshot.Load(ctx); err != nil {
			d.logger.Warn("snapshot unreadable, using store only", zap.Error(err))
			snapped = nil
		}
	}

	known := make(map[string]struct{}, len(stored)+len(snapped))
	for _, m := range stored {
		known[m.Name] = struct{}{}
	}
	for _, m := range snapped {
		known[m.Name] = struct{}{}
	}

	var added []tracker.Model
	for _, c := range candidates {
		if _, ok := d.sockets[strings.ToLower(c.Socket)]; !ok {
			continue
		}
		summary.Total++
		if _, ok := known[c.Name]; ok {
			summary.Skipped++
			continue
		}
		known[c.Name] = struct{}{}

		m, err := d.onboard(ctx, c)
		if ctx.Err() != nil {
			return finish(fmt.Errorf("discovery interrupted: %w", ctx.Err()))
		}
		if m.ID == "" {
			return finish(err)
		}
		if err != nil {
			summary.AddError(m.ID, m.Name, err)
		}
		added = append(added, m)
		summary.Details = append(summary.Details, tracker.Detail{
			ID:         m.ID,
			Model:      m.Name,
			NewVersion: m.HeldVersion,
			NewDate:    m.HeldDate.String(),
			Action:     "added",
		})
	}
	summary.Succeeded = len(added)

	if len(added) > 0 {
		if err := d.store.SaveModels(ctx, added); err != nil {
			return finish(fmt.Errorf("persist models: %w", err))
		}
		metrics.ObserveDiscovered(len(added))
	}

	if d.snapshot != nil {
		if err := d.snapshot.Save(ctx, tracker.MergeModels(tracker.MergeModels(snapped, stored), added)); err != nil {
			d.logger.Warn("snapshot rewrite failed", zap.Error(err))
			summary.Note("snapshot", err.Error())
		}
	}

	d.logger.Info("discovery finished",
		zap.Int("candidates", summary.Total),
		zap.Int("added", len(added)),
		zap.Int("unresolved", summary.Errored))
	return finish(nil)
}

// onboard builds a new model and resolves its release page. A model with an empty ID
// means the id generator failed; any other error means no release page resolved.
func (d *Discoverer) onboard(ctx context.Context, c Candidate) (tracker.Model, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return tracker.Model{}, fmt.Errorf("assign id: %w", err)
	}
	m := tracker.Model{
		ID:       id,
		Name:     c.Name,
		Maker:    c.Maker(),
		Socket:   c.Socket,
		Link:     ModelLink(d.cfg.PrimaryBase, c),
		BiosPage: tracker.PageNotFound,
	}

	var errs []error
	for _, u := range ReleaseURLs(d.cfg.PrimaryBase, d.cfg.AltBase, c) {
		if d.pacer != nil {
			if err := d.pacer.Wait(ctx, u); err != nil {
				return m, err
			}
		}
		rel, err := d.pages.Fetch(ctx, u)
		if err != nil {
			d.logger.Debug("candidate page rejected", zap.String("model", c.Name), zap.String("url", u), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		m.BiosPage = u
		m.HeldVersion = rel.Version
		m.HeldDate = rel.Date
		d.logger.Info("model onboarded",
			zap.String("model", m.Name),
			zap.String("page", u),
			zap.String("version", rel.Version))
		return m, nil
	}
	d.logger.Warn("no release page resolved", zap.String("model", c.Name))
	return m, fmt.Errorf("no release page resolved: %w", errors.Join(errs...))
}

// pathSegment encodes whitespace as %20 and drops slashes, matching vendor URLs.
func pathSegment(c Candidate) string {
	name := strings.ReplaceAll(c.Name, "/", "")
	return strings.ToLower(c.Maker()) + "/" + whitespace.ReplaceAllString(name, "%20")
}

// ModelLink returns the catalog page of a model.
func ModelLink(base string, c Candidate) string {
	return strings.TrimRight(base, "/") + "/mb/" + pathSegment(c)
}

// ReleaseURLs lists the release page candidates in resolution order.
func ReleaseURLs(primaryBase, altBase string, c Candidate) []string {
	var urls []string
	for _, base := range []string{primaryBase, altBase} {
		root := strings.TrimRight(base, "/") + "/mb/" + pathSegment(c)
		urls = append(urls, root+"/bios.html", root+"/bios1.html")
	}
	return urls
}
