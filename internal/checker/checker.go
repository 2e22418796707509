// Package checker detects new firmware releases for tracked models and persists them.
package checker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bios-notifier/internal/metrics"
	"github.com/JakeFAU/bios-notifier/internal/retry"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// Config controls Checker behavior.
type Config struct {
	// Rounds is the number of passes a failing model gets, the first included.
	Rounds int
}

// Checker compares each model's release page against its held release.
type Checker struct {
	store    tracker.ModelStore
	snapshot tracker.Snapshot
	fetcher  tracker.PageFetcher
	pacer    tracker.Pacer
	clock    tracker.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Checker. snapshot may be nil.
func New(
	store tracker.ModelStore,
	snapshot tracker.Snapshot,
	fetcher tracker.PageFetcher,
	pacer tracker.Pacer,
	clock tracker.Clock,
	cfg Config,
	logger *zap.Logger,
) *Checker {
	if cfg.Rounds <= 0 {
		cfg.Rounds = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		store:    store,
		snapshot: snapshot,
		fetcher:  fetcher,
		pacer:    pacer,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named(tracker.StageCheck),
	}
}

// Name identifies the stage.
func (c *Checker) Name() string {
	return tracker.StageCheck
}

// Run checks every tracked model once, retries the failures, and saves only changed models.
func (c *Checker) Run(ctx context.Context) (tracker.Summary, error) {
	summary := tracker.Summary{
		Stage:     tracker.StageCheck,
		Title:     "BIOS Update Check",
		StartedAt: c.clock.Now(),
	}
	finish := func(err error) (tracker.Summary, error) {
		summary.FinishedAt = c.clock.Now()
		if err != nil {
			summary.RunError = err.Error()
		}
		return summary, err
	}

	models, err := c.store.GetModels(ctx)
	if err != nil {
		return finish(fmt.Errorf("load models: %w", err))
	}

	var pending []int
	for i, m := range models {
		if m.IsSentinel() {
			continue
		}
		summary.Total++
		if !m.HasReleasePage() {
			summary.Skipped++
			continue
		}
		pending = append(pending, i)
	}

	var changed []int
	failures := retry.Shortlist(ctx, retry.Policy{Attempts: c.cfg.Rounds}, pending,
		func(ctx context.Context, i int) error {
			updated, err := c.check(ctx, &models[i])
			if err != nil {
				return err
			}
			if updated != nil {
				summary.Details = append(summary.Details, *updated)
				changed = append(changed, i)
			}
			return nil
		})
	for _, f := range failures {
		m := models[f.Item]
		c.logger.Warn("model check failed", zap.String("model", m.Name), zap.Error(f.Err))
		summary.AddError(m.ID, m.Name, f.Err)
	}
	summary.Succeeded = len(changed)

	if len(changed) > 0 {
		batch := make([]tracker.Model, 0, len(changed))
		for _, i := range changed {
			batch = append(batch, models[i])
		}
		if err := c.store.SaveModels(ctx, batch); err != nil {
			return finish(fmt.Errorf("persist models: %w", err))
		}
		metrics.ObserveModelUpdates(len(changed))
	}

	if c.snapshot != nil {
		if err := c.snapshot.Save(ctx, c.snapshotList(ctx, models, changed)); err != nil {
			c.logger.Warn("snapshot rewrite failed", zap.Error(err))
			summary.Note("snapshot", err.Error())
		}
	}

	c.logger.Info("check finished",
		zap.Int("total", summary.Total),
		zap.Int("updated", summary.Succeeded),
		zap.Int("errored", summary.Errored),
		zap.Int("skipped", summary.Skipped))
	return finish(nil)
}

// snapshotList applies the changed releases to the current snapshot and appends stored models
// it lacks. Snapshot entries keep their other fields.
func (c *Checker) snapshotList(ctx context.Context, models []tracker.Model, changed []int) []tracker.Model {
	snapped, err := c.snapshot.Load(ctx)
	if err != nil {
		c.logger.Warn("snapshot unreadable, rewriting from store", zap.Error(err))
		snapped = nil
	}
	snapped = append([]tracker.Model(nil), snapped...)
	byName := make(map[string]int, len(snapped))
	for i, m := range snapped {
		byName[m.Name] = i
	}
	for _, i := range changed {
		m := models[i]
		j, ok := byName[m.Name]
		if !ok || !tracker.IsNewer(m.HeldDate, snapped[j].HeldDate) {
			continue
		}
		snapped[j].HeldVersion = m.HeldVersion
		snapped[j].HeldDate = m.HeldDate
	}
	return tracker.MergeModels(snapped, models)
}

// check fetches one model and advances it in place when the page lists a strictly newer release.
func (c *Checker) check(ctx context.Context, m *tracker.Model) (*tracker.Detail, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, m.BiosPage); err != nil {
			return nil, err
		}
	}
	rel, err := c.fetcher.Fetch(ctx, m.BiosPage)
	if err != nil {
		c.logger.Debug("fetch failed", zap.String("model", m.Name), zap.Error(err))
		return nil, err
	}
	if !tracker.IsNewer(rel.Date, m.HeldDate) {
		c.logger.Debug("no newer release",
			zap.String("model", m.Name),
			zap.String("held", m.HeldDate.String()),
			zap.String("found", rel.Date.String()))
		return nil, nil
	}
	detail := &tracker.Detail{
		ID:         m.ID,
		Model:      m.Name,
		OldVersion: m.HeldVersion,
		NewVersion: rel.Version,
		OldDate:    m.HeldDate.String(),
		NewDate:    rel.Date.String(),
		Action:     "updated",
	}
	m.HeldVersion = rel.Version
	m.HeldDate = rel.Date
	c.logger.Info("new release",
		zap.String("model", m.Name),
		zap.String("version", rel.Version),
		zap.String("date", rel.Date.String()))
	return detail, nil
}
