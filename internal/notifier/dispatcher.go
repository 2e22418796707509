// Package notifier emails subscribers whose model received a release they have not been told about.
package notifier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bios-notifier/internal/metrics"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// Defaults applied by New.
const (
	DefaultDailyCap    = 100
	DefaultGraceWindow = 48 * time.Hour
)

// Config controls Dispatcher behavior.
type Config struct {
	// DailyCap bounds successful sends per run.
	DailyCap int
	// GraceWindow is how long an unverified signup may wait before removal.
	GraceWindow time.Duration
}

// Dispatcher sends release notifications and expires unverified signups.
type Dispatcher struct {
	store  tracker.Store
	mailer tracker.Mailer
	clock  tracker.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Dispatcher.
func New(store tracker.Store, mailer tracker.Mailer, clock tracker.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.DailyCap <= 0 {
		cfg.DailyCap = DefaultDailyCap
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:  store,
		mailer: mailer,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named(tracker.StageNotify),
	}
}

// Name identifies the stage.
func (d *Dispatcher) Name() string {
	return tracker.StageNotify
}

// Run walks subscribers donators-first and notifies those behind their model's release.
func (d *Dispatcher) Run(ctx context.Context) (tracker.Summary, error) {
	now := d.clock.Now()
	summary := tracker.Summary{
		Stage:     tracker.StageNotify,
		Title:     "User Notifications",
		StartedAt: now,
	}
	finish := func(err error) (tracker.Summary, error) {
		summary.FinishedAt = d.clock.Now()
		if err != nil {
			summary.RunError = err.Error()
		}
		return summary, err
	}

	users, err := d.store.GetUsers(ctx)
	if err != nil {
		return finish(fmt.Errorf("load users: %w", err))
	}
	models, err := d.store.GetModels(ctx)
	if err != nil {
		return finish(fmt.Errorf("load models: %w", err))
	}
	byName := make(map[string]tracker.Model, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}

	sort.SliceStable(users, func(i, j int) bool {
		return users[i].Donator && !users[j].Donator
	})
	for _, u := range users {
		if !u.IsSentinel() {
			summary.Total++
		}
	}

	var (
		staged []tracker.User
		sent   int
	)
	for _, u := range users {
		if u.IsSentinel() {
			continue
		}
		if ctx.Err() != nil {
			d.logger.Warn("notification run interrupted", zap.Error(ctx.Err()))
			break
		}
		log := d.logger.With(zap.String("user", u.ID), zap.String("model", u.Model))

		if !u.Verified {
			if d.expired(u, now) {
				if err := d.store.DeleteUser(ctx, identifier(u)); err != nil {
					log.Warn("purge failed", zap.Error(err))
					summary.AddError(u.ID, u.Model, fmt.Errorf("purge unverified user: %w", err))
					continue
				}
				metrics.ObservePurge()
				summary.Deleted++
				summary.Details = append(summary.Details, tracker.Detail{ID: u.ID, Model: u.Model, Action: "deleted"})
				log.Info("unverified user purged")
			} else {
				summary.Skipped++
			}
			continue
		}

		m, ok := byName[u.Model]
		if !ok {
			summary.AddError(u.ID, u.Model, tracker.ErrModelNotFound)
			continue
		}
		if !tracker.IsNewer(m.HeldDate, u.GivenDate) {
			continue
		}
		if sent >= d.cfg.DailyCap {
			log.Info("daily cap reached, remaining users roll over", zap.Int("cap", d.cfg.DailyCap))
			summary.Note("cap_reached", "true")
			break
		}

		if err := d.mailer.Send(ctx, u, m); err != nil {
			metrics.ObserveNotification("failed")
			log.Warn("notification failed", zap.Error(err))
			summary.AddError(u.ID, u.Model, err)
			continue
		}
		metrics.ObserveNotification("sent")
		sent++
		u.GivenDate = m.HeldDate
		u.GivenVersion = m.HeldVersion
		u.LastContacted = d.clock.Now()
		staged = append(staged, u)
		summary.Details = append(summary.Details, tracker.Detail{
			ID:         u.ID,
			Model:      u.Model,
			NewVersion: m.HeldVersion,
			NewDate:    m.HeldDate.String(),
			Action:     "notified",
		})
		log.Info("user notified", zap.String("version", m.HeldVersion))
	}
	summary.Succeeded = sent

	if len(staged) > 0 {
		if err := d.store.SaveUsers(ctx, staged); err != nil {
			return finish(fmt.Errorf("persist users: %w", err))
		}
	}

	d.logger.Info("notifications finished",
		zap.Int("sent", sent),
		zap.Int("deleted", summary.Deleted),
		zap.Int("errored", summary.Errored))
	return finish(nil)
}

// expired reports whether an unverified user outlived the grace window. Users with neither
// a signup nor a contact timestamp are never expired.
func (d *Dispatcher) expired(u tracker.User, now time.Time) bool {
	since := u.SignupDate
	if since.IsZero() {
		since = u.LastContacted
	}
	if since.IsZero() {
		return false
	}
	return now.Sub(since) > d.cfg.GraceWindow
}

func identifier(u tracker.User) string {
	if u.ID != "" {
		return u.ID
	}
	return u.Email
}
