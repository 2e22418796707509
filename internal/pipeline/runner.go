// Package pipeline runs the release stages in order and reports each outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bios-notifier/internal/lock"
	"github.com/JakeFAU/bios-notifier/internal/metrics"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// DefaultOrder is the stage order of a full run.
var DefaultOrder = []string{tracker.StageDiscovery, tracker.StageCheck, tracker.StageNotify}

// ErrUnknownStage is returned for stage names that are not registered.
var ErrUnknownStage = errors.New("unknown stage")

// Stage is one step of a run.
type Stage interface {
	Name() string
	Run(ctx context.Context) (tracker.Summary, error)
}

// Options selects what a run does.
type Options struct {
	// Stages to execute; empty means DefaultOrder. Requested stages always run in DefaultOrder.
	Stages []string
	// Origin pushes the snapshot file to the mirror after the stages finish.
	Origin bool
}

// Mirror describes where the snapshot is pushed on origin runs.
type Mirror struct {
	Store        tracker.BlobStore
	SnapshotPath string
	ObjectName   string
}

// Runner executes stages under the run lock.
type Runner struct {
	stages   map[string]Stage
	reporter tracker.Reporter
	locker   lock.Locker
	mirror   *Mirror
	clock    tracker.Clock
	logger   *zap.Logger
}

// NewRunner constructs a Runner. reporter and mirror may be nil.
func NewRunner(
	stages []Stage,
	reporter tracker.Reporter,
	locker lock.Locker,
	mirror *Mirror,
	clock tracker.Clock,
	logger *zap.Logger,
) *Runner {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		byName[s.Name()] = s
	}
	return &Runner{
		stages:   byName,
		reporter: reporter,
		locker:   locker,
		mirror:   mirror,
		clock:    clock,
		logger:   logger.Named("pipeline"),
	}
}

// Plan resolves requested stage names into execution order.
func (r *Runner) Plan(requested []string) ([]Stage, error) {
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		if _, ok := r.stages[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
		}
		want[name] = true
	}
	var plan []Stage
	for _, name := range DefaultOrder {
		s, ok := r.stages[name]
		if !ok || (len(want) > 0 && !want[name]) {
			continue
		}
		plan = append(plan, s)
	}
	return plan, nil
}

// Run executes the planned stages. A failing stage does not stop the ones after it.
// The returned error joins stage failures; lock contention returns lock.ErrHeld.
func (r *Runner) Run(ctx context.Context, opts Options) ([]tracker.Summary, error) {
	plan, err := r.Plan(opts.Stages)
	if err != nil {
		return nil, err
	}
	release, err := r.locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("run lock release failed", zap.Error(err))
		}
	}()

	var (
		summaries []tracker.Summary
		errs      []error
	)
	for _, stage := range plan {
		summary, err := r.runStage(ctx, stage)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", stage.Name(), err))
		}
		summaries = append(summaries, summary)
		r.publish(ctx, summary)
	}

	if opts.Origin {
		if err := r.pushMirror(ctx); err != nil {
			r.logger.Warn("snapshot mirror push failed", zap.Error(err))
		}
	}
	return summaries, errors.Join(errs...)
}

func (r *Runner) runStage(ctx context.Context, stage Stage) (summary tracker.Summary, err error) {
	name := stage.Name()
	log := r.logger.With(zap.String("stage", name))
	start := time.Now()
	log.Info("stage started")

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stage panicked: %v", p)
			log.Error("stage panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			summary.Stage = name
			summary.RunError = err.Error()
			if summary.FinishedAt.IsZero() {
				summary.FinishedAt = r.clock.Now()
			}
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ObserveStage(name, status, time.Since(start))
	}()

	summary, err = stage.Run(ctx)
	if summary.Stage == "" {
		summary.Stage = name
	}
	if err != nil {
		if summary.RunError == "" {
			summary.RunError = err.Error()
		}
		log.Error("stage failed", zap.Error(err))
		return summary, err
	}
	log.Info("stage finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("errored", summary.Errored))
	return summary, nil
}

// publish hands the summary to the reporter; failures and panics never escape.
func (r *Runner) publish(ctx context.Context, summary tracker.Summary) {
	if r.reporter == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("reporter panicked", zap.String("stage", summary.Stage), zap.Any("panic", p))
		}
	}()
	if err := r.reporter.Publish(ctx, summary); err != nil {
		r.logger.Warn("report publish failed", zap.String("stage", summary.Stage), zap.Error(err))
	}
}

func (r *Runner) pushMirror(ctx context.Context) error {
	if r.mirror == nil || r.mirror.Store == nil {
		return errors.New("no mirror configured")
	}
	f, err := os.Open(r.mirror.SnapshotPath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	name := r.mirror.ObjectName
	if name == "" {
		name = filepath.Base(r.mirror.SnapshotPath)
	}
	uri, err := r.mirror.Store.PutObject(ctx, name, "application/json", f)
	if err != nil {
		return fmt.Errorf("push snapshot: %w", err)
	}
	r.logger.Info("snapshot pushed to mirror", zap.String("uri", uri))
	return nil
}
