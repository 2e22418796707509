// Package report formats stage summaries and fans them out to configured sinks.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// MaxMessageLen keeps chat messages under the webhook content limit.
const MaxMessageLen = 1900

const truncatedSuffix = "... (truncated)"

// Format renders a summary as a chat message with code-fenced sections,
// truncated to MaxMessageLen.
func Format(s tracker.Summary) string {
	return truncate(render(s))
}

func render(s tracker.Summary) string {
	var b strings.Builder
	title := s.Title
	if title == "" {
		title = s.Stage
	}
	fmt.Fprintf(&b, "**%s Results**\n\n", title)

	b.WriteString("**Summary:**\n```\n")
	fmt.Fprintf(&b, "Total Items: %d\n", s.Total)
	fmt.Fprintf(&b, "Success: %d\n", s.Succeeded)
	fmt.Fprintf(&b, "Errors: %d\n", s.Errored)
	if s.Deleted > 0 {
		fmt.Fprintf(&b, "Deleted: %d\n", s.Deleted)
	}
	if s.Skipped > 0 {
		fmt.Fprintf(&b, "Skipped: %d\n", s.Skipped)
	}
	keys := make([]string, 0, len(s.Additional))
	for k := range s.Additional {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, s.Additional[k])
	}
	if !s.FinishedAt.IsZero() && !s.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	}
	b.WriteString("```\n\n")

	if s.RunError != "" {
		fmt.Fprintf(&b, "**Stage failed:** %s\n\n", s.RunError)
	}

	if len(s.Details) > 0 {
		fmt.Fprintf(&b, "**Details (%d):**\n```\n", len(s.Details))
		fmt.Fprintf(&b, "%-28s %-12s %-12s %-10s %s\n", "model", "old", "new", "date", "action")
		b.WriteString(strings.Repeat("-", 72) + "\n")
		for _, d := range s.Details {
			fmt.Fprintf(&b, "%-28s %-12s %-12s %-10s %s\n",
				orNA(d.Model), orNA(d.OldVersion), orNA(d.NewVersion), orNA(d.NewDate), orNA(d.Action))
		}
		b.WriteString("```\n\n")
	} else {
		b.WriteString("**No details available.**\n\n")
	}

	if len(s.Errors) > 0 {
		fmt.Fprintf(&b, "**Errors (%d):**\n```\n", len(s.Errors))
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "%s: %s\n", orNA(e.Model), e.Message)
		}
		b.WriteString("```\n")
	}
	return b.String()
}

func truncate(msg string) string {
	if len(msg) <= MaxMessageLen {
		return msg
	}
	cut := MaxMessageLen
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + truncatedSuffix
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Fanout publishes each summary to every sink and joins their failures.
type Fanout struct {
	sinks []tracker.Reporter
}

// NewFanout builds a Fanout over sinks, skipping nils.
func NewFanout(sinks ...tracker.Reporter) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Publish sends summary to all sinks even when some fail.
func (f *Fanout) Publish(ctx context.Context, summary tracker.Summary) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes summaries to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("report")}
}

// Publish logs the summary counters.
func (l *LogSink) Publish(_ context.Context, s tracker.Summary) error {
	l.logger.Info("stage summary",
		zap.String("stage", s.Stage),
		zap.Int("total", s.Total),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("errored", s.Errored),
		zap.Int("deleted", s.Deleted),
		zap.Int("skipped", s.Skipped),
		zap.String("run_error", s.RunError))
	return nil
}

// MemorySink stores published summaries for inspection.
type MemorySink struct {
	mu        sync.RWMutex
	summaries []tracker.Summary
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish records the summary.
func (m *MemorySink) Publish(_ context.Context, s tracker.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
	return nil
}

// Summaries returns the recorded summaries.
func (m *MemorySink) Summaries() []tracker.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]tracker.Summary, len(m.summaries))
	copy(out, m.summaries)
	return out
}
