package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/JakeFAU/bios-notifier/internal/metrics"
)

func TestPacerSpacesCalls(t *testing.T) {
	metrics.Init()
	p := New(Config{Interval: 100 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	if err := p.Wait(ctx, "https://www.asrock.com/mb/"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("first wait should be immediate, took %v", time.Since(start))
	}

	start = time.Now()
	if err := p.Wait(ctx, "https://pg.asrock.com/mb/"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("second wait should be paced across hosts, took %v", elapsed)
	}
}

func TestPacerDisabled(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := p.Wait(context.Background(), "https://example.com"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("unpaced waits should not block, took %v", time.Since(start))
	}
}

func TestPacerRespectsContext(t *testing.T) {
	t.Parallel()

	p := New(Config{Interval: time.Hour})
	if err := p.Wait(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx, "https://example.com"); err == nil {
		t.Fatal("expected context error while paced")
	}
}
