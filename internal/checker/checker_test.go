package checker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bios-notifier/internal/clock/system"
	"github.com/JakeFAU/bios-notifier/internal/storage/memory"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

var now = system.Fixed{At: time.Date(2025, 3, 6, 4, 0, 0, 0, time.UTC)}

type fetchResult struct {
	rel tracker.Release
	err error
}

// scriptedFetcher replays results per URL; the last result repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  map[string][]fetchResult
	visited []string
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) (tracker.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited = append(f.visited, url)
	results := f.script[url]
	if len(results) == 0 {
		return tracker.Release{}, tracker.NewFetchError(tracker.FetchNotFound, url, nil)
	}
	r := results[0]
	if len(results) > 1 {
		f.script[url] = results[1:]
	}
	return r.rel, r.err
}

func (f *scriptedFetcher) count(url string) int {
	n := 0
	for _, v := range f.visited {
		if v == url {
			n++
		}
	}
	return n
}

type countingPacer struct{ waits int }

func (p *countingPacer) Wait(context.Context, string) error {
	p.waits++
	return nil
}

type memorySnapshot struct {
	saved []tracker.Model
	err   error
}

func (s *memorySnapshot) Load(context.Context) ([]tracker.Model, error) { return s.saved, nil }

func (s *memorySnapshot) Save(_ context.Context, models []tracker.Model) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append([]tracker.Model(nil), models...)
	return nil
}

type failingStore struct {
	getErr  error
	saveErr error
	models  []tracker.Model
}

func (s *failingStore) GetModels(context.Context) ([]tracker.Model, error) {
	return s.models, s.getErr
}

func (s *failingStore) SaveModels(context.Context, []tracker.Model) error {
	return s.saveErr
}

func release(version string, y int, m time.Month, d int) fetchResult {
	return fetchResult{rel: tracker.Release{Version: version, Date: tracker.NewReleaseDate(y, m, d)}}
}

func TestRunUpdatesOnlyNewerReleases(t *testing.T) {
	t.Parallel()

	models := []tracker.Model{
		{ID: "dummy", Name: "dummy", BiosPage: "https://www.asrock.com/dummy"},
		{ID: "m1", Name: "B650M Pro RS", BiosPage: "https://www.asrock.com/m1", HeldVersion: "3.10", HeldDate: tracker.NewReleaseDate(2025, 3, 1)},
		{ID: "m2", Name: "X670E Taichi", BiosPage: "https://www.asrock.com/m2", HeldVersion: "3.10", HeldDate: tracker.NewReleaseDate(2025, 3, 1)},
		{ID: "m3", Name: "Z890 Riptide", BiosPage: "https://pg.asrock.com/m3", HeldVersion: "2.00", HeldDate: tracker.NewReleaseDate(2025, 3, 1)},
		{ID: "m4", Name: "A620M-HDV", BiosPage: "https://www.asrock.com/m4"},
		{ID: "m5", Name: "X870 Nova", BiosPage: tracker.PageNotFound},
	}
	store := memory.NewCatalogStore(models, nil)
	fetcher := &scriptedFetcher{script: map[string][]fetchResult{
		"https://www.asrock.com/m1": {release("3.20", 2025, 3, 5)},
		"https://www.asrock.com/m2": {release("3.08", 2025, 2, 20)},
		"https://pg.asrock.com/m3":  {release("2.00", 2025, 3, 1)},
		"https://www.asrock.com/m4": {release("1.0", 2024, 1, 1)},
	}}
	pacer := &countingPacer{}
	snap := &memorySnapshot{}

	c := New(store, snap, fetcher, pacer, now, Config{}, nil)
	summary, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, tracker.StageCheck, summary.Stage)
	require.Equal(t, 5, summary.Total)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Skipped)
	require.Zero(t, summary.Errored)
	require.Equal(t, now.At, summary.FinishedAt)
	require.Len(t, summary.Details, 2)
	require.Equal(t, tracker.Detail{
		ID: "m1", Model: "B650M Pro RS",
		OldVersion: "3.10", NewVersion: "3.20",
		OldDate: "2025/3/1", NewDate: "2025/3/5",
		Action: "updated",
	}, summary.Details[0])
	require.Equal(t, "A620M-HDV", summary.Details[1].Model)
	require.Empty(t, summary.Details[1].OldDate)

	stored, err := store.GetModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, "3.20", stored[1].HeldVersion)
	require.Equal(t, tracker.NewReleaseDate(2025, 3, 5), stored[1].HeldDate)
	require.Equal(t, "3.10", stored[2].HeldVersion, "older scrape must not roll back")
	require.Equal(t, tracker.NewReleaseDate(2025, 3, 1), stored[2].HeldDate)
	require.Equal(t, "2.00", stored[3].HeldVersion)
	require.Equal(t, 1, store.SaveCalls())

	require.Zero(t, fetcher.count("https://www.asrock.com/dummy"))
	require.Equal(t, 4, pacer.waits)
	require.Len(t, snap.saved, 6)
	require.Equal(t, "3.20", snap.saved[1].HeldVersion)
}

func TestRunShortlistsFailuresOnce(t *testing.T) {
	t.Parallel()

	flaky := "https://www.asrock.com/flaky"
	down := "https://pg.asrock.com/down"
	store := memory.NewCatalogStore([]tracker.Model{
		{ID: "m1", Name: "Flaky", BiosPage: flaky, HeldDate: tracker.NewReleaseDate(2025, 1, 1)},
		{ID: "m2", Name: "Down", BiosPage: down, HeldVersion: "1.0", HeldDate: tracker.NewReleaseDate(2025, 1, 1)},
	}, nil)
	timeout := tracker.NewFetchError(tracker.FetchTimeout, down, context.DeadlineExceeded)
	fetcher := &scriptedFetcher{script: map[string][]fetchResult{
		flaky: {{err: errors.New("connection reset")}, release("1.1", 2025, 2, 1)},
		down:  {{err: timeout}},
	}}

	summary, err := New(store, nil, fetcher, nil, now, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Errored)
	require.Equal(t, "m2", summary.Errors[0].ID)
	require.Contains(t, summary.Errors[0].Message, "timeout")
	require.Equal(t, 2, fetcher.count(flaky))
	require.Equal(t, 2, fetcher.count(down))

	stored, err := store.GetModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.1", stored[0].HeldVersion)
	require.Equal(t, "1.0", stored[1].HeldVersion)
}

func TestRunWithoutChangesSkipsPersistence(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore([]tracker.Model{
		{ID: "m1", Name: "Same", BiosPage: "https://www.asrock.com/same", HeldDate: tracker.NewReleaseDate(2025, 2, 20)},
	}, nil)
	fetcher := &scriptedFetcher{script: map[string][]fetchResult{
		"https://www.asrock.com/same": {release("1.0", 2025, 2, 20)},
	}}

	summary, err := New(store, nil, fetcher, nil, now, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Succeeded)
	require.Empty(t, summary.Details)
	require.Zero(t, store.SaveCalls())
}

func TestRunLoadFailureAborts(t *testing.T) {
	t.Parallel()

	store := &failingStore{getErr: errors.New("connection refused")}
	summary, err := New(store, nil, &scriptedFetcher{}, nil, now, Config{}, nil).Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "load models")
	require.True(t, summary.Failed())
}

func TestRunPersistFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	store := &failingStore{
		saveErr: errors.New("deadlock detected"),
		models: []tracker.Model{
			{ID: "m1", Name: "B650M Pro RS", BiosPage: "https://www.asrock.com/m1", HeldDate: tracker.NewReleaseDate(2025, 3, 1)},
		},
	}
	fetcher := &scriptedFetcher{script: map[string][]fetchResult{
		"https://www.asrock.com/m1": {release("3.20", 2025, 3, 5)},
	}}
	snap := &memorySnapshot{}

	summary, err := New(store, snap, fetcher, nil, now, Config{}, nil).Run(context.Background())
	require.Error(t, err)
	require.Contains(t, summary.RunError, "persist models")
	require.Nil(t, snap.saved)
}

func TestRunSnapshotFailureIsNoted(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore([]tracker.Model{{ID: "m1", Name: "B650M", BiosPage: "https://www.asrock.com/m1"}}, nil)
	fetcher := &scriptedFetcher{script: map[string][]fetchResult{
		"https://www.asrock.com/m1": {release("1.0", 2025, 3, 5)},
	}}
	snap := &memorySnapshot{err: errors.New("read-only file system")}

	summary, err := New(store, snap, fetcher, nil, now, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Contains(t, summary.Additional["snapshot"], "read-only")
}

func TestRunMergesIntoExistingSnapshot(t *testing.T) {
	t.Parallel()

	resolved := "https://pg.asrock.com/mb/AMD/B650M%20Pro%20RS/bios.html"
	store := memory.NewCatalogStore([]tracker.Model{
		{ID: "m1", Name: "B650M Pro RS", BiosPage: "https://www.asrock.com/m1", HeldVersion: "3.10", HeldDate: tracker.NewReleaseDate(2025, 3, 1)},
		{ID: "m2", Name: "Store Only", BiosPage: tracker.PageNotFound},
	}, nil)
	snap := &memorySnapshot{saved: []tracker.Model{
		{ID: "m1", Name: "B650M Pro RS", BiosPage: resolved, HeldVersion: "3.10", HeldDate: tracker.NewReleaseDate(2025, 3, 1)},
		{ID: "m9", Name: "Snapshot Only", BiosPage: "https://www.asrock.com/m9", HeldVersion: "1.0"},
	}}
	fetcher := &scriptedFetcher{script: map[string][]fetchResult{
		"https://www.asrock.com/m1": {release("3.20", 2025, 3, 5)},
	}}

	summary, err := New(store, snap, fetcher, nil, now, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)

	require.Len(t, snap.saved, 3)
	require.Equal(t, resolved, snap.saved[0].BiosPage)
	require.Equal(t, "3.20", snap.saved[0].HeldVersion)
	require.Equal(t, tracker.NewReleaseDate(2025, 3, 5), snap.saved[0].HeldDate)
	require.Equal(t, "Snapshot Only", snap.saved[1].Name)
	require.Equal(t, "Store Only", snap.saved[2].Name)
}
