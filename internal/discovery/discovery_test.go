package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bios-notifier/internal/clock/system"
	"github.com/JakeFAU/bios-notifier/internal/storage/memory"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

var now = system.Fixed{At: time.Date(2025, 3, 9, 4, 0, 0, 0, time.UTC)}

const catalogPage = `<html><head>
<script>var region='us';</script>
<script>
var allmodels=[['B650M Pro RS','AM5','AMD B650','x'],
['Z790 Lightning WiFi','1700','Intel Z790','x'],
['X870 Nova','AM5','AMD X870','x'],
['H610M/ac','1700','Intel H610','x'],
['A320M-DVS','AM4','AMD A320','x'],
['H81 Pro','1150','Intel H81','x']];
var other=1;
</script></head><body></body></html>`

type staticListing struct {
	body []byte
	err  error
}

func (l staticListing) Get(context.Context, string) ([]byte, error) {
	return l.body, l.err
}

type pageMap struct {
	pages   map[string]tracker.Release
	visited []string
}

func (p *pageMap) Fetch(_ context.Context, url string) (tracker.Release, error) {
	p.visited = append(p.visited, url)
	if rel, ok := p.pages[url]; ok {
		return rel, nil
	}
	return tracker.Release{}, tracker.NewFetchError(tracker.FetchNotFound, url, nil)
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("mobo_%d", s.n), nil
}

type listSnapshot struct {
	models []tracker.Model
}

func (s *listSnapshot) Load(context.Context) ([]tracker.Model, error) { return s.models, nil }

func (s *listSnapshot) Save(_ context.Context, models []tracker.Model) error {
	s.models = append([]tracker.Model(nil), models...)
	return nil
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	candidates, err := ParseListing([]byte(catalogPage))
	require.NoError(t, err)
	require.Len(t, candidates, 6)
	require.Equal(t, Candidate{Name: "B650M Pro RS", Socket: "AM5", MakerHint: "AMD B650"}, candidates[0])
	require.Equal(t, "Intel", candidates[1].Maker())
	require.Equal(t, "AMD", candidates[0].Maker())

	_, err = ParseListing([]byte(`<script>var x=1;</script>`))
	require.ErrorIs(t, err, ErrListingNotFound)
}

func TestReleaseURLs(t *testing.T) {
	t.Parallel()

	c := Candidate{Name: "H610M/ac Pro", Socket: "1700", MakerHint: "Intel"}
	require.Equal(t, "https://www.asrock.com/mb/intel/H610Mac%20Pro", ModelLink(DefaultPrimaryBase, c))
	require.Equal(t, []string{
		"https://www.asrock.com/mb/intel/H610Mac%20Pro/bios.html",
		"https://www.asrock.com/mb/intel/H610Mac%20Pro/bios1.html",
		"https://pg.asrock.com/mb/intel/H610Mac%20Pro/bios.html",
		"https://pg.asrock.com/mb/intel/H610Mac%20Pro/bios1.html",
	}, ReleaseURLs(DefaultPrimaryBase, DefaultAltBase+"/", c))
}

func TestRunOnboardsUnknownModels(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore([]tracker.Model{
		{ID: "dummy", Name: "dummy"},
		{ID: "mobo_old", Name: "B650M Pro RS", BiosPage: "https://www.asrock.com/mb/amd/B650M%20Pro%20RS/bios.html"},
	}, nil)
	snap := &listSnapshot{models: []tracker.Model{{ID: "mobo_snap", Name: "A320M-DVS"}}}
	pages := &pageMap{pages: map[string]tracker.Release{
		"https://pg.asrock.com/mb/intel/Z790%20Lightning%20WiFi/bios.html": {Version: "7.01", Date: tracker.NewReleaseDate(2025, 2, 11)},
		"https://www.asrock.com/mb/intel/H610Mac/bios1.html":               {Version: "2.10", Date: tracker.NewReleaseDate(2024, 11, 2)},
	}}

	d := New(store, snap, staticListing{body: []byte(catalogPage)}, pages, nil, &seqIDs{}, now, Config{}, nil)
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 5, summary.Total, "1150 socket is filtered")
	require.Equal(t, 2, summary.Skipped)
	require.Equal(t, 3, summary.Succeeded)
	require.Equal(t, 1, summary.Errored)
	require.Equal(t, "X870 Nova", summary.Errors[0].Model)

	models, err := store.GetModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 5)
	byName := map[string]tracker.Model{}
	for _, m := range models {
		byName[m.Name] = m
	}

	z := byName["Z790 Lightning WiFi"]
	require.Equal(t, "mobo_1", z.ID)
	require.Equal(t, "Intel", z.Maker)
	require.Equal(t, "1700", z.Socket)
	require.Equal(t, "https://pg.asrock.com/mb/intel/Z790%20Lightning%20WiFi/bios.html", z.BiosPage)
	require.Equal(t, "7.01", z.HeldVersion)
	require.Equal(t, tracker.NewReleaseDate(2025, 2, 11), z.HeldDate)

	nova := byName["X870 Nova"]
	require.Equal(t, tracker.PageNotFound, nova.BiosPage)
	require.Empty(t, nova.HeldVersion)
	require.True(t, nova.HeldDate.IsZero())

	require.Equal(t, "https://www.asrock.com/mb/intel/H610Mac/bios1.html", byName["H610M/ac"].BiosPage)

	require.Len(t, snap.models, 6)
	require.Equal(t, "mobo_snap", snap.models[0].ID)
	require.Equal(t, "dummy", snap.models[1].ID)
	require.Equal(t, "mobo_old", snap.models[2].ID)
	require.Equal(t, "X870 Nova", snap.models[4].Name)
}

func TestRunKeepsResolvedSnapshotEntry(t *testing.T) {
	t.Parallel()

	resolved := "https://pg.asrock.com/mb/amd/B650M%20Pro%20RS/bios.html"
	store := memory.NewCatalogStore([]tracker.Model{
		{ID: "mobo_old", Name: "B650M Pro RS", BiosPage: tracker.PageNotFound},
	}, nil)
	snap := &listSnapshot{models: []tracker.Model{
		{ID: "mobo_old", Name: "B650M Pro RS", BiosPage: resolved, HeldVersion: "3.20", HeldDate: tracker.NewReleaseDate(2025, 3, 5)},
	}}
	d := New(store, snap, staticListing{body: []byte(catalogPage)}, &pageMap{}, nil, &seqIDs{}, now,
		Config{Sockets: []string{"AM5"}}, nil)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 1, summary.Succeeded)

	require.Len(t, snap.models, 2)
	require.Equal(t, resolved, snap.models[0].BiosPage)
	require.Equal(t, "3.20", snap.models[0].HeldVersion)
	require.Equal(t, "X870 Nova", snap.models[1].Name)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore(nil, nil)
	pages := &pageMap{pages: map[string]tracker.Release{}}
	d := New(store, nil, staticListing{body: []byte(catalogPage)}, pages, nil, &seqIDs{}, now,
		Config{Sockets: []string{"AM5"}}, nil)

	first, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Succeeded)

	visits := len(pages.visited)
	second, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Succeeded)
	require.Equal(t, 2, second.Skipped)
	require.Len(t, pages.visited, visits)
	require.Equal(t, 1, store.SaveCalls())
}

func TestRunCatalogFailureAborts(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore(nil, nil)
	d := New(store, nil, staticListing{err: errors.New("503")}, &pageMap{}, nil, &seqIDs{}, now, Config{}, nil)
	summary, err := d.Run(context.Background())
	require.Error(t, err)
	require.True(t, summary.Failed())
	require.Zero(t, store.SaveCalls())

	d = New(store, nil, staticListing{body: []byte("<html></html>")}, &pageMap{}, nil, &seqIDs{}, now, Config{}, nil)
	_, err = d.Run(context.Background())
	require.ErrorIs(t, err, ErrListingNotFound)
}
