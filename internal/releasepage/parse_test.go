package releasepage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

const pageURL = "https://www.asrock.com/mb/AMD/B650M%20Pro%20RS/bios.html"

func TestParseVersionTable(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body>
<table><tr><td>Navigation</td><td>Links</td></tr></table>
<table class="inforTable">
  <thead><tr><th>Version</th><th>Date</th><th>Size</th></tr></thead>
  <tbody>
    <tr><td> 3.20 </td><td>2025/3/5</td><td>32.00MB</td></tr>
    <tr><td>3.10</td><td>2025/1/14</td><td>32.00MB</td></tr>
  </tbody>
</table></body></html>`)

	rel, err := Parse(pageURL, body)
	require.NoError(t, err)
	require.Equal(t, "3.20", rel.Version)
	require.Equal(t, "2025/3/5", rel.RawDate)
	require.Equal(t, tracker.NewReleaseDate(2025, 3, 5), rel.Date)
	require.Equal(t, pageURL, rel.URL)
}

func TestParseCollapsesCellWhitespace(t *testing.T) {
	t.Parallel()

	body := []byte(`<table><thead><tr><th>Version</th><th>Date</th></tr></thead><tbody>
<tr><td>P1.40
  <span>Beta</span></td><td>2024/12/2</td></tr>
</tbody></table>`)

	rel, err := Parse(pageURL, body)
	require.NoError(t, err)
	require.Equal(t, "P1.40 Beta", rel.Version)
	require.Equal(t, tracker.NewReleaseDate(2024, 12, 2), rel.Date)
}

func TestParseIgnoresTablesWithoutVersionHeader(t *testing.T) {
	t.Parallel()

	body := []byte(`<table><thead><tr><th>Driver</th><th>Updated</th></tr></thead>
<tbody><tr><td>LAN 1.2</td><td>2024/12/2</td></tr></tbody></table>`)

	_, err := Parse(pageURL, body)
	require.ErrorIs(t, err, ErrTableNotFound)
	require.Equal(t, tracker.FetchNotFound, tracker.FetchKind(err))
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
		kind tracker.FetchErrorKind
	}{
		{"no table", `<html><body><p>nothing here</p></body></html>`, tracker.FetchNotFound},
		{"iis soft 404", `<h3>HTTP Error 404.0 - Not Found</h3>`, tracker.FetchNotFound},
		{"missing date", `<table><tr><th>Version</th></tr><tr><td>1.0</td><td> </td></tr></table>`, tracker.FetchParse},
		{"bad date", `<table><tr><th>Version</th></tr><tr><td>1.0</td><td>soon</td></tr></table>`, tracker.FetchParse},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(pageURL, []byte(tc.body))
			require.Error(t, err)
			require.Equal(t, tc.kind, tracker.FetchKind(err))
		})
	}
}

func TestIsNotFoundPage(t *testing.T) {
	t.Parallel()

	require.True(t, IsNotFoundPage([]byte("<title>IIS 10.0 Detailed Error - 404.0 - Not Found</title>")))
	require.False(t, IsNotFoundPage([]byte("<title>B650M Pro RS</title>")))
}
