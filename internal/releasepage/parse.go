// Package releasepage extracts the newest release row from a vendor release page.
package releasepage

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// ErrTableNotFound reports a page without a release table.
var ErrTableNotFound = errors.New("release table not found")

// notFoundMarker identifies the IIS error page the vendor serves with a 200 status.
const notFoundMarker = "404.0 - Not Found"

// IsNotFoundPage reports whether body is the vendor's soft 404 page.
func IsNotFoundPage(body []byte) bool {
	return bytes.Contains(body, []byte(notFoundMarker))
}

// Parse reads the first release row from body. The returned Release carries pageURL.
// Missing tables map to a not_found fetch error; malformed rows map to a parse error.
func Parse(pageURL string, body []byte) (tracker.Release, error) {
	if IsNotFoundPage(body) {
		return tracker.Release{}, tracker.NewFetchError(tracker.FetchNotFound, pageURL, ErrTableNotFound)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return tracker.Release{}, tracker.NewFetchError(tracker.FetchParse, pageURL, fmt.Errorf("parse html: %w", err))
	}

	row := firstReleaseRow(doc)
	if row == nil {
		return tracker.Release{}, tracker.NewFetchError(tracker.FetchNotFound, pageURL, ErrTableNotFound)
	}

	cells := row.Find("td")
	version := cellText(cells.Eq(0))
	rawDate := cellText(cells.Eq(1))
	if version == "" || rawDate == "" {
		return tracker.Release{}, tracker.NewFetchError(tracker.FetchParse, pageURL,
			fmt.Errorf("release row incomplete: version=%q date=%q", version, rawDate))
	}
	date, err := tracker.ParseReleaseDate(rawDate)
	if err != nil {
		return tracker.Release{}, tracker.NewFetchError(tracker.FetchParse, pageURL, err)
	}
	return tracker.Release{URL: pageURL, Version: version, RawDate: rawDate, Date: date}, nil
}

// firstReleaseRow returns the first data row of the first table whose header mentions a version column.
func firstReleaseRow(doc *goquery.Document) *goquery.Selection {
	var row *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		header := strings.ToLower(table.Find("th").Text())
		if header == "" {
			header = strings.ToLower(table.Find("tr").First().Text())
		}
		if !strings.Contains(header, "version") {
			return true
		}
		if r := dataRow(table); r != nil {
			row = r
			return false
		}
		return true
	})
	return row
}

func dataRow(scope *goquery.Selection) *goquery.Selection {
	var row *goquery.Selection
	scope.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if tr.Find("td").Length() >= 2 {
			row = tr
			return false
		}
		return true
	})
	return row
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
