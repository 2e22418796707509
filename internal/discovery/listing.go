package discovery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrListingNotFound reports a catalog page without the embedded model array.
var ErrListingNotFound = errors.New("allmodels array not found")

const listingMarker = "allmodels="

// Candidate is one entry of the vendor catalog.
type Candidate struct {
	Name      string
	Socket    string
	MakerHint string
}

// Maker returns "Intel" when the hint mentions Intel and "AMD" otherwise.
func (c Candidate) Maker() string {
	if strings.Contains(strings.ToLower(c.MakerHint), "intel") {
		return "Intel"
	}
	return "AMD"
}

// ParseListing extracts the model tuples embedded in the catalog page script.
// Tuples shorter than three fields are ignored.
func ParseListing(body []byte) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse catalog html: %w", err)
	}
	var script string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := s.Text(); strings.Contains(text, listingMarker) {
			script = text
			return false
		}
		return true
	})
	if script == "" {
		return nil, ErrListingNotFound
	}

	raw := script[strings.Index(script, listingMarker)+len(listingMarker):]
	end := strings.Index(raw, "];")
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated array", ErrListingNotFound)
	}
	raw = strings.TrimSpace(raw[:end]) + "]"
	raw = strings.ReplaceAll(raw, "'", `"`)

	var tuples [][]any
	if err := json.Unmarshal([]byte(raw), &tuples); err != nil {
		return nil, fmt.Errorf("decode allmodels: %w", err)
	}
	out := make([]Candidate, 0, len(tuples))
	for _, t := range tuples {
		if len(t) < 3 {
			continue
		}
		c := Candidate{
			Name:      strings.TrimSpace(fmt.Sprint(t[0])),
			Socket:    strings.TrimSpace(fmt.Sprint(t[1])),
			MakerHint: fmt.Sprint(t[2]),
		}
		if c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
