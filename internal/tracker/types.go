// Package tracker defines the domain types shared by the release pipeline.
package tracker

import (
	"time"
)

// SentinelID marks the keep-alive row present in both the models and users tables.
const SentinelID = "dummy"

// PageNotFound is stored in Model.BiosPage when no working release page could be resolved.
const PageNotFound = "not found"

// Model is a tracked hardware entry with its last confirmed firmware release.
type Model struct {
	ID          string      `json:"id"`
	Name        string      `json:"model"`
	Maker       string      `json:"maker"`
	Socket      string      `json:"socket"`
	Link        string      `json:"link"`
	BiosPage    string      `json:"biospage"`
	HeldVersion string      `json:"heldversion"`
	HeldDate    ReleaseDate `json:"helddate"`
}

// IsSentinel reports whether m is the keep-alive row.
func (m Model) IsSentinel() bool {
	return m.ID == SentinelID || m.Name == SentinelID
}

// HasReleasePage reports whether the model points at a resolved release page.
func (m Model) HasReleasePage() bool {
	return m.BiosPage != "" && m.BiosPage != PageNotFound
}

// MergeModels returns base followed by every model in extra whose name base does not hold.
// Entries in base win on a shared name.
func MergeModels(base, extra []Model) []Model {
	out := make([]Model, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, m := range base {
		seen[m.Name] = struct{}{}
		out = append(out, m)
	}
	for _, m := range extra {
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		out = append(out, m)
	}
	return out
}

// User is a subscriber waiting for releases of a single model.
type User struct {
	ID            string      `json:"id"`
	Email         string      `json:"email"`
	Model         string      `json:"mobo"`
	GivenVersion  string      `json:"givenversion"`
	GivenDate     ReleaseDate `json:"givendate"`
	Verified      bool        `json:"verified"`
	SignupDate    time.Time   `json:"signupdate"`
	LastContacted time.Time   `json:"lastcontacted"`
	Donator       bool        `json:"donator"`
}

// IsSentinel reports whether u is the keep-alive row.
func (u User) IsSentinel() bool {
	return u.ID == SentinelID || u.Email == SentinelID
}

// Release is the newest row scraped from a release page.
type Release struct {
	URL     string
	Version string
	RawDate string
	Date    ReleaseDate
}

// Stage names used in summaries, metrics, and the run API.
const (
	StageDiscovery = "discovery"
	StageCheck     = "check"
	StageNotify    = "notify"
)

// Summary is the structured outcome of one pipeline stage.
type Summary struct {
	Stage      string            `json:"stage"`
	Title      string            `json:"title"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Total      int               `json:"total"`
	Succeeded  int               `json:"succeeded"`
	Errored    int               `json:"errored"`
	Deleted    int               `json:"deleted,omitempty"`
	Skipped    int               `json:"skipped,omitempty"`
	Details    []Detail          `json:"details,omitempty"`
	Errors     []ItemError       `json:"errors,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
	// RunError is set when the stage aborted or failed to persist its results.
	RunError string `json:"run_error,omitempty"`
}

// Detail records one changed item.
type Detail struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	OldVersion string `json:"old_version,omitempty"`
	NewVersion string `json:"new_version,omitempty"`
	OldDate    string `json:"old_date,omitempty"`
	NewDate    string `json:"new_date,omitempty"`
	Action     string `json:"action,omitempty"`
}

// ItemError records a per-item failure that did not abort the stage.
type ItemError struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Message string `json:"error"`
}

// AddError appends a per-item failure and bumps the error counter.
func (s *Summary) AddError(id, model string, err error) {
	s.Errored++
	s.Errors = append(s.Errors, ItemError{ID: id, Model: model, Message: err.Error()})
}

// Note stores a free-form key/value in the Additional map.
func (s *Summary) Note(key, value string) {
	if s.Additional == nil {
		s.Additional = make(map[string]string)
	}
	s.Additional[key] = value
}

// Failed reports whether the stage as a whole failed.
func (s Summary) Failed() bool {
	return s.RunError != ""
}
