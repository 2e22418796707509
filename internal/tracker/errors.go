package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FetchErrorKind classifies a release page failure.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchNetwork     FetchErrorKind = "network"
	FetchNotFound    FetchErrorKind = "not_found"
	FetchTimeout     FetchErrorKind = "timeout"
	FetchParse       FetchErrorKind = "parse"
	FetchUnavailable FetchErrorKind = "unavailable"
)

// FetchError is returned by every PageFetcher on failure.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err with kind. A nil err yields a generic message.
func NewFetchError(kind FetchErrorKind, url string, err error) *FetchError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &FetchError{Kind: kind, URL: url, Err: err}
}

// ClassifyFetchError wraps err as a FetchError, inferring timeouts from the error chain.
// Errors that already are FetchErrors are returned unchanged.
func ClassifyFetchError(url string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	kind := FetchNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = FetchTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = FetchTimeout
	}
	return NewFetchError(kind, url, err)
}

// FetchKind extracts the failure kind, or "" when err is not a FetchError.
func FetchKind(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// DeliveryError is the structured failure returned by a Mailer.
type DeliveryError struct {
	Kind    string
	Message string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed (%s): %s", e.Kind, e.Message)
}

// ErrModelNotFound is recorded when a subscriber references an unknown model name.
var ErrModelNotFound = errors.New("model not found")

// ErrSentinel is returned when a caller tries to delete the keep-alive row.
var ErrSentinel = errors.New("sentinel row is protected")
