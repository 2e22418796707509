package tracker

import (
	"context"
	"io"
	"time"
)

// PageFetcher retrieves the newest release listed on a release page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Release, error)
}

// ModelStore persists tracked models.
type ModelStore interface {
	GetModels(ctx context.Context) ([]Model, error)
	SaveModels(ctx context.Context, models []Model) error
}

// UserStore persists subscribers.
type UserStore interface {
	GetUsers(ctx context.Context) ([]User, error)
	SaveUsers(ctx context.Context, users []User) error
	DeleteUser(ctx context.Context, identifier string) error
}

// Store is the relational catalog: models plus users.
type Store interface {
	ModelStore
	UserStore
}

// Snapshot is the non-authoritative local JSON mirror of the model list.
type Snapshot interface {
	Load(ctx context.Context) ([]Model, error)
	Save(ctx context.Context, models []Model) error
}

// Mailer delivers one release notification. Failures should be *DeliveryError.
type Mailer interface {
	Send(ctx context.Context, user User, model Model) error
}

// Reporter receives stage summaries. Callers never let its failures escape.
type Reporter interface {
	Publish(ctx context.Context, summary Summary) error
}

// BlobStore uploads an artifact and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Pacer blocks until the next remote call may proceed.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces stable opaque identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
