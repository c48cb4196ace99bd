package crawler

import (
	"context"
	"iter"
	"time"
)

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
}

// CheckpointStore loads and saves the resumption point of a job. Saves must be
// atomic per job.
type CheckpointStore interface {
	// LoadCheckpoint returns false when the job has no checkpoint yet.
	LoadCheckpoint(ctx context.Context, jobID string) (Checkpoint, bool, error)
	SaveCheckpoint(ctx context.Context, jobID string, cp Checkpoint) error
}

// EntityStore persists entities keyed by identifier.
type EntityStore interface {
	// UpsertEntity inserts or replaces the entity atomically.
	UpsertEntity(ctx context.Context, entity Entity) error
	// GetEntity returns ErrNotFound when the entity is unknown.
	GetEntity(ctx context.Context, id string) (Entity, error)
	// FindEntities matches a case-insensitive substring of the name.
	FindEntities(ctx context.Context, name string) ([]Entity, error)
}

// Store bundles every persistence port behind one backend.
type Store interface {
	JobStore
	CheckpointStore
	EntityStore
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PageFetcher fetches a URL and returns its content and outbound links.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe Page) bool
}

// Downloader fetches an artifact and computes its content hash.
type Downloader interface {
	Download(ctx context.Context, url string) (Download, error)
}

// Extractor converts downloaded bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Searcher queries an external index. The returned sequence is lazy, finite
// and consumed once.
type Searcher interface {
	Search(ctx context.Context, query string, domain string) iter.Seq2[string, error]
}

// ListingSource pages through the source-of-record and resolves entity details.
type ListingSource interface {
	ListingPage(ctx context.Context, scope Scope, page int) (ListingPage, error)
	Resolve(ctx context.Context, ref EntityRef) (Entity, error)
}

// RetryPolicy decides whether and when a failed call is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// RateLimiter paces outbound requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
