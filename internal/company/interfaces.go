package company

import (
	"context"
	"io"
	"time"
)

// Store is the persistent store that doubles as the work queue.
type Store interface {
	// SelectBatch returns up to limit unprocessed records with id >= cursor, ordered by id.
	SelectBatch(ctx context.Context, cursor int64, limit int) ([]Record, error)
	// UpdateRecord writes the product fields and update timestamp for one record.
	UpdateRecord(ctx context.Context, id int64, product Product, updatedAt time.Time) error
}

// BlobStore archives diagnostic artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes enrichment events to a topic.
type Publisher interface {
	Publish(ctx context.Context, event EnrichmentEvent) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
