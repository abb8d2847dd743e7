package ports

import (
	"context"
	"readsync/internal/core/domain/models"
)

// BookSource reads the caller's shelf from the reading tracker.
type BookSource interface {
	FetchBooks(ctx context.Context) ([]models.SourceRecord, error)
}

// TokenProvider issues a bearer token for the destination platform.
type TokenProvider interface {
	FetchToken(ctx context.Context) (models.Token, error)
}

// RecordDestination inserts one batch of rows. A batch either succeeds or
// fails as a whole.
type RecordDestination interface {
	BatchCreate(ctx context.Context, token models.Token, records []models.DestinationRecord) error
}

// RunRecorder keeps an audit trail of finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary models.RunSummary) error
	RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
}
