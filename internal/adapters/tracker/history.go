package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"readsync/internal/core/domain/models"
	"readsync/internal/core/domain/ports"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Ensure HistoryStore implements RunRecorder
var _ ports.RunRecorder = (*HistoryStore)(nil)

// runRow is one finished run. Rows are only appended and listed; the sync
// pipeline never reads them back.
type runRow struct {
	bun.BaseModel `bun:"table:sync_runs,alias:sr"`

	ID            int64     `bun:",pk,autoincrement"`
	RunID         string    `bun:",unique,notnull"`
	StartedAt     time.Time `bun:",notnull"`
	FinishedAt    time.Time `bun:",notnull"`
	Fetched       int       `bun:",notnull"`
	Total         int       `bun:",notnull"`
	Succeeded     int       `bun:",notnull"`
	FailedBatches int       `bun:",notnull"`
	Status        string    `bun:",notnull"`
	Error         string    `bun:",nullzero"`
}

// HistoryStore is an append-only audit log of runs in SQLite.
type HistoryStore struct {
	db *bun.DB
}

// OpenHistoryStore opens (creating if needed) the SQLite file at path.
func OpenHistoryStore(ctx context.Context, path string) (*HistoryStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store, err := NewHistoryStore(ctx, sqldb)
	if err != nil {
		sqldb.Close()
		return nil, err
	}
	return store, nil
}

func NewHistoryStore(ctx context.Context, sqldb *sql.DB) (*HistoryStore, error) {
	db := bun.NewDB(sqldb, sqlitedialect.New())

	if _, err := db.NewCreateTable().Model((*runRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create sync_runs table: %w", err)
	}

	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) RecordRun(ctx context.Context, summary models.RunSummary) error {
	row := &runRow{
		RunID:         summary.RunID,
		StartedAt:     summary.StartedAt.UTC(),
		FinishedAt:    summary.FinishedAt.UTC(),
		Fetched:       summary.Fetched,
		Total:         summary.Total,
		Succeeded:     summary.Succeeded,
		FailedBatches: summary.FailedBatches,
		Status:        string(summary.Status),
		Error:         summary.Error,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", summary.RunID, err)
	}
	return nil
}

// RecentRuns lists up to limit runs, newest first.
func (s *HistoryStore) RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	var rows []runRow
	if err := s.db.NewSelect().Model(&rows).Order("id DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]models.RunSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.RunSummary{
			RunID:         r.RunID,
			StartedAt:     r.StartedAt,
			FinishedAt:    r.FinishedAt,
			Fetched:       r.Fetched,
			Total:         r.Total,
			Succeeded:     r.Succeeded,
			FailedBatches: r.FailedBatches,
			Status:        models.RunStatus(r.Status),
			Error:         r.Error,
		})
	}
	return out, nil
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}
