package service

import (
	"context"
	"errors"
	"fmt"
	"readsync/internal/config"
	"readsync/internal/core/domain/models"
	"readsync/internal/core/domain/ports"
	"readsync/internal/resilience"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SyncService struct {
	cfg     *config.Config
	auth    ports.TokenProvider
	src     ports.BookSource
	writer  *BatchWriter
	mapper  *Mapper
	history ports.RunRecorder
	logger  *zap.Logger
}

// NewSyncService wires one run of the pipeline. history may be nil.
func NewSyncService(
	cfg *config.Config,
	auth ports.TokenProvider,
	src ports.BookSource,
	dest ports.RecordDestination,
	history ports.RunRecorder,
	logger *zap.Logger,
) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		cfg:     cfg,
		auth:    auth,
		src:     src,
		writer:  NewBatchWriter(dest, cfg.BatchSize, cfg.PacingDelay, logger.Named("writer")),
		mapper:  NewMapper(cfg),
		history: history,
		logger:  logger,
	}
}

// Run executes token fetch, shelf read, transform and batched write, in
// that order. Configuration, authentication and shelf failures abort the
// run before anything is written. Batch failures do not; the run only
// fails on writes when no row at all was delivered.
func (s *SyncService) Run(ctx context.Context) (summary models.RunSummary, err error) {
	summary = models.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := s.logger.With(zap.String("run_id", summary.RunID))

	defer func() {
		summary.FinishedAt = time.Now()
		if err != nil {
			summary.Status = models.RunStatusFailed
			summary.Error = err.Error()
		}
		s.recordRun(ctx, log, summary)
	}()

	err = s.run(ctx, log, &summary)
	return summary, err
}

func (s *SyncService) run(ctx context.Context, log *zap.Logger, summary *models.RunSummary) error {
	var token models.Token
	if s.cfg.DryRun {
		log.Info("dry run: skipping access token and writes")
	} else {
		log.Info("fetching access token")
		t, err := s.auth.FetchToken(ctx)
		if err != nil {
			if !errors.Is(err, models.ErrAuthentication) {
				err = fmt.Errorf("%w: %v", models.ErrAuthentication, err)
			}
			log.Error("could not obtain access token, aborting", zap.Error(err))
			return err
		}
		token = t
		log.Info("access token obtained", zap.Duration("expires_in", t.ExpiresIn))
	}

	log.Info("fetching books from shelf")
	books, err := s.fetchBooks(ctx, log)
	if err != nil {
		log.Error("could not read shelf, aborting without writing", zap.Error(err))
		return err
	}
	summary.Fetched = len(books)
	log.Info("books fetched", zap.Int("count", len(books)))

	records := s.transform(log, books)
	summary.Total = len(records)

	if s.cfg.DryRun {
		for i, r := range records {
			log.Info("dry run record", zap.Int("index", i), zap.Any("fields", r))
		}
		summary.Status = models.RunStatusDryRun
		log.Info("sync finished",
			zap.String("result", fmt.Sprintf("0/%d", summary.Total)),
			zap.Int("succeeded", 0),
			zap.Int("total", summary.Total),
		)
		return nil
	}

	log.Info("writing records", zap.Int("total", len(records)), zap.Int("batch_size", s.cfg.BatchSize))
	result := s.writer.WriteAll(ctx, records, token)
	summary.Succeeded = result.Succeeded
	summary.FailedBatches = result.FailedBatches

	log.Info("sync finished",
		zap.String("result", fmt.Sprintf("%d/%d", result.Succeeded, result.Total)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("total", result.Total),
		zap.Int("failed_batches", result.FailedBatches),
	)

	switch {
	case result.Succeeded == result.Total:
		summary.Status = models.RunStatusSucceeded
	case result.Succeeded > 0:
		summary.Status = models.RunStatusPartial
	default:
		return fmt.Errorf("%w: none of %d records were written", models.ErrWriteBatch, result.Total)
	}
	return nil
}

func (s *SyncService) fetchBooks(ctx context.Context, log *zap.Logger) ([]models.SourceRecord, error) {
	var shouldRetry resilience.ShouldRetry[[]models.SourceRecord] = resilience.OnError[[]models.SourceRecord]
	if s.cfg.TreatEmptyAsFailed {
		// An empty shelf is indistinguishable from a failed read here.
		shouldRetry = resilience.OnErrorOrEmpty[models.SourceRecord]
	}

	policy := resilience.Policy{
		MaxAttempts: s.cfg.FetchAttempts,
		Backoff:     s.cfg.FetchBackoff,
		Notify: func(attempt int, err error, wait time.Duration) {
			log.Warn("shelf fetch attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", s.cfg.FetchAttempts),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		},
	}

	books, err := resilience.Do(ctx, policy, s.src.FetchBooks, shouldRetry)
	if err != nil {
		if errors.Is(err, resilience.ErrResultRejected) {
			return nil, fmt.Errorf("%w: shelf returned no books after %d attempts", models.ErrSourceFetch, s.cfg.FetchAttempts)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrSourceFetch, err)
	}
	if len(books) == 0 {
		log.Warn("shelf is empty, nothing to write")
	}
	return books, nil
}

func (s *SyncService) transform(log *zap.Logger, books []models.SourceRecord) []models.DestinationRecord {
	records := make([]models.DestinationRecord, 0, len(books))
	for i, b := range books {
		rec, notes := s.mapper.Map(b)
		for _, n := range notes {
			log.Info("record degraded", zap.Int("index", i), zap.Any("title", b["title"]), zap.String("detail", n))
		}
		records = append(records, rec)
	}
	return records
}

func (s *SyncService) recordRun(ctx context.Context, log *zap.Logger, summary models.RunSummary) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
		log.Warn("failed to record run history", zap.Error(err))
	}
}
