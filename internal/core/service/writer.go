package service

import (
	"context"
	"readsync/internal/core/domain/models"
	"readsync/internal/core/domain/ports"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BatchWriter splits rows into fixed-size chunks and writes them one chunk
// at a time, in order, pausing between chunks.
//
// The destination reports one outcome per chunk, so a batch size of 1 gives
// per-record error attribution at the cost of one call per row.
type BatchWriter struct {
	dest      ports.RecordDestination
	batchSize int
	pacing    time.Duration
	logger    *zap.Logger
}

func NewBatchWriter(dest ports.RecordDestination, batchSize int, pacing time.Duration, logger *zap.Logger) *BatchWriter {
	if batchSize < 1 {
		batchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{
		dest:      dest,
		batchSize: batchSize,
		pacing:    pacing,
		logger:    logger,
	}
}

// WriteAll issues ceil(len(records)/batchSize) BatchCreate calls. A failed
// chunk is logged and counted as zero succeeded; later chunks still run.
// Only context cancellation stops the loop early.
func (w *BatchWriter) WriteAll(ctx context.Context, records []models.DestinationRecord, token models.Token) models.WriteResult {
	result := models.WriteResult{Total: len(records)}

	for start := 0; start < len(records); start += w.batchSize {
		if err := ctx.Err(); err != nil {
			w.logger.Error("write loop interrupted", zap.Int("remaining", len(records)-start), zap.Error(err))
			break
		}

		end := min(start+w.batchSize, len(records))
		chunk := records[start:end]

		result.Batches++
		batchNo := result.Batches
		if err := w.dest.BatchCreate(ctx, token, chunk); err != nil {
			result.FailedBatches++
			w.logger.Error("batch write failed",
				zap.Int("batch", batchNo),
				zap.Int("records", len(chunk)),
				zap.Error(err),
			)
		} else {
			result.Succeeded += len(chunk)
			w.logger.Info("batch written",
				zap.Int("batch", batchNo),
				zap.Int("records", len(chunk)),
			)
		}

		if end < len(records) {
			if err := w.pause(ctx); err != nil {
				w.logger.Error("write loop interrupted", zap.Int("remaining", len(records)-end), zap.Error(err))
				break
			}
		}
	}

	return result
}

// pause blocks for the full pacing delay, counted from now.
func (w *BatchWriter) pause(ctx context.Context) error {
	if w.pacing <= 0 {
		return ctx.Err()
	}
	limiter := rate.NewLimiter(rate.Every(w.pacing), 1)
	// Spend the initial burst so Wait covers a whole interval.
	limiter.Allow()
	return limiter.Wait(ctx)
}
