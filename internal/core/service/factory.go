package service

import (
	"readsync/internal/adapters/destination"
	"readsync/internal/adapters/source"
	"readsync/internal/config"
	"readsync/internal/core/domain/ports"

	"go.uber.org/zap"
)

func CreateBookSource(cfg *config.Config, logger *zap.Logger) ports.BookSource {
	return source.NewWeReadAdapter(cfg.WeReadShelfURL, cfg.WeReadCookie, cfg.HTTPTimeout, logger.Named("weread"))
}

func CreateTokenProvider(cfg *config.Config, logger *zap.Logger) ports.TokenProvider {
	return destination.NewFeishuAuthAdapter(cfg.TokenURL(), cfg.FeishuAppID, cfg.FeishuAppSecret, cfg.HTTPTimeout, logger.Named("feishu.auth"))
}

func CreateRecordDestination(cfg *config.Config, logger *zap.Logger) ports.RecordDestination {
	return destination.NewBitableAdapter(cfg.BitableRecordsURL(), cfg.HTTPTimeout, logger.Named("feishu.bitable"))
}

// CreateSyncService assembles the pipeline from configuration. history may
// be nil when run history is disabled.
func CreateSyncService(cfg *config.Config, history ports.RunRecorder, logger *zap.Logger) *SyncService {
	return NewSyncService(
		cfg,
		CreateTokenProvider(cfg, logger),
		CreateBookSource(cfg, logger),
		CreateRecordDestination(cfg, logger),
		history,
		logger.Named("sync"),
	)
}
