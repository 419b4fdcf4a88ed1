package db

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/causelift/campaign-engine/store"
)

// AuditLogCleaner periodically trims audit-log rows older than the retention
// period. Governance rate limiting only looks back one hour, so a long
// retention window (default 90 days) keeps the trail useful for operators
// without growing the table forever.
type AuditLogCleaner struct {
	database        *DB
	ticker          *time.Ticker
	logger          zerolog.Logger
	stopCh          chan struct{}
	cleanupInterval time.Duration
	retentionPeriod time.Duration
}

// NewAuditLogCleaner creates a new audit log cleaner.
func NewAuditLogCleaner(database *DB, cleanupInterval, retentionPeriod time.Duration, logger zerolog.Logger) *AuditLogCleaner {
	if cleanupInterval <= 0 {
		cleanupInterval = 6 * time.Hour
	}
	if retentionPeriod <= 0 {
		retentionPeriod = 90 * 24 * time.Hour
	}
	return &AuditLogCleaner{
		database:        database,
		cleanupInterval: cleanupInterval,
		retentionPeriod: retentionPeriod,
		logger:          logger.With().Str("component", "audit_log_cleaner").Logger(),
		stopCh:          make(chan struct{}),
	}
}

// Start begins the periodic cleanup process.
func (c *AuditLogCleaner) Start(ctx context.Context) error {
	c.logger.Info().
		Dur("cleanup_interval", c.cleanupInterval).
		Dur("retention_period", c.retentionPeriod).
		Msg("starting audit log cleaner")

	if err := c.performCleanup(); err != nil {
		// Don't fail startup on cleanup error, just log it
		c.logger.Error().Err(err).Msg("failed to perform initial cleanup")
	}

	c.ticker = time.NewTicker(c.cleanupInterval)

	go func() {
		defer c.ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-c.ticker.C:
				if err := c.performCleanup(); err != nil {
					c.logger.Error().Err(err).Msg("periodic audit log cleanup failed")
				}
			}
		}
	}()

	return nil
}

// Stop halts the periodic cleanup process.
func (c *AuditLogCleaner) Stop() {
	close(c.stopCh)
}

func (c *AuditLogCleaner) performCleanup() error {
	cutoff := time.Now().Add(-c.retentionPeriod)

	result := c.database.Client().
		Where("created_at < ?", cutoff).
		Delete(&store.AuditLog{})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		c.logger.Info().
			Int64("rows_deleted", result.RowsAffected).
			Time("cutoff", cutoff).
			Msg("trimmed audit log")
	}
	return nil
}
