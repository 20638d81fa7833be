package database

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kukipiyo/PiyoXAssistant/internal/retry"
)

// NewWithRetry opens the database with exponential backoff, covering the
// window where the data directory is still being mounted at startup.
func NewWithRetry(ctx context.Context, dbPath string, logger *logrus.Logger) (*Database, error) {
	var db *Database

	policy := retry.DefaultPolicy()
	err := policy.Do(ctx, func() error {
		var openErr error
		db, openErr = New(dbPath, logger)
		if openErr != nil {
			logger.WithError(openErr).Warn("Database open failed, retrying")
		}
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database after retries: %w", err)
	}
	return db, nil
}
