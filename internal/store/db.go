package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const (
	pingAttempts = 5
	pingBackoff  = time.Second
)

// Open connects to PostgreSQL through the pgx stdlib driver. The database
// often starts alongside the server, so the first ping is retried a few
// times before giving up.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One document, a handful of concurrent requests.
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(8)

	var pingErr error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			return db, nil
		}
		logger.Warn("database not ready",
			zap.Int("attempt", attempt),
			zap.Int("of", pingAttempts),
			zap.Error(pingErr),
		)
		if attempt == pingAttempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("ping db: %w", ctx.Err())
		case <-time.After(pingBackoff * time.Duration(attempt)):
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("ping db: %w", pingErr)
}
