package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect establishes a connection to PostgreSQL with retries.
func Connect(databaseURL string, log *zap.Logger) (*sql.DB, error) {
	var db *sql.DB
	var err error

	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			log.Warn("failed to open database, retrying in 2s", zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			log.Info("connected to postgres")
			return db, nil
		}

		log.Warn("failed to ping database, retrying in 2s", zap.Error(err))
		time.Sleep(2 * time.Second)
	}

	return nil, fmt.Errorf("could not connect to database after 30 attempts: %w", err)
}
