package postgres

import (
	"database/sql"

	"go.uber.org/zap"
)

// RunMigrations executes the schema statements for the given service.
func RunMigrations(db *sql.DB, service string, log *zap.Logger) error {
	for _, m := range serviceMigrations(service) {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Info("migrations completed", zap.String("migration_service", service))
	return nil
}

const processedEventsTable = `CREATE TABLE IF NOT EXISTS processed_events (
	event_id VARCHAR(36) PRIMARY KEY,
	event_type VARCHAR(50) NOT NULL,
	processed_at TIMESTAMP NOT NULL DEFAULT NOW()
)`

func serviceMigrations(service string) []string {
	switch service {
	case "api":
		return []string{
			`CREATE TABLE IF NOT EXISTS users (
				id VARCHAR(36) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL UNIQUE,
				age INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(20) NOT NULL DEFAULT 'active',
				tags JSONB,
				profile JSONB,
				created_at TIMESTAMP NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
				version BIGINT NOT NULL DEFAULT 1
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_status ON users (status)`,
			`CREATE INDEX IF NOT EXISTS idx_users_name ON users (LOWER(name))`,
		}
	case "lifecycle":
		return []string{
			processedEventsTable,
			`CREATE TABLE IF NOT EXISTS audit_log (
				id SERIAL PRIMARY KEY,
				event_id VARCHAR(36) NOT NULL UNIQUE,
				correlation_id VARCHAR(36),
				event_type VARCHAR(50) NOT NULL,
				user_id VARCHAR(36) NOT NULL,
				detail TEXT,
				recorded_at TIMESTAMP NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS user_search_index (
				user_id VARCHAR(36) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				indexed_at TIMESTAMP NOT NULL DEFAULT NOW()
			)`,
		}
	case "notification":
		return []string{
			processedEventsTable,
			`CREATE TABLE IF NOT EXISTS notification_log (
				id SERIAL PRIMARY KEY,
				event_id VARCHAR(36) NOT NULL UNIQUE,
				correlation_id VARCHAR(36),
				recipient_id VARCHAR(36) NOT NULL,
				channel VARCHAR(20) NOT NULL,
				title VARCHAR(255),
				priority VARCHAR(20) NOT NULL,
				delivered_at TIMESTAMP NOT NULL DEFAULT NOW()
			)`,
		}
	default:
		return []string{processedEventsTable}
	}
}
