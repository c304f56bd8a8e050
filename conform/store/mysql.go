package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Use it when several lab machines report into one result database.
//
// Security Warning:
//
//	NEVER hardcode credentials. Read the DSN from the environment:
//	    st, err := store.NewMySQLStore(os.Getenv("STREAMCHECK_MYSQL_DSN"))
type MySQLStore struct {
	sqlBackend
}

// NewMySQLStore connects to the database described by dsn
// ("user:pass@tcp(host:3306)/dbname") and creates the schema if needed.
// parseTime is always enabled because verdicts carry timestamps.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{
		sqlBackend: sqlBackend{
			db: db,
			upsertVerdict: `
				INSERT INTO run_verdicts
					(run_id, scenario, outcome, unexpected_transition, position_increased,
					 position_retrograde, worker_error, mismatches, steps, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE
					scenario = VALUES(scenario),
					outcome = VALUES(outcome),
					unexpected_transition = VALUES(unexpected_transition),
					position_increased = VALUES(position_increased),
					position_retrograde = VALUES(position_retrograde),
					worker_error = VALUES(worker_error),
					mismatches = VALUES(mismatches),
					steps = VALUES(steps),
					created_at = VALUES(created_at)`,
		},
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	transitions := `
		CREATE TABLE IF NOT EXISTS run_transitions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			trigger_name VARCHAR(64) NOT NULL,
			from_state VARCHAR(32) NOT NULL,
			to_state VARCHAR(32) NOT NULL,
			status INT NOT NULL,
			byte_count INT NOT NULL,
			frames BIGINT NOT NULL,
			latency_ms INT NOT NULL,
			xrun_frames INT NOT NULL,
			accepted BOOLEAN NOT NULL,
			INDEX idx_run_step (run_id, step),
			UNIQUE KEY unique_run_step (run_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`
	if _, err := m.db.ExecContext(ctx, transitions); err != nil {
		return fmt.Errorf("failed to create run_transitions table: %w", err)
	}

	verdicts := `
		CREATE TABLE IF NOT EXISTS run_verdicts (
			run_id VARCHAR(255) PRIMARY KEY,
			scenario VARCHAR(255) NOT NULL,
			outcome VARCHAR(16) NOT NULL,
			unexpected_transition TEXT NOT NULL,
			position_increased BOOLEAN NOT NULL,
			position_retrograde BOOLEAN NOT NULL,
			worker_error TEXT NOT NULL,
			mismatches JSON NOT NULL,
			steps INT NOT NULL,
			created_at TIMESTAMP(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`
	if _, err := m.db.ExecContext(ctx, verdicts); err != nil {
		return fmt.Errorf("failed to create run_verdicts table: %w", err)
	}
	return nil
}
