package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/meridiancrm/ai-core/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the request history schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS ai_request_history (
			id UUID PRIMARY KEY,
			request_id VARCHAR(255) NOT NULL,
			operation VARCHAR(50) NOT NULL,
			provider VARCHAR(100) NOT NULL DEFAULT '',
			model VARCHAR(100) NOT NULL DEFAULT '',
			transport VARCHAR(20) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			error_code VARCHAR(50) NOT NULL DEFAULT '',
			latency_ms BIGINT NOT NULL DEFAULT 0,
			cached BOOLEAN NOT NULL DEFAULT false,
			confidence INTEGER NOT NULL DEFAULT 0,
			cost_estimate DECIMAL(10, 6) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_ai_request_history_request_id ON ai_request_history(request_id);
		CREATE INDEX IF NOT EXISTS idx_ai_request_history_operation ON ai_request_history(operation);
		CREATE INDEX IF NOT EXISTS idx_ai_request_history_provider ON ai_request_history(provider);
		CREATE INDEX IF NOT EXISTS idx_ai_request_history_status ON ai_request_history(status);
		CREATE INDEX IF NOT EXISTS idx_ai_request_history_created_at ON ai_request_history(created_at);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
