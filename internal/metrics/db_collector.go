// Package metrics provides Prometheus metrics for the backend API
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBStatsCollector publishes connection statistics for the pgx pool and the
// database/sql handle used by sqlx. The two are summed because both talk to
// the same PostgreSQL instance.
type DBStatsCollector struct {
	pgxPool *pgxpool.Pool
	sqlxDB  *sql.DB
	logger  *slog.Logger
	stopCh  chan struct{}
}

// NewDBStatsCollector creates a new database stats collector
func NewDBStatsCollector(pgxPool *pgxpool.Pool, sqlxDB *sql.DB, logger *slog.Logger) *DBStatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBStatsCollector{
		pgxPool: pgxPool,
		sqlxDB:  sqlxDB,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting database statistics at regular intervals
func (c *DBStatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Collect initial stats
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()

	c.logger.Info("database stats collector started", slog.Duration("interval", interval))
}

// Stop stops the database stats collector
func (c *DBStatsCollector) Stop() {
	close(c.stopCh)
	c.logger.Info("database stats collector stopped")
}

// collect gathers database statistics and updates Prometheus metrics
func (c *DBStatsCollector) collect() {
	var open, inUse, idle, maxOpen float64

	if c.pgxPool != nil {
		stat := c.pgxPool.Stat()
		open += float64(stat.TotalConns())
		inUse += float64(stat.AcquiredConns())
		idle += float64(stat.IdleConns())
		maxOpen += float64(stat.MaxConns())
	}

	if c.sqlxDB != nil {
		stats := c.sqlxDB.Stats()
		open += float64(stats.OpenConnections)
		inUse += float64(stats.InUse)
		idle += float64(stats.Idle)
		maxOpen += float64(stats.MaxOpenConnections)
	}

	DBConnectionsOpen.Set(open)
	DBConnectionsInUse.Set(inUse)
	DBConnectionsIdle.Set(idle)
	DBConnectionsMaxOpen.Set(maxOpen)
}

// RecordQueryDuration records the duration of a database query
func RecordQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// TimeQuery is a helper function to time database queries
// Usage: defer metrics.TimeQuery("select_user")()
func TimeQuery(operation string) func() {
	start := time.Now()
	return func() {
		RecordQueryDuration(operation, time.Since(start))
	}
}

// PingDatabase checks database connectivity and records the result
func PingDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	start := time.Now()
	err := pool.Ping(ctx)
	RecordQueryDuration("ping", time.Since(start))
	return err
}
