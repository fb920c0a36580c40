package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Pinger is the part of the pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PendingCounter reports unapplied migrations. *Migrator implements it.
type PendingCounter interface {
	Pending(ctx context.Context) (int, error)
}

// HealthReport is the body of GET /health/db.
type HealthReport struct {
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	PendingMigrations int        `json:"pending_migrations"`
	Pool              *PoolStats `json:"pool,omitempty"`
}

// HealthHandler pings the database and reports unapplied migrations. A
// database with pending migrations is reported as degraded.
func HealthHandler(p Pinger, migrations PendingCounter, stats func() *PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		report := HealthReport{Status: "healthy"}
		if stats != nil {
			report.Pool = stats()
		}

		if err := p.Ping(ctx); err != nil {
			report.Status = "unhealthy"
			report.Error = err.Error()
			if report.Pool != nil {
				report.Pool.Healthy = false
			}
			return c.JSON(http.StatusServiceUnavailable, report)
		}

		if migrations != nil {
			n, err := migrations.Pending(ctx)
			if err != nil {
				report.Status = "unhealthy"
				report.Error = err.Error()
				return c.JSON(http.StatusServiceUnavailable, report)
			}
			report.PendingMigrations = n
			if n > 0 {
				report.Status = "degraded"
			}
		}

		return c.JSON(http.StatusOK, report)
	}
}
