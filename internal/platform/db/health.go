package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
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

// LatestRun is the most recent run stored in a result schema.
type LatestRun struct {
	RunID      string    `json:"run_id"`
	Site       string    `json:"site"`
	FinishedAt time.Time `json:"finished_at"`
}

// QueryLatestRun returns nil when the schema has no runs yet.
func QueryLatestRun(ctx context.Context, pool *pgxpool.Pool, schema string) (*LatestRun, error) {
	var r LatestRun
	err := pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT run_id::text, site, finished_at FROM %s ORDER BY finished_at DESC LIMIT 1`,
			pgx.Identifier{schema, "runs"}.Sanitize()),
	).Scan(&r.RunID, &r.Site, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run in %s: %w", schema, err)
	}
	return &r, nil
}

type healthBody struct {
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	Pool      *PoolStats `json:"pool"`
	LatestRun *LatestRun `json:"latest_run,omitempty"`
}

func newHealthBody(stats *PoolStats, latest *LatestRun, err error) (int, healthBody) {
	if err != nil {
		stats.Healthy = false
		return http.StatusServiceUnavailable, healthBody{Status: "unhealthy", Error: err.Error(), Pool: stats}
	}
	return http.StatusOK, healthBody{Status: "healthy", Pool: stats, LatestRun: latest}
}

// HealthHandler pings the database and reports the latest stored run.
func HealthHandler(pool *pgxpool.Pool, schema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		var latest *LatestRun
		err := pool.Ping(ctx)
		if err == nil {
			latest, err = QueryLatestRun(ctx, pool, schema)
		}
		status, body := newHealthBody(GetPoolStats(pool), latest, err)
		return c.JSON(status, body)
	}
}
