package metrics

import (
	"database/sql"
	"time"
)

// DBPoolStats is a JSON-friendly view of sql.DBStats.
type DBPoolStats struct {
	OpenConnections    int
	InUse              int
	Idle               int
	MaxOpenConnections int
	WaitCount          int64
	WaitDuration       time.Duration
}

// PoolHealthStatus indicates the health of a connection pool.
type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// GetDBPoolStats reads pool statistics from db. A nil db yields zero stats.
func GetDBPoolStats(db *sql.DB) DBPoolStats {
	if db == nil {
		return DBPoolStats{}
	}
	s := db.Stats()
	return DBPoolStats{
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		MaxOpenConnections: s.MaxOpenConnections,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}

// Health grades pool utilization.
func (s DBPoolStats) Health() PoolHealthStatus {
	if s.MaxOpenConnections == 0 {
		return PoolHealthy
	}
	utilization := float64(s.InUse) / float64(s.MaxOpenConnections)
	switch {
	case utilization >= 0.95:
		return PoolUnhealthy
	case utilization >= 0.80, s.WaitDuration > 5*time.Second:
		return PoolDegraded
	default:
		return PoolHealthy
	}
}

func (s DBPoolStats) ToMap() map[string]any {
	return map[string]any{
		"open_connections":     s.OpenConnections,
		"in_use":               s.InUse,
		"idle":                 s.Idle,
		"max_open_connections": s.MaxOpenConnections,
		"wait_count":           s.WaitCount,
		"wait_duration_ms":     s.WaitDuration.Milliseconds(),
		"health":               s.Health(),
	}
}
