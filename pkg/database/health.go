package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PoolStatus is a point-in-time view of database reachability and
// connection pool pressure, surfaced by the health endpoint.
type PoolStatus struct {
	Reachable  bool  `json:"reachable"`
	PingMillis int64 `json:"ping_ms"`

	OpenConns int `json:"open_conns"`
	BusyConns int `json:"busy_conns"`
	IdleConns int `json:"idle_conns"`
	OpenLimit int `json:"open_limit"`

	// ConnWaits and ConnWaitMillis accumulate over the pool's lifetime;
	// a climbing wait time means the pool is undersized for the load.
	ConnWaits      int64 `json:"conn_waits"`
	ConnWaitMillis int64 `json:"conn_wait_ms"`
}

// Describe renders the status as a one-line health check message.
func (s *PoolStatus) Describe() string {
	return fmt.Sprintf("ping %dms, %d/%d connections busy", s.PingMillis, s.BusyConns, s.OpenLimit)
}

// CheckPool pings the database and snapshots the pool counters. The
// returned status is populated even when the ping fails, so callers can
// report pool pressure alongside the error.
func CheckPool(ctx context.Context, db *sqlx.DB) (*PoolStatus, error) {
	stats := db.Stats()
	status := &PoolStatus{
		OpenConns:      stats.OpenConnections,
		BusyConns:      stats.InUse,
		IdleConns:      stats.Idle,
		OpenLimit:      stats.MaxOpenConnections,
		ConnWaits:      stats.WaitCount,
		ConnWaitMillis: stats.WaitDuration.Milliseconds(),
	}

	start := time.Now()
	err := db.PingContext(ctx)
	status.PingMillis = time.Since(start).Milliseconds()
	status.Reachable = err == nil
	return status, err
}
