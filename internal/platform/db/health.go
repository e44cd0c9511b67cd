package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckTimeout bounds the round trip made by Check.
const CheckTimeout = 5 * time.Second

// Health is the result of one reachability check against the store.
type Health struct {
	OK            bool          `json:"ok"`
	ServerVersion string        `json:"server_version,omitempty"`
	Latency       time.Duration `json:"latency"`
	Conns         ConnCounts    `json:"conns"`
	Error         string        `json:"error,omitempty"`
}

// ConnCounts is a snapshot of the pool's connections.
type ConnCounts struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
	Max      int32 `json:"max"`
}

func (h *Health) String() string {
	if !h.OK {
		return "postgres: unreachable (" + h.Error + ")"
	}
	return fmt.Sprintf("postgres %s: ok in %s (conns total=%d idle=%d max=%d)",
		h.ServerVersion, h.Latency.Round(time.Millisecond), h.Conns.Total, h.Conns.Idle, h.Conns.Max)
}

func connCounts(pool *pgxpool.Pool) ConnCounts {
	s := pool.Stat()
	return ConnCounts{
		Total:    s.TotalConns(),
		Idle:     s.IdleConns(),
		Acquired: s.AcquiredConns(),
		Max:      s.MaxConns(),
	}
}

// Check asks the server for its version and reports how long that took. The
// returned error is also recorded in Health.Error.
func Check(ctx context.Context, pool *pgxpool.Pool) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	h := &Health{}
	start := time.Now()
	err := pool.QueryRow(ctx, `SHOW server_version`).Scan(&h.ServerVersion)
	h.Latency = time.Since(start)
	h.Conns = connCounts(pool)
	if err != nil {
		h.Error = err.Error()
		return h, fmt.Errorf("check postgres: %w", err)
	}
	h.OK = true
	return h, nil
}
