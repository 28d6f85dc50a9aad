// Package db opens the pgx pool used by the postgres kv backend and exposes
// its statistics to the health endpoint and to Prometheus.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const healthCheckPeriod = 30 * time.Second

// NewPool connects and pings. Zero connection limits keep the pgx defaults.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.HealthCheckPeriod = healthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Total        int32  `json:"total_conns"`
	Idle         int32  `json:"idle_conns"`
	Acquired     int32  `json:"acquired_conns"`
	Max          int32  `json:"max_conns"`
	Acquires     int64  `json:"acquire_count"`
	EmptyAcquire int64  `json:"empty_acquire_count"`
	AcquireWait  string `json:"acquire_duration"`
	Healthy      bool   `json:"healthy"`
}

func Snapshot(pool *pgxpool.Pool) *Stats {
	st := pool.Stat()
	return &Stats{
		Total:        st.TotalConns(),
		Idle:         st.IdleConns(),
		Acquired:     st.AcquiredConns(),
		Max:          st.MaxConns(),
		Acquires:     st.AcquireCount(),
		EmptyAcquire: st.EmptyAcquireCount(),
		AcquireWait:  st.AcquireDuration().String(),
		Healthy:      st.TotalConns() > 0,
	}
}

// Collector exports pool statistics on every scrape.
type Collector struct {
	pool *pgxpool.Pool

	conns        *prometheus.Desc
	maxConns     *prometheus.Desc
	acquires     *prometheus.Desc
	emptyAcquire *prometheus.Desc
	acquireWait  *prometheus.Desc
}

func NewCollector(pool *pgxpool.Pool, namespace string) *Collector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "db_pool", n) }
	return &Collector{
		pool:         pool,
		conns:        prometheus.NewDesc(name("conns"), "Pool connections by state.", []string{"state"}, nil),
		maxConns:     prometheus.NewDesc(name("max_conns"), "Configured connection limit.", nil, nil),
		acquires:     prometheus.NewDesc(name("acquires_total"), "Successful connection acquires.", nil, nil),
		emptyAcquire: prometheus.NewDesc(name("empty_acquires_total"), "Acquires that had to wait for a connection.", nil, nil),
		acquireWait:  prometheus.NewDesc(name("acquire_seconds_total"), "Total time spent acquiring connections.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conns
	ch <- c.maxConns
	ch <- c.acquires
	ch <- c.emptyAcquire
	ch <- c.acquireWait
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(st.IdleConns()), "idle")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(st.AcquiredConns()), "acquired")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(st.ConstructingConns()), "constructing")
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(st.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(st.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(st.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireWait, prometheus.CounterValue, st.AcquireDuration().Seconds())
}
