// Package monitor records operation latencies in the store and aggregates
// them into per-symbol percentile summaries and gauges.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ShiningRay/exchange-engine/internal/core"
	"github.com/ShiningRay/exchange-engine/internal/port"
)

// Operation names recorded by the processors.
const (
	OpAddLimit  = "add_limit_order"
	OpAddMarket = "add_market_order"
	OpCancel    = "cancel_order"
)

// Operations lists every recorded operation, used when aggregating.
var Operations = []string{OpAddLimit, OpAddMarket, OpCancel}

// Window is how long latency samples are retained.
const Window = time.Hour

// OpStats summarises one operation's samples over the window.
type OpStats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// SymbolMetrics is the per-symbol aggregate exposed by Metrics.
type SymbolMetrics struct {
	Operations  map[string]OpStats `json:"operations"`
	QueueLength int64              `json:"queue_length"`
	RestingBids int64              `json:"resting_bids"`
	RestingAsks int64              `json:"resting_asks"`
}

type Monitor struct {
	store port.Store
	log   *zap.Logger

	registry     *prometheus.Registry
	opsTotal     *prometheus.CounterVec
	queueLength  *prometheus.GaugeVec
	restingGauge *prometheus.GaugeVec
}

func New(store port.Store, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{
		store:    store,
		log:      log,
		registry: prometheus.NewRegistry(),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_operations_total",
			Help: "Processed operations by symbol and operation.",
		}, []string{"symbol", "operation"}),
		queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_pending_queue_length",
			Help: "Pending list length by symbol.",
		}, []string{"symbol"}),
		restingGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_resting_orders",
			Help: "Resting order count by symbol and side.",
		}, []string{"symbol", "side"}),
	}
	m.registry.MustRegister(m.opsTotal, m.queueLength, m.restingGauge)
	return m
}

// Registry exposes the Prometheus collectors for the /metrics handler.
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// Record stores one latency sample and bumps the operation counter.
// Samples older than the window are evicted on each write.
func (m *Monitor) Record(ctx context.Context, op, symbol string, d time.Duration) error {
	now := time.Now()
	ms := float64(d.Microseconds()) / 1000.0
	key := core.MetricsKey(symbol, op)
	member := fmt.Sprintf("%d:%s", now.UnixNano(), strconv.FormatFloat(ms, 'f', -1, 64))
	if err := m.store.ZAdd(ctx, key, float64(now.Unix()), member); err != nil {
		return err
	}
	if err := m.store.ZRemRangeByScore(ctx, key, 0, float64(now.Add(-Window).Unix())); err != nil {
		return err
	}
	if _, err := m.store.Incr(ctx, core.CountKey(symbol, op)); err != nil {
		return err
	}
	m.opsTotal.WithLabelValues(symbol, op).Inc()
	return nil
}

// Percentile computes the nearest-rank percentile (e.g. 95 for p95) over
// the window's samples for one operation.
func (m *Monitor) Percentile(ctx context.Context, op string, p float64, symbol string) (float64, error) {
	samples, err := m.samples(ctx, symbol, op)
	if err != nil {
		return 0, err
	}
	return percentile(samples, p), nil
}

// Metrics aggregates every symbol's operations plus its queue length and
// resting-order counts, and refreshes the exported gauges.
func (m *Monitor) Metrics(ctx context.Context) (map[string]SymbolMetrics, error) {
	symbols, err := m.store.SetMembers(ctx, core.SymbolRegistryKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]SymbolMetrics, len(symbols))
	for _, symbol := range symbols {
		sm := SymbolMetrics{Operations: make(map[string]OpStats, len(Operations))}
		for _, op := range Operations {
			stats, err := m.opStats(ctx, symbol, op)
			if err != nil {
				return nil, err
			}
			sm.Operations[op] = stats
		}
		if sm.QueueLength, err = m.store.ListLen(ctx, core.PendingKey(symbol)); err != nil {
			return nil, err
		}
		if sm.RestingBids, err = m.store.ZCard(ctx, core.BuyOrdersKey(symbol)); err != nil {
			return nil, err
		}
		if sm.RestingAsks, err = m.store.ZCard(ctx, core.SellOrdersKey(symbol)); err != nil {
			return nil, err
		}
		m.queueLength.WithLabelValues(symbol).Set(float64(sm.QueueLength))
		m.restingGauge.WithLabelValues(symbol, "buy").Set(float64(sm.RestingBids))
		m.restingGauge.WithLabelValues(symbol, "sell").Set(float64(sm.RestingAsks))
		out[symbol] = sm
	}
	return out, nil
}

func (m *Monitor) opStats(ctx context.Context, symbol, op string) (OpStats, error) {
	samples, err := m.samples(ctx, symbol, op)
	if err != nil {
		return OpStats{}, err
	}
	stats := OpStats{}
	if raw, err := m.store.Get(ctx, core.CountKey(symbol, op)); err != nil {
		return OpStats{}, err
	} else if raw != "" {
		stats.Count, _ = strconv.ParseInt(raw, 10, 64)
	}
	if len(samples) == 0 {
		return stats, nil
	}
	stats.Min = samples[0]
	stats.Max = samples[len(samples)-1]
	var sum float64
	for _, s := range samples {
		sum += s
	}
	stats.Avg = sum / float64(len(samples))
	stats.P95 = percentile(samples, 95)
	stats.P99 = percentile(samples, 99)
	return stats, nil
}

// samples returns the window's durations in ascending order.
func (m *Monitor) samples(ctx context.Context, symbol, op string) ([]float64, error) {
	members, err := m.store.ZRange(ctx, core.MetricsKey(symbol, op), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(members))
	for _, member := range members {
		_, durPart, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(durPart, 64)
		if err != nil {
			m.log.Warn("undecodable latency sample", zap.String("member", member))
			continue
		}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out, nil
}

// percentile is nearest-rank over ascending samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
