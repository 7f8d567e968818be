package vault

import (
	"errors"
	"strconv"
	"time"

	"github.com/Klingon-tech/klingnet-vault/pkg/types"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of the engine.
type Metrics struct {
	opDuration  *prometheus.HistogramVec
	opsTotal    *prometheus.CounterVec
	rollbacks   *prometheus.CounterVec
	totalSupply prometheus.Gauge
	whitelisted prometheus.Gauge
}

// NewMetrics creates the engine metrics and registers them with reg when it
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_operation_duration_seconds",
			Help:    "Time taken by a vault operation, including external calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Vault operations, labeled by operation and result.",
		}, []string{"op", "result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_rollbacks_total",
			Help: "Compensating actions run after a failed external call.",
		}, []string{"op", "step"}),
		totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_supply_lp",
			Help: "Total LP supply held by depositors, in whole tokens.",
		}),
		whitelisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vault_whitelisted_assets",
			Help: "Number of whitelisted alternative deposit assets.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.opDuration, m.opsTotal, m.rollbacks, m.totalSupply, m.whitelisted)
	}
	return m
}

func (m *Metrics) observe(op string, err error, d time.Duration) {
	m.opsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	if d > 0 {
		m.opDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

func (m *Metrics) rollback(op, step string) {
	m.rollbacks.WithLabelValues(op, step).Inc()
}

func (m *Metrics) setSupply(supply *uint256.Int) {
	f, err := strconv.ParseFloat(types.FormatUnits(supply, types.Decimals), 64)
	if err == nil {
		m.totalSupply.Set(f)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrExceededAmount),
		errors.Is(err, ErrNotWhitelisted), errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidAsset):
		return "rejected"
	case errors.Is(err, ErrReentrant):
		return "reentrant"
	default:
		return "failed"
	}
}
