package metrics

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"costbasis/internal/costbasis"
	"costbasis/internal/scan"
)

const namespace = "costbasis"

// Recorder exports scan and reconstruction progress to prometheus.
// It implements scan.Observer and costbasis.Observer.
type Recorder struct {
	QueryFailures   *prometheus.CounterVec
	WindowsScanned  *prometheus.CounterVec
	LogsCollected   *prometheus.CounterVec
	SwapsFolded     prometheus.Counter
	SwapsSkipped    *prometheus.CounterVec
	MissingPrices   prometheus.Counter
	RunDuration     *prometheus.HistogramVec
	BalancesUpdated prometheus.Counter
}

var (
	_ scan.Observer      = (*Recorder)(nil)
	_ costbasis.Observer = (*Recorder)(nil)
)

// NewRecorder builds the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		QueryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_query_failures_total",
			Help:      "Failed eth_getLogs attempts per filter",
		}, []string{"filter"}),
		WindowsScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_scanned_total",
			Help:      "Block windows scanned per filter",
		}, []string{"filter"}),
		LogsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logs_collected_total",
			Help:      "Logs returned by scans per filter",
		}, []string{"filter"}),
		SwapsFolded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_folded_total",
			Help:      "Priced swaps folded into a cost basis",
		}),
		SwapsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_skipped_total",
			Help:      "Located swaps that contributed nothing, by reason",
		}, []string{"reason"}),
		MissingPrices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_prices_total",
			Help:      "Swaps excluded because the oracle had no price",
		}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of reconstruction and holder runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind", "status"}),
		BalancesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balances_updated_total",
			Help:      "Holder balances refreshed from chain",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			r.QueryFailures,
			r.WindowsScanned,
			r.LogsCollected,
			r.SwapsFolded,
			r.SwapsSkipped,
			r.MissingPrices,
			r.RunDuration,
			r.BalancesUpdated,
		)
	}
	return r
}

func (r *Recorder) QueryFailed(filter string, _ scan.BlockRange, _ int, _ error) {
	r.QueryFailures.WithLabelValues(filter).Inc()
}

func (r *Recorder) WindowScanned(filter string, _ scan.BlockRange, logs int) {
	r.WindowsScanned.WithLabelValues(filter).Inc()
	r.LogsCollected.WithLabelValues(filter).Add(float64(logs))
}

func (r *Recorder) SwapSkipped(reason costbasis.SkipReason) {
	r.SwapsSkipped.WithLabelValues(string(reason)).Inc()
}

func (r *Recorder) SwapFolded() {
	r.SwapsFolded.Inc()
}

func (r *Recorder) MissingPrice(common.Address, uint64) {
	r.MissingPrices.Inc()
}

// BalancesRefreshed counts holder balances written back to the store.
func (r *Recorder) BalancesRefreshed(n int) {
	r.BalancesUpdated.Add(float64(n))
}

// ObserveRun records the duration of a run that started at start.
func (r *Recorder) ObserveRun(kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.RunDuration.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())
}
