package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	StageRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spokescan",
		Subsystem: "stage",
		Name:      "runs_total",
		Help:      "Stage activity executions by queue and outcome",
	}, []string{"queue", "status"})

	StageEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spokescan",
		Subsystem: "stage",
		Name:      "enqueued_total",
		Help:      "Messages enqueued by queue",
	}, []string{"queue"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spokescan",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Chain RPC calls by chain, method and outcome",
	}, []string{"chain", "method", "status"})

	RangeSplitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spokescan",
		Subsystem: "rpc",
		Name:      "range_splits_total",
		Help:      "Log range halvings after a range-limit error",
	}, []string{"chain", "kind"})

	ProcessedBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spokescan",
		Subsystem: "scanner",
		Name:      "processed_block",
		Help:      "Last fully scanned block per chain and contract kind",
	}, []string{"chain", "kind"})

	ImportRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spokescan",
		Subsystem: "airdrop",
		Name:      "import_runs_total",
		Help:      "Reward file imports by kind and outcome",
	}, []string{"kind", "status"})

	ViewRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spokescan",
		Subsystem: "rewards",
		Name:      "view_refresh_duration_seconds",
		Help:      "Duration of the rewards maintenance pass",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
)

// ObserveSince records the elapsed time on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until the returned server is shut down.
func Serve(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", addr))
	return srv
}
