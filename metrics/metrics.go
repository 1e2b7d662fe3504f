// Package metrics exposes training progress as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TrainBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuromlp_train_batches_total",
		Help: "Total mini-batches trained",
	})
	TrainSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuromlp_train_samples_total",
		Help: "Total training samples processed",
	})
	BatchLoss = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neuromlp_batch_loss",
		Help:    "Cross-entropy loss per mini-batch",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 2.5, 3, 5},
	})
	EpochLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neuromlp_epoch_loss",
		Help: "Mean training loss of the last epoch",
	})
	ValidationAccuracy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neuromlp_validation_accuracy_percent",
		Help: "Validation accuracy of the last epoch",
	})
	EpochDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neuromlp_epoch_duration_seconds",
		Help:    "Epoch duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	Epochs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuromlp_epochs_total",
		Help: "Total completed epochs",
	})
	LoadErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neuromlp_load_errors_total",
		Help: "Input loading failures by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(TrainBatches, TrainSamples, BatchLoss, EpochLoss,
		ValidationAccuracy, EpochDuration, Epochs, LoadErrors)
}

// StartServer serves /metrics and /health on addr in the background. The
// caller owns shutdown of the returned server.
func StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// ObserveBatch records one optimizer step over n samples.
func ObserveBatch(n int, loss float64) {
	TrainBatches.Inc()
	TrainSamples.Add(float64(n))
	BatchLoss.Observe(loss)
}

// ObserveEpoch records the outcome of a finished epoch.
func ObserveEpoch(accuracy, loss float64, d time.Duration) {
	Epochs.Inc()
	ValidationAccuracy.Set(accuracy)
	EpochLoss.Set(loss)
	EpochDuration.Observe(d.Seconds())
}

// IncLoadError counts a failed input load, e.g. "not_found" or "mismatch".
func IncLoadError(kind string) { LoadErrors.WithLabelValues(kind).Inc() }
