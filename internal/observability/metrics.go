package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the application collectors.
type Metrics struct {
	UploadsTotal      *prometheus.CounterVec // category, outcome
	UploadBytes       *prometheus.HistogramVec
	CredentialsIssued prometheus.Counter
	LogoutsTotal      *prometheus.CounterVec // reason
	RequestDuration   *prometheus.HistogramVec
}

// InitMetrics registers the collectors with the given registerer (nil means
// the default one).
func InitMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitemedia_uploads_total",
			Help: "Completed upload pipelines by category and outcome.",
		}, []string{"category", "outcome"}),
		UploadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitemedia_upload_bytes",
			Help:    "Re-encoded object sizes in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"category"}),
		CredentialsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitemedia_upload_credentials_issued_total",
			Help: "Presigned upload credentials issued.",
		}),
		LogoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitemedia_logouts_total",
			Help: "Session logouts by reason.",
		}, []string{"reason"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitemedia_request_duration_seconds",
			Help:    "API request latency.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),
	}

	collectors := []prometheus.Collector{
		m.UploadsTotal, m.UploadBytes, m.CredentialsIssued, m.LogoutsTotal, m.RequestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			// Already registered is fine (useful for testing).
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return m, nil
}

// StartMetricsServer serves /metrics and /health on the given port.
func StartMetricsServer(port string, logger *zap.Logger) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		logger.Info("starting metrics server", zap.String("port", port))
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}
