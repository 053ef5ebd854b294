// ABOUTME: Prometheus metrics exposition for the loaded vulnerability dataset.
// ABOUTME: Exposes dataset gauges, loading state, and store size on /metrics.

package metrics

import (
	"net/http"

	"github.com/PreethamGoud/SecureWatch/internal/loader"
	"github.com/PreethamGoud/SecureWatch/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// DatasetProvider supplies the current dataset summary and loading state.
type DatasetProvider interface {
	CachedMetrics() (*types.Metrics, error)
	State() loader.State
	StoreSize() (int64, error)
}

// Handler renders dataset metrics on demand. A fresh registry is built per
// request so gauges never carry stale label sets across ingestions.
type Handler struct {
	provider DatasetProvider
	logger   *logrus.Logger

	vulnerabilitiesTotal prometheus.Gauge
	severityCount        *prometheus.GaugeVec
	riskFactorCount      *prometheus.GaugeVec
	packageTypeCount     *prometheus.GaugeVec
	loadingState         *prometheus.GaugeVec
	loadingProgress      prometheus.Gauge
	storeSizeBytes       prometheus.Gauge
}

// NewHandler creates the metrics handler over the given dataset provider.
func NewHandler(provider DatasetProvider, logger *logrus.Logger) *Handler {
	return &Handler{
		provider: provider,
		logger:   logger,

		vulnerabilitiesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_vulnerabilities_total",
			Help: "Total number of vulnerability records in the loaded dataset",
		}),
		severityCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "securewatch_vulnerability_severity_count",
			Help: "Number of vulnerability records by severity",
		}, []string{"severity"}),
		riskFactorCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "securewatch_vulnerability_risk_factor_count",
			Help: "Number of vulnerability records by risk factor",
		}, []string{"risk_factor"}),
		packageTypeCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "securewatch_vulnerability_package_type_count",
			Help: "Number of vulnerability records by package type",
		}, []string{"package_type"}),
		loadingState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "securewatch_loading_state",
			Help: "Current loading state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),
		loadingProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_loading_progress",
			Help: "Progress of the current or last ingestion in percent",
		}),
		storeSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securewatch_store_size_bytes",
			Help: "Approximate on-disk size of the persistent store",
		}),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(h.vulnerabilitiesTotal)
	registry.MustRegister(h.severityCount)
	registry.MustRegister(h.riskFactorCount)
	registry.MustRegister(h.packageTypeCount)
	registry.MustRegister(h.loadingState)
	registry.MustRegister(h.loadingProgress)
	registry.MustRegister(h.storeSizeBytes)

	h.severityCount.Reset()
	h.riskFactorCount.Reset()
	h.packageTypeCount.Reset()
	h.loadingState.Reset()

	if summary, err := h.provider.CachedMetrics(); err != nil {
		h.logger.WithError(err).Debug("No cached metrics available for exposition")
	} else if summary != nil {
		h.vulnerabilitiesTotal.Set(float64(summary.Total))
		for severity, count := range summary.BySeverity {
			h.severityCount.WithLabelValues(severity).Set(float64(count))
		}
		for factor, count := range summary.ByRiskFactor {
			h.riskFactorCount.WithLabelValues(factor).Set(float64(count))
		}
		for pkgType, count := range summary.ByPackageType {
			h.packageTypeCount.WithLabelValues(pkgType).Set(float64(count))
		}
	}

	state := h.provider.State()
	for _, s := range []loader.Status{
		loader.StatusIdle, loader.StatusLoading, loader.StatusProcessing,
		loader.StatusReady, loader.StatusError,
	} {
		value := float64(0)
		if s == state.Status {
			value = 1
		}
		h.loadingState.WithLabelValues(string(s)).Set(value)
	}
	h.loadingProgress.Set(state.Progress)

	if size, err := h.provider.StoreSize(); err == nil {
		h.storeSizeBytes.Set(float64(size))
	}

	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// CreateHandler returns a plain http.HandlerFunc for mux registration.
func CreateHandler(provider DatasetProvider, logger *logrus.Logger) http.HandlerFunc {
	handler := NewHandler(provider, logger)
	return handler.ServeHTTP
}
