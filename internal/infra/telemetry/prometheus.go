package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agentbridge/internal/domain"
)

type PrometheusMetrics struct {
	configUpdates  *prometheus.CounterVec
	modelSwaps     *prometheus.CounterVec
	toolNotifies   *prometheus.CounterVec
	notifiedCount  *prometheus.GaugeVec
	initDuration   *prometheus.HistogramVec
	remoteDuration *prometheus.HistogramVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		configUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_config_updates_total",
				Help: "Total number of configuration pushes by kind and outcome",
			},
			[]string{"kind", "result"},
		),
		modelSwaps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_model_swaps_total",
				Help: "Total number of chat model provider swaps",
			},
			[]string{"provider"},
		),
		toolNotifies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_tool_notifications_total",
				Help: "Total number of tool change notification rounds",
			},
			[]string{"source"},
		),
		notifiedCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentbridge_tool_observers",
				Help: "Observers notified in the last tool change round",
			},
			[]string{"source"},
		),
		initDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentbridge_init_duration_seconds",
				Help:    "Duration of component initialization attempts in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"component", "status"},
		),
		remoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentbridge_remote_send_duration_seconds",
				Help:    "Duration of remote agent exchanges in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
	}
}

func (p *PrometheusMetrics) ObserveConfigUpdate(kind string, result domain.UpdateResult) {
	p.configUpdates.WithLabelValues(kind, string(result)).Inc()
}

func (p *PrometheusMetrics) ObserveModelSwap(provider string) {
	p.modelSwaps.WithLabelValues(provider).Inc()
}

func (p *PrometheusMetrics) ObserveToolNotify(source string, observers int) {
	p.toolNotifies.WithLabelValues(source).Inc()
	p.notifiedCount.WithLabelValues(source).Set(float64(observers))
}

func (p *PrometheusMetrics) ObserveInit(component string, success bool, duration time.Duration) {
	p.initDuration.WithLabelValues(component, statusLabel(success)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRemoteSend(success bool, duration time.Duration) {
	p.remoteDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
