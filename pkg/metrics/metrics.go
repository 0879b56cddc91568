// Package metrics 定义了服务使用的 Prometheus 指标。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总所有 Prometheus 指标。方法对 nil 接收者安全，测试中可直接传 nil。
type Metrics struct {
	Resolutions         *prometheus.CounterVec
	ResolutionLatency   prometheus.Histogram
	ProviderErrors      *prometheus.CounterVec
	ActiveConversations prometheus.Gauge
	WSMessages          *prometheus.CounterVec
	ImportTasks         *prometheus.CounterVec
}

// New 在给定的 Registerer 上注册全部指标。
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolved chat turns by terminal stage.",
		}, []string{"origin"}),
		ResolutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_latency_ms",
			Help:      "Time to resolve one chat turn in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Generative provider failures by provider and reason.",
		}, []string{"provider", "reason"}),
		ActiveConversations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Conversations with a live resolver in this process.",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket frames by direction and type.",
		}, []string{"direction", "type"}),
		ImportTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_tasks_total",
			Help:      "Response import tasks by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveResolution(origin string, d time.Duration) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(origin).Inc()
	m.ResolutionLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ProviderError(provider, reason string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) ConversationOpened() {
	if m == nil {
		return
	}
	m.ActiveConversations.Inc()
}

func (m *Metrics) ConversationClosed() {
	if m == nil {
		return
	}
	m.ActiveConversations.Dec()
}

func (m *Metrics) WSMessage(direction, frameType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, frameType).Inc()
}

func (m *Metrics) ImportTask(result string) {
	if m == nil {
		return
	}
	m.ImportTasks.WithLabelValues(result).Inc()
}

// Handler 返回暴露指定 Gatherer 指标的 HTTP handler。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
