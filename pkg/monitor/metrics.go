package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the chat service. Every method
// is safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	Turns        *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec
	LLMCalls     *prometheus.CounterVec
	LLMDuration  *prometheus.HistogramVec
	Tokens       *prometheus.CounterVec
	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec
	Sessions     prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Total number of user messages handled",
		}, []string{"channel", "status"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_turn_duration_seconds",
			Help:      "Time from user message to final reply",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total number of completion requests",
		}, []string{"with_tools", "status"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Completion request duration including streaming",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"with_tools"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by the completion API",
		}, []string{"kind"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool execution duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served by the web channel",
		}, []string{"method", "route", "status"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_sessions",
			Help:      "Currently connected websocket clients",
		}),
	}

	m.registry.MustRegister(
		m.Turns, m.TurnDuration,
		m.LLMCalls, m.LLMDuration, m.Tokens,
		m.ToolCalls, m.ToolDuration,
		m.HTTPRequests, m.Sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTurn(channel, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(channel, status).Inc()
	m.TurnDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) ObserveLLMCall(withTools bool, status string, d time.Duration) {
	if m == nil {
		return
	}
	label := "false"
	if withTools {
		label = "true"
	}
	m.LLMCalls.WithLabelValues(label, status).Inc()
	m.LLMDuration.WithLabelValues(label).Observe(d.Seconds())
}

func (m *Metrics) AddTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues("prompt").Add(float64(prompt))
	m.Tokens.WithLabelValues("completion").Add(float64(completion))
}

func (m *Metrics) ObserveToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.Sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.Sessions.Dec()
	}
}
