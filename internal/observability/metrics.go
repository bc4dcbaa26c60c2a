// Package observability exposes Prometheus metrics fed from the event bus.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slackmind/internal/eventbus"
	"slackmind/internal/llm"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry

	Replies        *prometheus.CounterVec
	ReplyLatency   *prometheus.HistogramVec
	LLMCalls       *prometheus.CounterVec
	LLMTokens      *prometheus.CounterVec
	ToolCalls      *prometheus.CounterVec
	Reinforcements *prometheus.CounterVec
	Summarizations *prometheus.CounterVec
	FactsAdded     *prometheus.CounterVec
	SlackEvents    *prometheus.CounterVec
}

// NewMetrics registers the instruments on a fresh registry, so several
// instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies by workspace and outcome.",
		}, []string{"workspace", "outcome"}),
		ReplyLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_duration_seconds",
			Help:      "Time from inbound message to reply.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"workspace"}),
		LLMCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Model calls by provider, purpose and result.",
		}, []string{"provider", "purpose", "result"}),
		LLMTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by workspace and direction.",
		}, []string{"workspace", "direction"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and result.",
		}, []string{"tool", "result"}),
		Reinforcements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_reinforcements_total",
			Help:      "Times the model was told to call search_web.",
		}, []string{"workspace"}),
		Summarizations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizations_total",
			Help:      "Summarization jobs by workspace and result.",
		}, []string{"workspace", "result"}),
		FactsAdded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_facts_added_total",
			Help:      "Memory facts stored by workspace.",
		}, []string{"workspace"}),
		SlackEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slack_events_total",
			Help:      "Slack Events API requests by result.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Subscribe updates the instruments from bus events.
func (m *Metrics) Subscribe(bus *eventbus.Bus) {
	eventbus.On(bus, eventbus.TopicReply, func(r eventbus.Reply) {
		m.Replies.WithLabelValues(r.Workspace, r.Outcome).Inc()
		m.ReplyLatency.WithLabelValues(r.Workspace).Observe(r.Duration.Seconds())
	})
	eventbus.On(bus, eventbus.TopicLLMResponse, func(c eventbus.LLMCall) {
		result := "ok"
		if c.Err != nil {
			result = llm.TypeOf(c.Err).String()
		}
		m.LLMCalls.WithLabelValues(c.Provider, c.Purpose, result).Inc()
		m.LLMTokens.WithLabelValues(c.Workspace, "input").Add(float64(c.InputTokens))
		m.LLMTokens.WithLabelValues(c.Workspace, "output").Add(float64(c.OutputTokens))
	})
	eventbus.On(bus, eventbus.TopicToolCall, func(c eventbus.ToolCall) {
		result := "ok"
		if c.Failed {
			result = "error"
		}
		m.ToolCalls.WithLabelValues(c.Name, result).Inc()
	})
	eventbus.On(bus, eventbus.TopicReinforce, func(workspace string) {
		m.Reinforcements.WithLabelValues(workspace).Inc()
	})
	eventbus.On(bus, eventbus.TopicSummarized, func(s eventbus.Summarized) {
		result := "ok"
		if s.Err != nil {
			result = "error"
		}
		m.Summarizations.WithLabelValues(s.Workspace, result).Inc()
		m.FactsAdded.WithLabelValues(s.Workspace).Add(float64(s.Added))
	})
}
