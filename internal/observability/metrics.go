package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized set of Prometheus collectors for the message
// bus, agent loop, tool registry and watcher scheduler. serve registers
// them and exposes them on /metrics; none of those components updates
// them.
type Metrics struct {
	// MessagesTotal counts messages flowing through the bus.
	// Labels: channel, direction (inbound|outbound)
	MessagesTotal *prometheus.CounterVec

	// RateLimitDropsTotal counts messages dropped by the rate limiter.
	// Labels: channel
	RateLimitDropsTotal *prometheus.CounterVec

	// GuardrailBlocksTotal counts content blocked by the guardrail pipeline.
	// Labels: channel, rule
	GuardrailBlocksTotal *prometheus.CounterVec

	// AgentTurnDuration measures one full HandleMessage pipeline run.
	// Labels: channel
	AgentTurnDuration *prometheus.HistogramVec

	// ModelRequestsTotal counts model completion calls.
	// Labels: model, status (success|error)
	ModelRequestsTotal *prometheus.CounterVec

	// ModelRequestDuration measures model completion call latency.
	// Labels: model
	ModelRequestDuration *prometheus.HistogramVec

	// ToolExecutionsTotal counts tool calls.
	// Labels: tool_name, status (success|error)
	ToolExecutionsTotal *prometheus.CounterVec

	// ToolExecutionDuration measures tool call latency.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// KnowledgeRetrievalDuration measures buildKnowledgeContext calls.
	KnowledgeRetrievalDuration prometheus.Histogram

	// WatcherTickDuration measures one scheduler evaluation pass.
	// Labels: watcher_kind (scheduled|file_watch)
	WatcherTickDuration *prometheus.HistogramVec

	// WatcherFiresTotal counts watcher events emitted onto the bus.
	// Labels: watcher_kind
	WatcherFiresTotal *prometheus.CounterVec

	// ActiveSessions tracks current session count by kind.
	ActiveSessions *prometheus.GaugeVec
}

// NewMetrics registers every collector against reg and returns the
// bundle. Call once at startup; reg is typically prometheus.NewRegistry()
// so tests can use an isolated registry instead of the global default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "meepo_messages_total", Help: "Messages processed by channel and direction"},
			[]string{"channel", "direction"},
		),
		RateLimitDropsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "meepo_rate_limit_drops_total", Help: "Messages dropped by the rate limiter"},
			[]string{"channel"},
		),
		GuardrailBlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "meepo_guardrail_blocks_total", Help: "Content blocked by the guardrail pipeline"},
			[]string{"channel", "rule"},
		),
		AgentTurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meepo_agent_turn_duration_seconds",
				Help:    "Duration of a full agent loop message handling pass",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"channel"},
		),
		ModelRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "meepo_model_requests_total", Help: "Model completion calls by model and status"},
			[]string{"model", "status"},
		),
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meepo_model_request_duration_seconds",
				Help:    "Model completion call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		ToolExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "meepo_tool_executions_total", Help: "Tool calls by name and status"},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meepo_tool_execution_duration_seconds",
				Help:    "Tool call latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		KnowledgeRetrievalDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meepo_knowledge_retrieval_duration_seconds",
				Help:    "Duration of the hybrid retrieval pipeline",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		),
		WatcherTickDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meepo_watcher_tick_duration_seconds",
				Help:    "Duration of one watcher scheduler evaluation pass",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
			},
			[]string{"watcher_kind"},
		),
		WatcherFiresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "meepo_watcher_fires_total", Help: "Watcher events emitted onto the bus"},
			[]string{"watcher_kind"},
		),
		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{Name: "meepo_active_sessions", Help: "Current session count by kind"},
			[]string{"kind"},
		),
	}
}
