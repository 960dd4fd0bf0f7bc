// Package metrics is the Prometheus surface for a running Wilson process —
// one agent loop, its tool dispatch, and (when running as a swarm member)
// the worker/validator task lifecycle. Every metric is registered against
// the default registry so a single promhttp.Handler exposes it all.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter, gauge, and histogram Wilson emits.
//
// Usage:
//
//	m := metrics.New()
//	start := time.Now()
//	// ... stream a turn ...
//	m.RecordTurn(time.Since(start).Seconds(), "completed")
type Metrics struct {
	// TurnDuration measures one full agent-loop Send call, start to
	// terminal state, in seconds.
	// Labels: outcome (completed|limit_reached|error|cancelled)
	TurnDuration *prometheus.HistogramVec

	// TurnCounter counts agent-loop turns by outcome.
	TurnCounter *prometheus.CounterVec

	// LoopDepth observes the iteration depth a turn reached before
	// reaching a terminal state.
	LoopDepth prometheus.Histogram

	// StreamTokens tracks input/output token counts reported by the
	// backend per turn.
	// Labels: type (input|output)
	StreamTokens *prometheus.CounterVec

	// StreamErrors counts backend stream failures by classified reason.
	StreamErrors *prometheus.CounterVec

	// ToolExecutions counts tool runs by tool name and outcome.
	// Labels: tool, status (success|error|blocked)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution latency in seconds.
	ToolDuration *prometheus.HistogramVec

	// ToolDedupedCalls counts tool calls the loop controller blocked as
	// duplicates rather than executing.
	// Labels: tool
	ToolDedupedCalls *prometheus.CounterVec

	// CompactionRuns counts history compaction passes by outcome.
	// Labels: outcome (compacted|skipped)
	CompactionRuns *prometheus.CounterVec

	// CompactionTokensFreed tracks estimated tokens removed by compaction.
	CompactionTokensFreed prometheus.Counter

	// ActiveSessions tracks how many agent-loop sessions are currently
	// streaming a turn.
	ActiveSessions prometheus.Gauge

	// SwarmTasksClaimed counts tasks a worker pulled off the goal queue.
	// Labels: worker
	SwarmTasksClaimed *prometheus.CounterVec

	// SwarmTaskDuration measures worker execution time per task, seconds.
	SwarmTaskDuration prometheus.Histogram

	// SwarmValidations counts validator decisions.
	// Labels: outcome (passed|requeued|failed)
	SwarmValidations *prometheus.CounterVec

	// SwarmQueueDepth tracks the current goal-queue backlog.
	SwarmQueueDepth prometheus.Gauge

	// SwarmLockWait measures time spent waiting to acquire the swarm
	// directory lock, seconds.
	SwarmLockWait prometheus.Histogram
}

// New creates and registers every Wilson metric against the default
// Prometheus registry. Call once per process.
func New() *Metrics {
	return &Metrics{
		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wilson_turn_duration_seconds",
				Help:    "Duration of a full agent loop turn in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),

		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wilson_turns_total",
				Help: "Total number of agent loop turns by outcome",
			},
			[]string{"outcome"},
		),

		LoopDepth: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wilson_loop_depth",
				Help:    "Iteration depth reached by a turn before terminating",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 12, 15},
			},
		),

		StreamTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wilson_stream_tokens_total",
				Help: "Total tokens reported by the backend, by direction",
			},
			[]string{"type"},
		),

		StreamErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wilson_stream_errors_total",
				Help: "Total backend stream errors by classified reason",
			},
			[]string{"reason"},
		),

		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wilson_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),

		ToolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wilson_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		ToolDedupedCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wilson_tool_deduped_calls_total",
				Help: "Total tool calls blocked as duplicate signatures",
			},
			[]string{"tool"},
		),

		CompactionRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wilson_compaction_runs_total",
				Help: "Total history compaction passes by outcome",
			},
			[]string{"outcome"},
		),

		CompactionTokensFreed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wilson_compaction_tokens_freed_total",
				Help: "Estimated tokens removed from history by compaction",
			},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wilson_active_sessions",
				Help: "Current number of agent loop sessions mid-turn",
			},
		),

		SwarmTasksClaimed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wilson_swarm_tasks_claimed_total",
				Help: "Total tasks claimed from the goal queue by worker",
			},
			[]string{"worker"},
		),

		SwarmTaskDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wilson_swarm_task_duration_seconds",
				Help:    "Duration of a worker's task execution in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),

		SwarmValidations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wilson_swarm_validations_total",
				Help: "Total validator decisions by outcome",
			},
			[]string{"outcome"},
		),

		SwarmQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wilson_swarm_queue_depth",
				Help: "Current depth of the goal queue",
			},
		),

		SwarmLockWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wilson_swarm_lock_wait_seconds",
				Help:    "Time spent waiting to acquire the swarm directory lock",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		),
	}
}

// RecordTurn records a completed agent loop turn.
func (m *Metrics) RecordTurn(durationSeconds float64, outcome string, depth int) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(durationSeconds)
	m.LoopDepth.Observe(float64(depth))
}

// RecordStreamUsage records token counts reported at the end of a turn.
func (m *Metrics) RecordStreamUsage(inputTokens, outputTokens int) {
	if inputTokens > 0 {
		m.StreamTokens.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.StreamTokens.WithLabelValues("output").Add(float64(outputTokens))
	}
}

// RecordStreamError records a classified backend stream failure.
func (m *Metrics) RecordStreamError(reason string) {
	m.StreamErrors.WithLabelValues(reason).Inc()
}

// RecordToolExecution records one tool invocation's outcome and latency.
func (m *Metrics) RecordToolExecution(tool, status string, duration time.Duration) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordToolDeduped records a tool call the loop controller blocked rather
// than executed, because an identical signature already ran this turn.
func (m *Metrics) RecordToolDeduped(tool string) {
	m.ToolDedupedCalls.WithLabelValues(tool).Inc()
}

// RecordCompaction records one compaction pass.
func (m *Metrics) RecordCompaction(compacted bool, tokensFreed int) {
	if compacted {
		m.CompactionRuns.WithLabelValues("compacted").Inc()
		m.CompactionTokensFreed.Add(float64(tokensFreed))
		return
	}
	m.CompactionRuns.WithLabelValues("skipped").Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() { m.ActiveSessions.Inc() }

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() { m.ActiveSessions.Dec() }

// RecordTaskClaimed records a worker claiming a task off the goal queue.
func (m *Metrics) RecordTaskClaimed(worker string) {
	m.SwarmTasksClaimed.WithLabelValues(worker).Inc()
}

// RecordTaskDuration records how long a worker spent on one task.
func (m *Metrics) RecordTaskDuration(duration time.Duration) {
	m.SwarmTaskDuration.Observe(duration.Seconds())
}

// RecordValidation records a validator decision for one task.
func (m *Metrics) RecordValidation(outcome string) {
	m.SwarmValidations.WithLabelValues(outcome).Inc()
}

// SetQueueDepth sets the current goal-queue backlog gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.SwarmQueueDepth.Set(float64(depth))
}

// RecordLockWait records time spent acquiring the swarm directory lock.
func (m *Metrics) RecordLockWait(duration time.Duration) {
	m.SwarmLockWait.Observe(duration.Seconds())
}
