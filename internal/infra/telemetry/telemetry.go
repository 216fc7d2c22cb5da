package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
)

// WorkflowMetricsOptions configures the workflow collectors.
type WorkflowMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// WorkflowMetrics holds the Prometheus collectors for the match workflow, the report
// cache and the notification outbox relay.
type WorkflowMetrics struct {
	Transitions          *prometheus.CounterVec
	AnswerAttempts       *prometheus.CounterVec
	Conflicts            *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	ReportCache          *prometheus.CounterVec
	OutboxRelayed        *prometheus.CounterVec
	Throttled            *prometheus.CounterVec
}

// NewWorkflowMetrics constructs and registers the collectors. Collectors already registered
// under the same name are reused.
func NewWorkflowMetrics(opts WorkflowMetricsOptions) (*WorkflowMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "matching"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(subsystem, name, help string, labels ...string) (*prometheus.CounterVec, error) {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
		if err := reg.Register(vec); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, fmt.Errorf("register %s_%s: %w", subsystem, name, err)
			}
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, fmt.Errorf("existing %s_%s collector has unexpected type %T", subsystem, name, already.ExistingCollector)
			}
			return existing, nil
		}
		return vec, nil
	}

	var (
		m   WorkflowMetrics
		err error
	)
	if m.Transitions, err = counter("workflow", "transitions_total", "Match status transitions partitioned by source and destination status.", "from", "to"); err != nil {
		return nil, err
	}
	if m.AnswerAttempts, err = counter("workflow", "answer_attempts_total", "Security answer submissions partitioned by result.", "result"); err != nil {
		return nil, err
	}
	if m.Conflicts, err = counter("workflow", "conflicts_total", "Concurrent modification conflicts partitioned by operation.", "operation"); err != nil {
		return nil, err
	}
	if m.NotificationFailures, err = counter("workflow", "notification_failures_total", "Failed party notifications partitioned by event type.", "event_type"); err != nil {
		return nil, err
	}
	if m.ReportCache, err = counter("report_cache", "lookups_total", "Report cache lookups partitioned by result.", "result"); err != nil {
		return nil, err
	}
	if m.OutboxRelayed, err = counter("outbox", "relayed_total", "Outbox entries processed by the relay partitioned by result.", "result"); err != nil {
		return nil, err
	}
	if m.Throttled, err = counter("http", "throttled_total", "Requests rejected by a rate limit rule.", "rule"); err != nil {
		return nil, err
	}
	return &m, nil
}

// IncTransition implements usecase.MatchWorkflowMetrics.
func (m *WorkflowMetrics) IncTransition(from, to domain.MatchStatus) {
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

// IncAnswerAttempt implements usecase.MatchWorkflowMetrics.
func (m *WorkflowMetrics) IncAnswerAttempt(correct bool) {
	m.AnswerAttempts.WithLabelValues(resultLabel(correct, "correct", "incorrect")).Inc()
}

// IncConflict implements usecase.MatchWorkflowMetrics.
func (m *WorkflowMetrics) IncConflict(operation string) {
	m.Conflicts.WithLabelValues(operation).Inc()
}

// IncNotificationFailure implements usecase.MatchWorkflowMetrics.
func (m *WorkflowMetrics) IncNotificationFailure(eventType domain.MatchEventType) {
	m.NotificationFailures.WithLabelValues(string(eventType)).Inc()
}

// IncCacheHit implements usecase.ReportCacheMetrics.
func (m *WorkflowMetrics) IncCacheHit() { m.ReportCache.WithLabelValues("hit").Inc() }

// IncCacheMiss implements usecase.ReportCacheMetrics.
func (m *WorkflowMetrics) IncCacheMiss() { m.ReportCache.WithLabelValues("miss").Inc() }

// IncRelayed implements outbox.RelayMetrics.
func (m *WorkflowMetrics) IncRelayed(delivered bool) {
	m.OutboxRelayed.WithLabelValues(resultLabel(delivered, "delivered", "failed")).Inc()
}

// IncThrottled is passed to the HTTP rate limiter as its rejection hook.
func (m *WorkflowMetrics) IncThrottled(rule string) {
	m.Throttled.WithLabelValues(rule).Inc()
}

func resultLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
