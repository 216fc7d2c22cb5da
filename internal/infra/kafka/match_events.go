package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/config"
)

const schemaVersion = "1.0"

// MatchEventPublisher implements port.NotificationPort by publishing match transitions to Kafka.
// Topics are <prefix>.match.<event_type>, keyed by match id so a match's events stay ordered.
type MatchEventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewMatchEventPublisher constructs a Kafka-backed notification publisher.
func NewMatchEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *MatchEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchEventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID     string           `json:"event_id"`
	EventType   string           `json:"event_type"`
	AggregateID string           `json:"aggregate_id"`
	Recipients  []string         `json:"recipients"`
	Timestamp   time.Time        `json:"timestamp"`
	Version     string           `json:"version"`
	Payload     any              `json:"payload"`
	Metadata    envelopeMetadata `json:"metadata,omitempty"`
}

type matchEventPayload struct {
	MatchID           string         `json:"match_id"`
	Status            string         `json:"status"`
	SourceReportID    string         `json:"source_report_id"`
	TargetReportID    string         `json:"target_report_id"`
	InitiatedByUserID string         `json:"initiated_by_user_id"`
	TargetOwnerUserID string         `json:"target_owner_user_id,omitempty"`
	OccurredAt        time.Time      `json:"occurred_at"`
	HandoverDeadline  *time.Time     `json:"handover_deadline,omitempty"`
	RejectionReason   *string        `json:"rejection_reason,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func matchEventType(t domain.MatchEventType) string {
	return "match." + string(t)
}

// NotifyParties publishes the notification. It returns once the message is queued on the producer.
func (p *MatchEventPublisher) NotifyParties(ctx context.Context, n domain.MatchNotification) error {
	if !n.EventType.Valid() {
		return fmt.Errorf("unknown match event type %q", n.EventType)
	}

	ts := n.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	id := n.EventID
	if id == "" {
		id = uuid.NewString()
	}

	payload := matchEventPayload{
		MatchID:           n.MatchID,
		Status:            string(n.Status),
		SourceReportID:    n.SourceReportID,
		TargetReportID:    n.TargetReportID,
		InitiatedByUserID: n.InitiatedByUserID,
		TargetOwnerUserID: n.TargetOwnerUserID,
		OccurredAt:        ts.UTC(),
		Metadata:          n.Metadata,
	}
	if n.HandoverDeadline != nil {
		deadline := n.HandoverDeadline.UTC()
		payload.HandoverDeadline = &deadline
	}
	if n.RejectionReason != nil {
		reason := string(*n.RejectionReason)
		payload.RejectionReason = &reason
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	eventType := matchEventType(n.EventType)
	envelope := eventEnvelope{
		EventID:     id,
		EventType:   eventType,
		AggregateID: n.MatchID,
		Recipients:  n.Recipients(),
		Timestamp:   ts.UTC(),
		Version:     schemaVersion,
		Payload:     payload,
		Metadata:    metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	headers := []sarama.RecordHeader{
		{Key: []byte("event_type"), Value: []byte(eventType)},
		{Key: []byte("schema_version"), Value: []byte(schemaVersion)},
	}
	otel.GetTextMapPropagator().Inject(ctx, producerHeaders{headers: &headers})

	message := &sarama.ProducerMessage{
		Topic:    p.producer.TopicName(eventType),
		Key:      sarama.StringEncoder(n.MatchID),
		Value:    sarama.ByteEncoder(bytes),
		Headers:  headers,
		Metadata: n.EventType,
	}

	if err := p.producer.enqueue(ctx, message); err != nil {
		return fmt.Errorf("queue %s for match %s: %w", eventType, n.MatchID, err)
	}
	p.logger.Debug("match event queued", zap.String("topic", message.Topic), zap.String("event_id", id))
	return nil
}

var _ port.NotificationPort = (*MatchEventPublisher)(nil)
