package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
)

// StubPublisher logs notifications instead of sending them. Selected by the "log" driver.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly notifier.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

// NotifyParties logs the notification with its recipients.
func (p *StubPublisher) NotifyParties(_ context.Context, n domain.MatchNotification) error {
	at := n.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("event_id", n.EventID),
		zap.String("event_type", matchEventType(n.EventType)),
		zap.String("match_id", n.MatchID),
		zap.String("status", string(n.Status)),
		zap.Strings("recipients", n.Recipients()),
		zap.Time("timestamp", at.UTC()),
	}
	if n.HandoverDeadline != nil {
		fields = append(fields, zap.Time("handover_deadline", n.HandoverDeadline.UTC()))
	}
	if n.RejectionReason != nil {
		fields = append(fields, zap.String("rejection_reason", string(*n.RejectionReason)))
	}

	p.logger.Info("Stub match notification", fields...)
	return nil
}

var _ port.NotificationPort = (*StubPublisher)(nil)
