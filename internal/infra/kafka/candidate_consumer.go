package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/repository"
)

// candidateSchema is the contract for candidate events emitted by the matching engine.
const candidateSchema = `{
  "type": "object",
  "required": ["event_id", "source_report_id", "target_report_id", "proposed_by"],
  "properties": {
    "event_id": {"type": "string", "minLength": 1},
    "source_report_id": {"type": "string", "minLength": 1},
    "target_report_id": {"type": "string", "minLength": 1},
    "proposed_by": {"type": "string", "minLength": 1},
    "score": {"type": "number", "minimum": 0, "maximum": 1},
    "proposed_at": {"type": "string", "format": "date-time"}
  }
}`

var candidateSchemaLoader = gojsonschema.NewStringLoader(candidateSchema)

// ErrInvalidCandidate marks a message that can never be processed and should be skipped.
var ErrInvalidCandidate = errors.New("invalid candidate event")

// MatchProposer is the workflow entry point the consumer feeds.
type MatchProposer interface {
	ProposeMatch(ctx context.Context, sourceReportID, targetReportID, initiatorUserID string) (*domain.MatchRequest, error)
}

type candidateMessage struct {
	EventID        string    `json:"event_id"`
	SourceReportID string    `json:"source_report_id"`
	TargetReportID string    `json:"target_report_id"`
	ProposedBy     string    `json:"proposed_by"`
	Score          float64   `json:"score"`
	ProposedAt     time.Time `json:"proposed_at"`
}

// CandidateConsumer turns candidate_proposed events into proposed matches.
type CandidateConsumer struct {
	group    sarama.ConsumerGroup
	topics   []string
	proposer MatchProposer
	logger   *zap.Logger
}

// NewCandidateConsumer constructs the consumer. group may be nil when only HandleMessage is used.
func NewCandidateConsumer(group sarama.ConsumerGroup, topic string, proposer MatchProposer, logger *zap.Logger) *CandidateConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandidateConsumer{group: group, topics: []string{topic}, proposer: proposer, logger: logger}
}

// Run consumes until ctx is cancelled, rejoining the group after each rebalance.
func (c *CandidateConsumer) Run(ctx context.Context) error {
	if c.group == nil {
		return errors.New("consumer group is not configured")
	}

	go func() {
		for {
			select {
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.logger.Error("Kafka consumer error", zap.Error(err))
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("candidate consume loop failed", zap.Error(err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (c *CandidateConsumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *CandidateConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *CandidateConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler. Invalid messages are committed and
// skipped; transient failures leave the offset so the message is redelivered.
func (c *CandidateConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			err := c.HandleMessage(session.Context(), msg)
			switch {
			case err == nil, errors.Is(err, ErrInvalidCandidate):
				session.MarkMessage(msg, "")
			default:
				c.logger.Warn("candidate will be redelivered",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// HandleMessage validates and applies one candidate event.
func (c *CandidateConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidCandidate)
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, consumerHeaders(msg.Headers))

	result, err := gojsonschema.Validate(candidateSchemaLoader, gojsonschema.NewBytesLoader(msg.Value))
	if err != nil {
		c.logger.Warn("candidate is not valid json", zap.Int64("offset", msg.Offset), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		c.logger.Warn("candidate failed schema validation", zap.Int64("offset", msg.Offset), zap.Strings("errors", problems))
		return fmt.Errorf("%w: %s", ErrInvalidCandidate, strings.Join(problems, "; "))
	}

	var decoded candidateMessage
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}

	return c.HandleEvent(ctx, domain.CandidateMatchEvent{
		EventID:        decoded.EventID,
		SourceReportID: decoded.SourceReportID,
		TargetReportID: decoded.TargetReportID,
		ProposedBy:     decoded.ProposedBy,
		Score:          decoded.Score,
		ProposedAt:     decoded.ProposedAt,
	})
}

// HandleEvent proposes the match. Redelivered candidates that already exist are ignored.
func (c *CandidateConsumer) HandleEvent(ctx context.Context, event domain.CandidateMatchEvent) error {
	match, err := c.proposer.ProposeMatch(ctx, event.SourceReportID, event.TargetReportID, event.ProposedBy)
	switch {
	case err == nil:
		c.logger.Info("candidate match proposed",
			zap.String("event_id", event.EventID),
			zap.String("match_id", match.ID),
			zap.Float64("score", event.Score),
		)
		return nil
	case errors.Is(err, repository.ErrDuplicate):
		c.logger.Debug("candidate already proposed", zap.String("event_id", event.EventID))
		return nil
	case domain.IsValidation(err), errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	default:
		return fmt.Errorf("propose candidate %s: %w", event.EventID, err)
	}
}
