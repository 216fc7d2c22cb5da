package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
)

// SNSAPI is the subset of the SNS client the notifier needs.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier fans match notifications out through an SNS topic. Subscribers
// filter on the event_type message attribute.
type SNSNotifier struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger
}

// NewSNSClient loads the default AWS credential chain for region.
func NewSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

// NewSNSNotifier constructs the notifier.
func NewSNSNotifier(client SNSAPI, topicARN string, logger *zap.Logger) (*SNSNotifier, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if strings.TrimSpace(topicARN) == "" {
		return nil, errors.New("sns topic arn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNSNotifier{client: client, topicARN: topicARN, logger: logger}, nil
}

type snsMessage struct {
	EventID          string     `json:"event_id"`
	EventType        string     `json:"event_type"`
	MatchID          string     `json:"match_id"`
	Status           string     `json:"status"`
	Recipients       []string   `json:"recipients"`
	SourceReportID   string     `json:"source_report_id"`
	TargetReportID   string     `json:"target_report_id"`
	OccurredAt       time.Time  `json:"occurred_at"`
	HandoverDeadline *time.Time `json:"handover_deadline,omitempty"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`
}

// NotifyParties implements port.NotificationPort.
func (n *SNSNotifier) NotifyParties(ctx context.Context, notification domain.MatchNotification) error {
	msg := snsMessage{
		EventID:          notification.EventID,
		EventType:        string(notification.EventType),
		MatchID:          notification.MatchID,
		Status:           string(notification.Status),
		Recipients:       notification.Recipients(),
		SourceReportID:   notification.SourceReportID,
		TargetReportID:   notification.TargetReportID,
		OccurredAt:       notification.OccurredAt.UTC(),
		HandoverDeadline: notification.HandoverDeadline,
	}
	if notification.RejectionReason != nil {
		msg.RejectionReason = string(*notification.RejectionReason)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal sns message: %w", err)
	}

	out, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: sdkaws.String(n.topicARN),
		Message:  sdkaws.String(string(body)),
		Subject:  sdkaws.String("match " + string(notification.EventType)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: sdkaws.String("String"), StringValue: sdkaws.String(string(notification.EventType))},
			"match_id":   {DataType: sdkaws.String("String"), StringValue: sdkaws.String(notification.MatchID)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish %s: %w", notification.EventType, err)
	}

	n.logger.Debug("sns notification published",
		zap.String("match_id", notification.MatchID),
		zap.String("event_type", string(notification.EventType)),
		zap.String("message_id", sdkaws.ToString(out.MessageId)),
	)
	return nil
}

var _ port.NotificationPort = (*SNSNotifier)(nil)
