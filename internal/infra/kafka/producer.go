package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/config"
)

// Producer owns the async producer used for match notifications. Delivery happens in
// the background; failures surface through the log and the optional failure hook.
type Producer struct {
	async     sarama.AsyncProducer
	logger    *zap.Logger
	prefix    string
	onFailure func(domain.MatchEventType)
	drained   chan struct{}
}

// ProducerOption customises a Producer.
type ProducerOption func(*Producer)

// WithDeliveryFailureHook is called with the event type of every message the brokers
// finally refused.
func WithDeliveryFailureHook(hook func(domain.MatchEventType)) ProducerOption {
	return func(p *Producer) { p.onFailure = hook }
}

func newSaramaConfig(cfg config.KafkaSettings) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_5_0_0
	sc.ClientID = "resqhub-matching"

	// Leader ack only. The outbox covers durability when enabled.
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Flush.Frequency = 100 * time.Millisecond
	sc.Producer.Flush.Messages = 100
	sc.Producer.Retry.Max = 3
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	if !cfg.Async {
		sc.Producer.Flush.Frequency = 0
		sc.Producer.Flush.Messages = 0
	}

	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Group.Session.Timeout = 10 * time.Second
	sc.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	sc.Consumer.Return.Errors = true

	sc.Metadata.Retry.Max = 3
	sc.Metadata.Retry.Backoff = 250 * time.Millisecond
	return sc
}

func NewProducer(cfg config.KafkaSettings, logger *zap.Logger, opts ...ProducerOption) (*Producer, error) {
	async, err := sarama.NewAsyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := newProducer(async, cfg.TopicPrefix, logger, opts...)
	logger.Info("Kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
		zap.Bool("async", cfg.Async),
	)
	return p, nil
}

func newProducer(async sarama.AsyncProducer, prefix string, logger *zap.Logger, opts ...ProducerOption) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{
		async:   async,
		logger:  logger,
		prefix:  strings.TrimSuffix(prefix, "."),
		drained: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.drainErrors()
	return p
}

// NewConsumerGroup opens a consumer group with the same client settings as the producer.
func NewConsumerGroup(cfg config.KafkaSettings) (sarama.ConsumerGroup, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, newSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return group, nil
}

// drainErrors runs until the producer shuts down; an undrained Errors channel blocks Input.
func (p *Producer) drainErrors() {
	defer close(p.drained)
	for perr := range p.async.Errors() {
		if perr == nil || perr.Msg == nil {
			continue
		}
		eventType, _ := perr.Msg.Metadata.(domain.MatchEventType)
		p.logger.Error("match event delivery failed",
			zap.String("topic", perr.Msg.Topic),
			zap.String("event_type", string(eventType)),
			zap.Error(perr.Err),
		)
		if p.onFailure != nil && eventType != "" {
			p.onFailure(eventType)
		}
	}
}

// enqueue hands msg to the producer, giving up when ctx ends first.
func (p *Producer) enqueue(ctx context.Context, msg *sarama.ProducerMessage) error {
	select {
	case p.async.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes buffered messages and waits for the error drain to finish.
func (p *Producer) Close() error {
	p.logger.Info("Closing Kafka producer")
	p.async.AsyncClose()

	select {
	case <-p.drained:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("close kafka producer: timed out flushing messages")
	}
}

// TopicName returns the prefixed topic for an event type.
func (p *Producer) TopicName(eventType string) string {
	if p.prefix == "" || strings.HasPrefix(eventType, p.prefix+".") {
		return eventType
	}
	return p.prefix + "." + eventType
}
