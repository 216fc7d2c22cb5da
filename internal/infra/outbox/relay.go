package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
)

const (
	defaultInterval  = 5 * time.Second
	defaultBatchSize = 50
)

// RelayMetrics observes relay throughput.
type RelayMetrics interface {
	IncRelayed(delivered bool)
}

// RelayOptions tunes the relay cadence.
type RelayOptions struct {
	Interval  time.Duration
	BatchSize int
}

// Relay periodically drains pending outbox entries into the delivery port.
type Relay struct {
	store     port.NotificationOutbox
	delivery  port.NotificationPort
	logger    *zap.Logger
	metrics   RelayMetrics
	interval  time.Duration
	batchSize int

	scheduler *gocron.Scheduler
	mu        sync.Mutex
}

// NewRelay constructs a relay. Call Start to schedule it.
func NewRelay(store port.NotificationOutbox, delivery port.NotificationPort, logger *zap.Logger, opts RelayOptions) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Relay{
		store:     store,
		delivery:  delivery,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// WithMetrics wires relay observers.
func (r *Relay) WithMetrics(metrics RelayMetrics) *Relay {
	if metrics != nil {
		r.metrics = metrics
	}
	return r
}

// Start schedules the relay. Runs never overlap.
func (r *Relay) Start(ctx context.Context) error {
	if r.scheduler != nil {
		return errors.New("outbox relay already started")
	}
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	if _, err := scheduler.Every(r.interval).Do(func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Warn("outbox relay run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule outbox relay: %w", err)
	}

	scheduler.StartAsync()
	r.scheduler = scheduler
	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch_size", r.batchSize))
	return nil
}

// Stop halts scheduling and waits for a running batch to finish.
func (r *Relay) Stop() {
	if r.scheduler == nil {
		return
	}
	r.scheduler.Stop()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduler = nil
}

// RunOnce delivers one batch and returns how many entries were delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending notifications: %w", err)
	}

	delivered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		if err := r.delivery.NotifyParties(ctx, entry.Notification); err != nil {
			r.logger.Warn("outbox delivery failed",
				zap.String("outbox_id", entry.ID),
				zap.String("match_id", entry.Notification.MatchID),
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err),
			)
			if markErr := r.store.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
				r.logger.Error("failed to record outbox failure", zap.String("outbox_id", entry.ID), zap.Error(markErr))
			}
			r.observe(false)
			continue
		}

		if err := r.store.MarkDelivered(ctx, entry.ID); err != nil {
			// Delivered but not marked: the entry is sent again next run.
			r.logger.Error("failed to mark outbox entry delivered", zap.String("outbox_id", entry.ID), zap.Error(err))
			continue
		}
		delivered++
		r.observe(true)
	}

	return delivered, nil
}

func (r *Relay) observe(delivered bool) {
	if r.metrics != nil {
		r.metrics.IncRelayed(delivered)
	}
}
