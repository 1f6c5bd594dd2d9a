package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minAlertWorkers = 1

// AlertWorker consumes system alerts and fans them out as notifications.
type AlertWorker struct {
	consumer    queue.AlertConsumer
	notifier    eventNotifier
	logger      *zap.Logger
	concurrency int
}

func NewAlertWorker(consumer queue.AlertConsumer, notifier eventNotifier, concurrency int, logger *zap.Logger) (*AlertWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("alert consumer is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if concurrency < minAlertWorkers {
		concurrency = minAlertWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlertWorker{
		consumer:    consumer,
		notifier:    notifier,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the alert queue until context cancellation.
func (w *AlertWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.logger.Info("alert worker started", zap.Int("workerId", workerID), zap.String("queue", queue.AlertQueue))

			if err := w.consumer.Consume(groupCtx, queue.AlertQueue, w.processMessage); err != nil {
				w.logger.Error("alert worker stopped with error", zap.Int("workerId", workerID), zap.Error(err))
				return err
			}

			w.logger.Info("alert worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns an error only when the alert should be redelivered.
// Per-recipient delivery failures are recorded on the delivery logs.
func (w *AlertWorker) processMessage(ctx context.Context, msg queue.AlertMessage) error {
	channels := make([]domain.Channel, 0, len(msg.Channels))
	for _, raw := range msg.Channels {
		ch, err := domain.ParseChannelFromString(raw)
		if err != nil {
			w.logger.Warn("dropping alert with invalid channel", zap.String("tenantId", msg.TenantID), zap.Error(err))
			return nil
		}
		channels = append(channels, ch)
	}

	result, err := w.notifier.Notify(ctx, Event{
		Kind:         EventSystemAlert,
		TenantID:     msg.TenantID,
		RecipientIDs: msg.UserIDs,
		Title:        msg.Title,
		Message:      msg.Message,
		Priority:     msg.Priority,
	}, channels)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			w.logger.Warn("dropping invalid alert", zap.String("tenantId", msg.TenantID), zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to notify system alert: %w", err)
	}

	w.logger.Info("system alert processed",
		zap.String("tenantId", msg.TenantID),
		zap.Int("total", result.Summary.Total),
		zap.Int("successful", result.Summary.Successful),
		zap.Int("failed", result.Summary.Failed),
	)
	return nil
}
