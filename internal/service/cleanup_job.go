package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const (
	defaultCleanupInterval  = 24 * time.Hour
	defaultStalePendingAge  = time.Hour
	defaultStalePendingScan = 100
)

// CleanupJob periodically applies retention to the delivery logs of every
// channel and reports logs stuck in pending.
type CleanupJob struct {
	dispatchers   []*Dispatcher
	logger        *zap.Logger
	interval      time.Duration
	retentionDays int
	staleAfter    time.Duration
}

func NewCleanupJob(
	dispatchers []*Dispatcher,
	interval time.Duration,
	retentionDays int,
	logger *zap.Logger,
) (*CleanupJob, error) {
	if len(dispatchers) == 0 {
		return nil, fmt.Errorf("at least one dispatcher is required")
	}
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CleanupJob{
		dispatchers:   dispatchers,
		logger:        logger,
		interval:      interval,
		retentionDays: retentionDays,
		staleAfter:    defaultStalePendingAge,
	}, nil
}

func (j *CleanupJob) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := j.run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job initial run failed", zap.Error(err))
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.run(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				j.logger.Error("cleanup job run failed", zap.Error(err))
			}
		}
	}
}

func (j *CleanupJob) run(ctx context.Context) error {
	var result *multierror.Error

	for _, d := range j.dispatchers {
		deleted, err := d.CleanupOld(ctx, "", j.retentionDays)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", d.Channel(), err))
		} else if deleted > 0 {
			j.logger.Info("deleted old delivery logs",
				zap.String("channel", d.Channel().String()),
				zap.Int64("deleted", deleted),
			)
		}

		stale, err := d.StalePending(ctx, j.staleAfter, defaultStalePendingScan)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s stale scan: %w", d.Channel(), err))
			continue
		}
		for _, l := range stale {
			j.logger.Warn("delivery log stuck in pending",
				zap.String("channel", d.Channel().String()),
				zap.String("logId", l.ID),
				zap.String("tenantId", l.TenantID),
				zap.Time("createdAt", l.CreatedAt),
			)
		}
	}

	return result.ErrorOrNil()
}
