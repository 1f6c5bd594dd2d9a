package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const (
	defaultRetrySweepInterval = 5 * time.Minute
	defaultRetrySweepLimit    = 50
)

// RetrySweeper periodically re-attempts failed deliveries of every channel
// once their scheduled retry time has passed.
type RetrySweeper struct {
	dispatchers []*Dispatcher
	logger      *zap.Logger
	interval    time.Duration
	limit       int
}

func NewRetrySweeper(
	dispatchers []*Dispatcher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetrySweeper, error) {
	if len(dispatchers) == 0 {
		return nil, fmt.Errorf("at least one dispatcher is required")
	}
	for _, d := range dispatchers {
		if d == nil {
			return nil, fmt.Errorf("dispatcher must not be nil")
		}
	}
	if interval <= 0 {
		interval = defaultRetrySweepInterval
	}
	if limit <= 0 {
		limit = defaultRetrySweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetrySweeper{
		dispatchers: dispatchers,
		logger:      logger,
		interval:    interval,
		limit:       limit,
	}, nil
}

func (s *RetrySweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so failures from before a restart are not left waiting.
	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry sweeper sweep failed", zap.Error(err))
			}
		}
	}
}

// sweep retries every channel even when an earlier one fails.
func (s *RetrySweeper) sweep(ctx context.Context) error {
	var result *multierror.Error

	for _, d := range s.dispatchers {
		results, err := d.RetryDue(ctx, s.limit)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", d.Channel(), err))
		}

		summary := summarize(results)
		if summary.Total > 0 {
			s.logger.Info("retried failed deliveries",
				zap.String("channel", d.Channel().String()),
				zap.Int("total", summary.Total),
				zap.Int("successful", summary.Successful),
				zap.Int("failed", summary.Failed),
			)
		}
	}

	return result.ErrorOrNil()
}
