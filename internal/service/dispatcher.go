package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/observability"
	"github.com/kursadbilgin/comms-gateway/internal/provider"
	"github.com/kursadbilgin/comms-gateway/internal/queue"
	"github.com/kursadbilgin/comms-gateway/internal/ratelimit"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize       = 10
	defaultInterBatchDelay = time.Second
	defaultRetryWindow     = 24 * time.Hour
	defaultRetryLimit      = 50
	defaultMaxAttempts     = 5
	defaultRetentionDays   = 90
	maxBulkItems           = 1000

	baseRetryDelay = time.Minute
	maxRetryDelay  = time.Hour

	// unresolvedProvider is recorded when neither the request nor the channel
	// default names a provider.
	unresolvedProvider = "none"
)

// AdapterResolver resolves provider adapters for a channel.
type AdapterResolver interface {
	Adapter(channel domain.Channel, name string) (provider.Adapter, error)
	ResolveName(channel domain.Channel, name string) string
	SupportedProviders(channel domain.Channel) []string
}

// DispatchSettings tunes bulk pacing, the retry sweep and retention.
type DispatchSettings struct {
	BatchSize       int
	InterBatchDelay time.Duration
	RetryWindow     time.Duration
	RetryLimit      int
	// MaxAttempts bounds how many times one log is sent, the first attempt
	// included.
	MaxAttempts   int
	RetentionDays int
}

func (s DispatchSettings) withDefaults() DispatchSettings {
	if s.BatchSize <= 0 {
		s.BatchSize = defaultBatchSize
	}
	if s.InterBatchDelay < 0 {
		s.InterBatchDelay = defaultInterBatchDelay
	}
	if s.RetryWindow <= 0 {
		s.RetryWindow = defaultRetryWindow
	}
	if s.RetryLimit <= 0 {
		s.RetryLimit = defaultRetryLimit
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = defaultMaxAttempts
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = defaultRetentionDays
	}
	return s
}

// DefaultDispatchSettings returns 10 item chunks one second apart, a 24 hour
// retry window of 50 rows, 5 attempts per log and 90 days of retention.
func DefaultDispatchSettings() DispatchSettings {
	return DispatchSettings{InterBatchDelay: defaultInterBatchDelay}.withDefaults()
}

type SendRequest struct {
	TenantID    string
	Destination string
	Content     provider.Content
	// Provider overrides the channel default when set.
	Provider string
}

type SendResult struct {
	LogID             string
	Destination       string
	Provider          string
	ProviderMessageID string
	Status            domain.DeliveryStatus
	Error             string
}

type BulkItem struct {
	Destination string
	Content     provider.Content
}

type BulkRequest struct {
	TenantID string
	Items    []BulkItem
	Provider string
}

type Summary struct {
	Total      int
	Successful int
	Failed     int
}

type BulkResult struct {
	Results []SendResult
	Summary Summary
}

// ProviderListing describes the providers a channel can use.
type ProviderListing struct {
	Channel   domain.Channel
	Default   string
	Supported []string
}

// Dispatcher is the delivery engine of a single channel: it records a
// pending log, invokes the adapter and reconciles the outcome into the log.
type Dispatcher struct {
	channel  domain.Channel
	logs     repository.DeliveryLogRepository
	adapters AdapterResolver
	settings DispatchSettings
	throttle ratelimit.RateLimiter
	events   queue.EventPublisher
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	channel domain.Channel,
	logs repository.DeliveryLogRepository,
	adapters AdapterResolver,
	settings DispatchSettings,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("invalid channel %q", channel)
	}
	if logs == nil {
		return nil, fmt.Errorf("delivery log repository is required")
	}
	if adapters == nil {
		return nil, fmt.Errorf("adapter resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		channel:  channel,
		logs:     logs,
		adapters: adapters,
		settings: settings.withDefaults(),
		throttle: ratelimit.Unlimited{},
		events:   queue.NoopPublisher{},
		logger:   logger.With(zap.String("channel", channel.String())),
		now:      time.Now,
		sleep:    sleepWithContext,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// SetThrottle installs a limiter awaited before every vendor call, scoped by
// channel and provider.
func (d *Dispatcher) SetThrottle(throttle ratelimit.RateLimiter) {
	if d == nil || throttle == nil {
		return
	}
	d.throttle = throttle
}

func (d *Dispatcher) SetEventPublisher(events queue.EventPublisher) {
	if d == nil || events == nil {
		return
	}
	d.events = events
}

func (d *Dispatcher) Channel() domain.Channel { return d.channel }

// SendOne delivers a single message. A vendor or configuration failure is
// recorded on the log and returned together with the result.
func (d *Dispatcher) SendOne(ctx context.Context, req SendRequest) (*SendResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := d.validate(req.TenantID, req.Destination, req.Content); err != nil {
		return nil, err
	}

	log, err := d.createLog(ctx, req.TenantID, req.Destination, req.Content, req.Provider)
	if err != nil {
		return nil, err
	}

	outcome, err := d.attempt(ctx, log, req.Content)
	if err != nil {
		return nil, err
	}
	return outcome.result, outcome.sendErr
}

// SendBulk sends items in consecutive chunks of BatchSize. Items of a chunk
// run concurrently and the next chunk starts InterBatchDelay after the whole
// chunk settled. Vendor failures are reported per item; only store failures
// abort the call. When ctx ends between chunks, the settled results are kept
// and the remaining items are reported as not attempted.
func (d *Dispatcher) SendBulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenantId is required", domain.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}
	if len(req.Items) > maxBulkItems {
		return nil, fmt.Errorf("%w: bulk size exceeds %d", domain.ErrValidation, maxBulkItems)
	}

	results := make([]SendResult, len(req.Items))
	batchSize := d.settings.BatchSize

	for start := 0; start < len(req.Items); start += batchSize {
		if start > 0 {
			if err := d.sleep(ctx, d.settings.InterBatchDelay); err != nil {
				d.logger.Warn("bulk send interrupted",
					zap.String("tenantId", req.TenantID),
					zap.Int("attempted", start),
					zap.Int("skipped", len(req.Items)-start),
					zap.Error(err),
				)
				for i := start; i < len(req.Items); i++ {
					results[i] = d.notAttempted(req.Items[i], req.Provider, err)
				}
				break
			}
		}

		end := min(start+batchSize, len(req.Items))
		d.metrics.IncBulkChunk(d.channel.String())

		var g errgroup.Group
		for i := start; i < end; i++ {
			item := req.Items[i]
			g.Go(func() error {
				d.metrics.IncBulkInFlight(d.channel.String())
				defer d.metrics.DecBulkInFlight(d.channel.String())

				result, err := d.sendItem(ctx, req.TenantID, item, req.Provider)
				if err != nil {
					return err
				}
				results[i] = *result
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return &BulkResult{Results: results, Summary: summarize(results)}, nil
}

func (d *Dispatcher) notAttempted(item BulkItem, providerName string, cause error) SendResult {
	return SendResult{
		Destination: item.Destination,
		Provider:    d.providerName(providerName),
		Status:      domain.DeliveryFailed,
		Error:       "not attempted: " + cause.Error(),
	}
}

func (d *Dispatcher) sendItem(ctx context.Context, tenantID string, item BulkItem, providerName string) (*SendResult, error) {
	if err := d.validate(tenantID, item.Destination, item.Content); err != nil {
		return &SendResult{
			Destination: item.Destination,
			Provider:    d.providerName(providerName),
			Status:      domain.DeliveryFailed,
			Error:       err.Error(),
		}, nil
	}

	log, err := d.createLog(ctx, tenantID, item.Destination, item.Content, providerName)
	if err != nil {
		return nil, err
	}

	outcome, err := d.attempt(ctx, log, item.Content)
	if err != nil {
		return nil, err
	}
	return outcome.result, nil
}

// RetryFailed re-attempts failed logs of this channel created within the
// retry window, oldest first, through the provider recorded on each log.
// Logs that used MaxAttempts are left alone. An empty tenantID sweeps every
// tenant.
func (d *Dispatcher) RetryFailed(ctx context.Context, tenantID string, limit int) ([]SendResult, error) {
	return d.retry(ctx, repository.RetryQuery{TenantID: tenantID, Limit: limit})
}

// RetryDue re-attempts failed logs of every tenant whose scheduled retry time
// has passed, soonest first. Permanent failures are never scheduled, so they
// cannot crowd out newer transient ones.
func (d *Dispatcher) RetryDue(ctx context.Context, limit int) ([]SendResult, error) {
	now := d.now().UTC()
	return d.retry(ctx, repository.RetryQuery{DueBy: &now, Limit: limit})
}

func (d *Dispatcher) retry(ctx context.Context, q repository.RetryQuery) ([]SendResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if q.Limit <= 0 {
		q.Limit = d.settings.RetryLimit
	}
	q.Channel = d.channel
	q.Since = d.now().UTC().Add(-d.settings.RetryWindow)
	q.MaxAttempts = d.settings.MaxAttempts

	failed, err := d.logs.ListFailedForRetry(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed deliveries: %w", err)
	}

	results := make([]SendResult, 0, len(failed))
	for i := range failed {
		log := failed[i]

		err := d.logs.UpdateStatus(ctx, log.ID, repository.StatusUpdate{Status: domain.DeliveryPending})
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			// Another sweep picked it up or it was deleted meanwhile.
			d.logger.Debug("skipping retry of delivery log", zap.String("logId", log.ID), zap.Error(err))
			continue
		}
		if err != nil {
			return results, fmt.Errorf("failed to reopen delivery log %s: %w", log.ID, err)
		}

		log.Status = domain.DeliveryPending
		log.AttemptCount++
		log.ErrorDetail = nil
		log.NextRetryAt = nil
		d.metrics.IncRetryAttempt(d.channel.String())

		outcome, err := d.attempt(ctx, &log, contentFromLog(&log))
		if err != nil {
			return results, err
		}
		results = append(results, *outcome.result)
	}

	return results, nil
}

// CleanupOld deletes sent and failed logs older than daysOld days (the
// configured retention when daysOld <= 0). Pending logs are never deleted.
func (d *Dispatcher) CleanupOld(ctx context.Context, tenantID string, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = d.settings.RetentionDays
	}

	cutoff := d.now().UTC().Add(-time.Duration(daysOld) * 24 * time.Hour)
	deleted, err := d.logs.DeleteOlderThan(ctx, tenantID, d.channel, cutoff,
		[]domain.DeliveryStatus{domain.DeliverySent, domain.DeliveryFailed})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old delivery logs: %w", err)
	}

	d.metrics.AddRetentionDeleted(d.channel.String(), deleted)
	return deleted, nil
}

// StalePending lists logs stuck in pending for longer than olderThan.
func (d *Dispatcher) StalePending(ctx context.Context, olderThan time.Duration, limit int) ([]domain.DeliveryLog, error) {
	return d.logs.ListStalePending(ctx, d.channel, d.now().UTC().Add(-olderThan), limit)
}

func (d *Dispatcher) ListLogs(ctx context.Context, filter repository.DeliveryLogFilter) ([]domain.DeliveryLog, int64, error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return nil, 0, fmt.Errorf("%w: tenantId is required", domain.ErrValidation)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, 0, fmt.Errorf("%w: from must not be after to", domain.ErrValidation)
	}

	channel := d.channel
	filter.Channel = &channel
	return d.logs.List(ctx, filter)
}

// GetLog returns the log when it belongs to tenantID and this channel.
func (d *Dispatcher) GetLog(ctx context.Context, tenantID string, id string) (*domain.DeliveryLog, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: log id is required", domain.ErrValidation)
	}

	log, err := d.logs.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if log.TenantID != tenantID || log.Channel != d.channel {
		return nil, domain.ErrNotFound
	}
	return log, nil
}

func (d *Dispatcher) DeleteLog(ctx context.Context, tenantID string, id string) error {
	if _, err := d.GetLog(ctx, tenantID, id); err != nil {
		return err
	}
	return d.logs.Delete(ctx, tenantID, strings.TrimSpace(id))
}

func (d *Dispatcher) DeleteLogs(ctx context.Context, tenantID string, ids []string) (int64, error) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return 0, fmt.Errorf("%w: at least one id is required", domain.ErrValidation)
	}
	return d.logs.DeleteByIDs(ctx, tenantID, cleaned)
}

// StatusCounts reports the number of logs per status, zero-filled.
func (d *Dispatcher) StatusCounts(ctx context.Context, tenantID string) (map[domain.DeliveryStatus]int64, error) {
	counts, err := d.logs.CountByStatus(ctx, tenantID, d.channel)
	if err != nil {
		return nil, err
	}

	out := map[domain.DeliveryStatus]int64{
		domain.DeliveryPending: 0,
		domain.DeliverySent:    0,
		domain.DeliveryFailed:  0,
	}
	for status, count := range counts {
		out[status] = count
	}
	return out, nil
}

func (d *Dispatcher) Providers() ProviderListing {
	return ProviderListing{
		Channel:   d.channel,
		Default:   d.adapters.ResolveName(d.channel, ""),
		Supported: d.adapters.SupportedProviders(d.channel),
	}
}

func (d *Dispatcher) validate(tenantID string, destination string, content provider.Content) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenantId is required", domain.ErrValidation)
	}
	if err := domain.ValidateDestination(d.channel, destination); err != nil {
		return err
	}
	return domain.ValidateContent(d.channel, content.Subject, content.Body)
}

func (d *Dispatcher) providerName(override string) string {
	if name := d.adapters.ResolveName(d.channel, override); name != "" {
		return name
	}
	return unresolvedProvider
}

// createLog persists the pending log before any adapter is resolved, so a
// configuration failure still leaves an auditable failed row.
func (d *Dispatcher) createLog(ctx context.Context, tenantID string, destination string, content provider.Content, providerName string) (*domain.DeliveryLog, error) {
	now := d.now().UTC()
	log := &domain.DeliveryLog{
		ID:           uuid.NewString(),
		TenantID:     strings.TrimSpace(tenantID),
		Channel:      d.channel,
		Destination:  strings.TrimSpace(destination),
		Subject:      content.Subject,
		Body:         content.Body,
		HTMLBody:     content.HTMLBody,
		Data:         content.Data,
		Priority:     content.Priority,
		Status:       domain.DeliveryPending,
		Provider:     d.providerName(providerName),
		AttemptCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := log.Validate(); err != nil {
		return nil, err
	}

	if err := d.logs.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to create delivery log: %w", err)
	}
	return log, nil
}

// attemptOutcome keeps the vendor error apart from store errors, which are
// returned directly by attempt.
type attemptOutcome struct {
	result  *SendResult
	sendErr error
}

// attempt resolves the adapter of a pending log, sends and reconciles.
func (d *Dispatcher) attempt(ctx context.Context, log *domain.DeliveryLog, content provider.Content) (attemptOutcome, error) {
	adapter, err := d.adapters.Adapter(d.channel, log.Provider)
	if err != nil {
		return d.fail(ctx, log, err)
	}

	if err := d.throttle.Wait(ctx, d.channel.String()+":"+log.Provider); err != nil {
		return d.fail(ctx, log, fmt.Errorf("provider throttle: %w", err))
	}

	start := d.now()
	resp, sendErr := adapter.Send(ctx, log.Destination, content)
	d.metrics.ObserveDeliverySendDuration(d.channel.String(), log.Provider, d.now().Sub(start))
	if sendErr != nil {
		return d.fail(ctx, log, sendErr)
	}

	messageID := ""
	if resp != nil {
		messageID = strings.TrimSpace(resp.MessageID)
	}
	if err := d.markSent(ctx, log, messageID); err != nil {
		return attemptOutcome{}, err
	}
	return attemptOutcome{result: resultFromLog(log)}, nil
}

func (d *Dispatcher) fail(ctx context.Context, log *domain.DeliveryLog, sendErr error) (attemptOutcome, error) {
	if err := d.markFailed(ctx, log, sendErr); err != nil {
		return attemptOutcome{}, err
	}
	return attemptOutcome{result: resultFromLog(log), sendErr: sendErr}, nil
}

func (d *Dispatcher) markSent(ctx context.Context, log *domain.DeliveryLog, messageID string) error {
	update := repository.StatusUpdate{Status: domain.DeliverySent}
	if messageID != "" {
		update.ProviderMessageID = &messageID
	}

	// Reconciliation must land even when the caller has gone away.
	storeCtx := context.WithoutCancel(ctx)
	if err := d.logs.UpdateStatus(storeCtx, log.ID, update); err != nil {
		return fmt.Errorf("failed to mark delivery log %s sent: %w", log.ID, err)
	}

	log.Status = domain.DeliverySent
	log.ProviderMessageID = update.ProviderMessageID
	log.ErrorDetail = nil
	log.UpdatedAt = d.now().UTC()

	d.metrics.IncDeliverySent(d.channel.String(), log.Provider)
	d.publish(storeCtx, log)
	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, log *domain.DeliveryLog, sendErr error) error {
	detail := sendErr.Error()
	update := repository.StatusUpdate{
		Status:      domain.DeliveryFailed,
		ErrorDetail: &detail,
		NextRetryAt: d.nextRetryAt(log.AttemptCount, sendErr),
	}

	storeCtx := context.WithoutCancel(ctx)
	if err := d.logs.UpdateStatus(storeCtx, log.ID, update); err != nil {
		return fmt.Errorf("failed to mark delivery log %s failed: %w", log.ID, err)
	}

	log.Status = domain.DeliveryFailed
	log.ErrorDetail = &detail
	log.NextRetryAt = update.NextRetryAt
	log.UpdatedAt = d.now().UTC()

	observability.WithContextLogger(d.logger, ctx).Warn("delivery failed",
		zap.String("logId", log.ID),
		zap.String("tenantId", log.TenantID),
		zap.String("provider", log.Provider),
		zap.Bool("transient", provider.IsTransient(sendErr)),
		zap.Bool("retryScheduled", update.NextRetryAt != nil),
		zap.Error(sendErr),
	)
	d.metrics.IncDeliveryFailed(d.channel.String(), log.Provider, failureReason(sendErr))
	d.publish(storeCtx, log)
	return nil
}

// nextRetryAt schedules the sweeper retry of a failed attempt. Only
// transient failures are scheduled, and never past MaxAttempts.
func (d *Dispatcher) nextRetryAt(attemptCount int, sendErr error) *time.Time {
	if !provider.IsTransient(sendErr) || attemptCount >= d.settings.MaxAttempts {
		return nil
	}
	at := d.now().UTC().Add(computeRetryDelay(attemptCount))
	return &at
}

// computeRetryDelay doubles baseRetryDelay per attempt up to maxRetryDelay.
func computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func (d *Dispatcher) publish(ctx context.Context, log *domain.DeliveryLog) {
	event := queue.DeliveryEvent{
		LogID:        log.ID,
		TenantID:     log.TenantID,
		Channel:      log.Channel,
		Status:       log.Status,
		Provider:     log.Provider,
		AttemptCount: log.AttemptCount,
		OccurredAt:   log.UpdatedAt,
	}
	if log.ProviderMessageID != nil {
		event.ProviderMessageID = *log.ProviderMessageID
	}
	if log.ErrorDetail != nil {
		event.Error = *log.ErrorDetail
	}

	if err := d.events.PublishDeliveryEvent(ctx, event); err != nil {
		d.logger.Warn("failed to publish delivery event",
			zap.String("logId", log.ID),
			zap.Error(err),
		)
	}
}

// contentFromLog rebuilds the message a log was first sent with.
func contentFromLog(log *domain.DeliveryLog) provider.Content {
	return provider.Content{
		Subject:  log.Subject,
		Body:     log.Body,
		HTMLBody: log.HTMLBody,
		Data:     log.Data,
		Priority: log.Priority,
	}
}

func resultFromLog(log *domain.DeliveryLog) *SendResult {
	result := &SendResult{
		LogID:       log.ID,
		Destination: log.Destination,
		Provider:    log.Provider,
		Status:      log.Status,
	}
	if log.ProviderMessageID != nil {
		result.ProviderMessageID = *log.ProviderMessageID
	}
	if log.ErrorDetail != nil {
		result.Error = *log.ErrorDetail
	}
	return result
}

func summarize(results []SendResult) Summary {
	summary := Summary{Total: len(results)}
	for _, r := range results {
		if r.Status == domain.DeliverySent {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	return summary
}

func failureReason(err error) string {
	switch {
	case provider.IsConfigError(err):
		return "config_error"
	case provider.IsRateLimited(err):
		return "rate_limited"
	case provider.IsTransient(err):
		return "transient_error"
	default:
		return "permanent_error"
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
