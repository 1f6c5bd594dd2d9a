package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/provider"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"go.uber.org/zap"
)

// PushAdapterResolver resolves adapters with the multicast and topic surface.
type PushAdapterResolver interface {
	PushAdapter(name string) (provider.PushAdapter, error)
}

type TopicRequest struct {
	TenantID string
	Topic    string
	Tokens   []string
	Provider string
}

type UserPushRequest struct {
	TenantID string
	UserID   string
	Content  provider.Content
	Provider string
}

// UserPushResult reports the inbox row and one result per registered device.
type UserPushResult struct {
	Notification *domain.PushNotification
	Results      []SendResult
	Summary      Summary
}

// PushService layers user targeting, topics and the inbox over the push
// dispatcher.
type PushService struct {
	dispatcher    *Dispatcher
	adapters      PushAdapterResolver
	notifications repository.PushNotificationRepository
	devices       repository.DeviceTokenRepository
	logger        *zap.Logger
	now           func() time.Time
}

func NewPushService(
	dispatcher *Dispatcher,
	adapters PushAdapterResolver,
	notifications repository.PushNotificationRepository,
	devices repository.DeviceTokenRepository,
	logger *zap.Logger,
) (*PushService, error) {
	if dispatcher == nil || dispatcher.Channel() != domain.ChannelPush {
		return nil, fmt.Errorf("push dispatcher is required")
	}
	if adapters == nil {
		return nil, fmt.Errorf("push adapter resolver is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("push notification repository is required")
	}
	if devices == nil {
		return nil, fmt.Errorf("device token repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PushService{
		dispatcher:    dispatcher,
		adapters:      adapters,
		notifications: notifications,
		devices:       devices,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (s *PushService) Dispatcher() *Dispatcher { return s.dispatcher }

func (s *PushService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	return s.dispatcher.SendOne(ctx, req)
}

func (s *PushService) SendBulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	return s.dispatcher.SendBulk(ctx, req)
}

// SendToTopic sends to every device subscribed to topic. The log records the
// topic as its destination so it can be retried like a token send.
func (s *PushService) SendToTopic(ctx context.Context, tenantID string, topic string, content provider.Content, providerName string) (*SendResult, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}

	return s.dispatcher.SendOne(ctx, SendRequest{
		TenantID:    tenantID,
		Destination: provider.TopicDestination(topic),
		Content:     content,
		Provider:    providerName,
	})
}

// SendToUser records an inbox notification for the user, then multicasts it
// to every registered device with one delivery log per token. A whole-call
// adapter failure marks every log failed and is returned.
func (s *PushService) SendToUser(ctx context.Context, req UserPushRequest) (*UserPushResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenantId is required", domain.ErrValidation)
	}
	if err := domain.ValidateContent(domain.ChannelPush, req.Content.Subject, req.Content.Body); err != nil {
		return nil, err
	}
	if req.Content.Priority == "" {
		req.Content.Priority = domain.PriorityNormal
	}

	now := s.now().UTC()
	notification := &domain.PushNotification{
		ID:        uuid.NewString(),
		TenantID:  strings.TrimSpace(req.TenantID),
		UserID:    strings.TrimSpace(req.UserID),
		Title:     req.Content.Subject,
		Message:   req.Content.Body,
		Priority:  req.Content.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := notification.Validate(); err != nil {
		return nil, err
	}
	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to create push notification: %w", err)
	}

	tokens, err := s.devices.ListTokens(ctx, notification.TenantID, notification.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}

	result := &UserPushResult{Notification: notification, Results: make([]SendResult, 0, len(tokens))}
	if len(tokens) == 0 {
		s.logger.Info("user has no registered devices",
			zap.String("tenantId", notification.TenantID),
			zap.String("userId", notification.UserID),
		)
		return result, nil
	}

	logs := make([]*domain.DeliveryLog, 0, len(tokens))
	for _, token := range tokens {
		log, err := s.dispatcher.createLog(ctx, notification.TenantID, token, req.Content, req.Provider)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	multicast, sendErr := s.multicast(ctx, logs[0].Provider, tokens, req.Content)
	if sendErr != nil {
		for _, log := range logs {
			if err := s.dispatcher.markFailed(ctx, log, sendErr); err != nil {
				return nil, err
			}
			result.Results = append(result.Results, *resultFromLog(log))
		}
		result.Summary = summarize(result.Results)
		return result, sendErr
	}

	for i, log := range logs {
		if err := s.reconcileTarget(ctx, log, targetAt(multicast, i)); err != nil {
			return nil, err
		}
		result.Results = append(result.Results, *resultFromLog(log))
	}
	result.Summary = summarize(result.Results)
	return result, nil
}

func (s *PushService) multicast(ctx context.Context, providerName string, tokens []string, content provider.Content) (*provider.MulticastResult, error) {
	adapter, err := s.adapters.PushAdapter(providerName)
	if err != nil {
		return nil, err
	}
	if err := s.dispatcher.throttle.Wait(ctx, domain.ChannelPush.String()+":"+providerName); err != nil {
		return nil, fmt.Errorf("provider throttle: %w", err)
	}

	start := s.now()
	result, err := adapter.SendMulticast(ctx, tokens, content)
	s.dispatcher.metrics.ObserveDeliverySendDuration(domain.ChannelPush.String(), providerName, s.now().Sub(start))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, &provider.ProviderError{Provider: providerName, Message: "provider returned no multicast result"}
	}
	return result, nil
}

func (s *PushService) reconcileTarget(ctx context.Context, log *domain.DeliveryLog, target *provider.TargetResult) error {
	switch {
	case target == nil:
		return s.dispatcher.markFailed(ctx, log, &provider.ProviderError{Provider: log.Provider, Message: "provider returned no result for token"})
	case target.Success:
		return s.dispatcher.markSent(ctx, log, target.MessageID)
	default:
		return s.dispatcher.markFailed(ctx, log, &provider.ProviderError{Provider: log.Provider, Message: target.Error, Transient: target.Transient})
	}
}

func targetAt(result *provider.MulticastResult, i int) *provider.TargetResult {
	if i >= len(result.Results) {
		return nil
	}
	return &result.Results[i]
}

func (s *PushService) SubscribeTopic(ctx context.Context, req TopicRequest) (*provider.TopicResult, error) {
	adapter, tokens, err := s.topicAdapter(req)
	if err != nil {
		return nil, err
	}
	return adapter.SubscribeTopic(ctx, tokens, strings.TrimSpace(req.Topic))
}

func (s *PushService) UnsubscribeTopic(ctx context.Context, req TopicRequest) (*provider.TopicResult, error) {
	adapter, tokens, err := s.topicAdapter(req)
	if err != nil {
		return nil, err
	}
	return adapter.UnsubscribeTopic(ctx, tokens, strings.TrimSpace(req.Topic))
}

func (s *PushService) topicAdapter(req TopicRequest) (provider.PushAdapter, []string, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, nil, fmt.Errorf("%w: tenantId is required", domain.ErrValidation)
	}
	if err := validateTopic(req.Topic); err != nil {
		return nil, nil, err
	}

	tokens := make([]string, 0, len(req.Tokens))
	for _, token := range req.Tokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	if len(tokens) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one token is required", domain.ErrValidation)
	}

	adapter, err := s.adapters.PushAdapter(req.Provider)
	if err != nil {
		return nil, nil, err
	}
	return adapter, tokens, nil
}

func validateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("%w: topic is required", domain.ErrValidation)
	}
	return nil
}

func (s *PushService) ListInbox(ctx context.Context, query repository.InboxQuery) ([]domain.PushNotification, int64, error) {
	if strings.TrimSpace(query.TenantID) == "" || strings.TrimSpace(query.UserID) == "" {
		return nil, 0, fmt.Errorf("%w: tenantId and userId are required", domain.ErrValidation)
	}
	return s.notifications.ListByUser(ctx, query)
}

// MarkRead flips a notification to read. It never moves back to unread.
func (s *PushService) MarkRead(ctx context.Context, tenantID string, userID string, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.MarkRead(ctx, tenantID, userID, strings.TrimSpace(id))
}

func (s *PushService) UnreadCount(ctx context.Context, tenantID string, userID string) (int64, error) {
	return s.notifications.CountUnread(ctx, tenantID, userID)
}
