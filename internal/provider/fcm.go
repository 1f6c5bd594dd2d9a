package provider

import (
	"context"
	"errors"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"google.golang.org/api/option"
)

const (
	FCMProviderName = "fcm"

	// FCM caps multicast sends at 500 registration tokens per request.
	fcmMulticastLimit = 500
)

type FCMSettings struct {
	ProjectID       string
	CredentialsJSON string
}

type fcmClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

var _ PushAdapter = (*FCMAdapter)(nil)

// FCMAdapter sends push notifications through Firebase Cloud Messaging.
// Destinations are device registration tokens or "topic:<name>".
type FCMAdapter struct {
	client fcmClient
}

func NewFCMAdapter(ctx context.Context, settings FCMSettings) (*FCMAdapter, error) {
	if err := requireSetting(domain.ChannelPush, FCMProviderName, "firebase project id", settings.ProjectID); err != nil {
		return nil, err
	}
	if err := requireSetting(domain.ChannelPush, FCMProviderName, "firebase credentials", settings.CredentialsJSON); err != nil {
		return nil, err
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: settings.ProjectID},
		option.WithCredentialsJSON([]byte(settings.CredentialsJSON)))
	if err != nil {
		return nil, &ConfigError{Channel: domain.ChannelPush, Provider: FCMProviderName, Message: "failed to initialize firebase app", Cause: err}
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, &ConfigError{Channel: domain.ChannelPush, Provider: FCMProviderName, Message: "failed to initialize messaging client", Cause: err}
	}

	return newFCMAdapterWithClient(client), nil
}

func newFCMAdapterWithClient(client fcmClient) *FCMAdapter {
	return &FCMAdapter{client: client}
}

func (a *FCMAdapter) Name() string { return FCMProviderName }

func (a *FCMAdapter) Channel() domain.Channel { return domain.ChannelPush }

func (a *FCMAdapter) Send(ctx context.Context, destination string, content Content) (*ProviderResponse, error) {
	message := &messaging.Message{
		Notification: fcmNotification(content),
		Data:         content.Data,
		Android:      fcmAndroidConfig(content.Priority),
	}
	if topic, ok := ParseTopicDestination(destination); ok {
		message.Topic = topic
	} else {
		message.Token = destination
	}

	messageID, err := a.client.Send(ctx, message)
	if err != nil {
		return nil, fcmError(err)
	}

	return &ProviderResponse{MessageID: messageID}, nil
}

// SendMulticast splits tokens into FCM sized batches. Per-token failures are
// reported in the result. A failed batch request marks only that batch's
// tokens as failed; the error is returned only when every batch failed.
func (a *FCMAdapter) SendMulticast(ctx context.Context, tokens []string, content Content) (*MulticastResult, error) {
	result := &MulticastResult{Results: make([]TargetResult, 0, len(tokens))}

	var (
		batchErr      error
		failedBatches int
		batches       int
	)
	for start := 0; start < len(tokens); start += fcmMulticastLimit {
		end := min(start+fcmMulticastLimit, len(tokens))
		batch := tokens[start:end]
		batches++

		resp, err := a.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: fcmNotification(content),
			Data:         content.Data,
			Android:      fcmAndroidConfig(content.Priority),
		})
		if err != nil {
			batchErr = fcmError(err)
			failedBatches++
			for _, token := range batch {
				result.FailureCount++
				result.Results = append(result.Results, TargetResult{
					Token:     token,
					Error:     batchErr.Error(),
					Transient: IsTransient(batchErr),
				})
			}
			continue
		}

		for i, token := range batch {
			target := TargetResult{Token: token}
			if i < len(resp.Responses) && resp.Responses[i] != nil {
				sendResp := resp.Responses[i]
				target.Success = sendResp.Success
				target.MessageID = sendResp.MessageID
				if sendResp.Error != nil {
					target.Error = sendResp.Error.Error()
					target.Transient = messaging.IsUnavailable(sendResp.Error) || messaging.IsInternal(sendResp.Error)
				}
			} else {
				target.Error = "missing response for token"
			}

			if target.Success {
				result.SuccessCount++
			} else {
				result.FailureCount++
			}
			result.Results = append(result.Results, target)
		}
	}

	if batches > 0 && failedBatches == batches {
		return nil, batchErr
	}
	return result, nil
}

func (a *FCMAdapter) SubscribeTopic(ctx context.Context, tokens []string, topic string) (*TopicResult, error) {
	resp, err := a.client.SubscribeToTopic(ctx, tokens, topic)
	if err != nil {
		return nil, fcmError(err)
	}
	return topicResult(tokens, resp), nil
}

func (a *FCMAdapter) UnsubscribeTopic(ctx context.Context, tokens []string, topic string) (*TopicResult, error) {
	resp, err := a.client.UnsubscribeFromTopic(ctx, tokens, topic)
	if err != nil {
		return nil, fcmError(err)
	}
	return topicResult(tokens, resp), nil
}

func topicResult(tokens []string, resp *messaging.TopicManagementResponse) *TopicResult {
	if resp == nil {
		return &TopicResult{}
	}

	result := &TopicResult{
		SuccessCount: resp.SuccessCount,
		FailureCount: resp.FailureCount,
		Errors:       make([]TopicError, 0, len(resp.Errors)),
	}
	for _, e := range resp.Errors {
		if e == nil {
			continue
		}
		topicErr := TopicError{Index: e.Index, Reason: e.Reason}
		if e.Index >= 0 && e.Index < len(tokens) {
			topicErr.Token = tokens[e.Index]
		}
		result.Errors = append(result.Errors, topicErr)
	}
	return result
}

func fcmNotification(content Content) *messaging.Notification {
	if strings.TrimSpace(content.Subject) == "" && strings.TrimSpace(content.Body) == "" {
		return nil
	}
	return &messaging.Notification{Title: content.Subject, Body: content.Body}
}

func fcmAndroidConfig(priority domain.Priority) *messaging.AndroidConfig {
	if priority == domain.PriorityHigh {
		return &messaging.AndroidConfig{Priority: "high"}
	}
	return &messaging.AndroidConfig{Priority: "normal"}
}

func fcmError(err error) error {
	if errors.Is(err, context.Canceled) {
		return requestError(FCMProviderName, err)
	}

	limited := messaging.IsQuotaExceeded(err)
	return &ProviderError{
		Provider:    FCMProviderName,
		Message:     "fcm request failed",
		Transient:   limited || messaging.IsUnavailable(err) || messaging.IsInternal(err),
		RateLimited: limited,
		Cause:       err,
	}
}
