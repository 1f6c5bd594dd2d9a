package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
)

const (
	WebhookProviderName   = "webhook"
	defaultWebhookTimeout = 10 * time.Second
)

type webhookRequest struct {
	To       string            `json:"to"`
	Channel  string            `json:"channel"`
	Subject  string            `json:"subject,omitempty"`
	Content  string            `json:"content"`
	HTML     string            `json:"html,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

type webhookTopicRequest struct {
	Action string   `json:"action"`
	Topic  string   `json:"topic"`
	Tokens []string `json:"tokens"`
}

var _ PushAdapter = (*WebhookAdapter)(nil)

// WebhookAdapter relays messages of any channel to an HTTP endpoint. It is
// used for local development and for tenants that bring their own gateway.
type WebhookAdapter struct {
	client   *resty.Client
	endpoint string
	channel  domain.Channel
}

func NewWebhookAdapter(channel domain.Channel, endpoint string) (*WebhookAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookAdapterWithClient(channel, endpoint, client)
}

func NewWebhookAdapterWithClient(channel domain.Channel, endpoint string, client *resty.Client) (*WebhookAdapter, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if err := requireSetting(channel, WebhookProviderName, "webhook endpoint", trimmedEndpoint); err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, &ConfigError{Channel: channel, Provider: WebhookProviderName, Message: "invalid webhook endpoint", Cause: err}
	}
	if client == nil {
		return nil, configErrorf(channel, WebhookProviderName, "resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookAdapter{
		client:   client,
		endpoint: trimmedEndpoint,
		channel:  channel,
	}, nil
}

func (p *WebhookAdapter) Name() string { return WebhookProviderName }

func (p *WebhookAdapter) Channel() domain.Channel { return p.channel }

func (p *WebhookAdapter) Send(ctx context.Context, destination string, content Content) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	reqBody := webhookRequest{
		To:       destination,
		Channel:  p.channel.String(),
		Subject:  content.Subject,
		Content:  content.Body,
		HTML:     content.HTMLBody,
		Data:     content.Data,
		Priority: content.Priority.String(),
	}

	return p.post(ctx, reqBody)
}

func (p *WebhookAdapter) SendMulticast(ctx context.Context, tokens []string, content Content) (*MulticastResult, error) {
	result := &MulticastResult{Results: make([]TargetResult, 0, len(tokens))}
	for _, token := range tokens {
		resp, err := p.Send(ctx, token, content)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			result.FailureCount++
			result.Results = append(result.Results, TargetResult{Token: token, Error: err.Error(), Transient: IsTransient(err)})
			continue
		}
		result.SuccessCount++
		result.Results = append(result.Results, TargetResult{Token: token, Success: true, MessageID: resp.MessageID})
	}
	return result, nil
}

func (p *WebhookAdapter) SubscribeTopic(ctx context.Context, tokens []string, topic string) (*TopicResult, error) {
	return p.topicAction(ctx, "subscribe", tokens, topic)
}

func (p *WebhookAdapter) UnsubscribeTopic(ctx context.Context, tokens []string, topic string) (*TopicResult, error) {
	return p.topicAction(ctx, "unsubscribe", tokens, topic)
}

func (p *WebhookAdapter) topicAction(ctx context.Context, action string, tokens []string, topic string) (*TopicResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	if _, err := p.post(ctx, webhookTopicRequest{Action: action, Topic: topic, Tokens: tokens}); err != nil {
		return nil, err
	}
	return &TopicResult{SuccessCount: len(tokens)}, nil
}

func (p *WebhookAdapter) post(ctx context.Context, body any) (*ProviderResponse, error) {
	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(p.endpoint)
	if err != nil {
		return nil, requestError(WebhookProviderName, err)
	}
	if response == nil {
		return nil, &ProviderError{
			Provider:  WebhookProviderName,
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  webhookMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		Provider:    WebhookProviderName,
		StatusCode:  statusCode,
		Message:     webhookErrorMessage(statusCode, responseBody),
		Transient:   isTransientHTTPStatus(statusCode),
		RateLimited: statusCode == http.StatusTooManyRequests,
	}
}

func webhookErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func webhookMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
