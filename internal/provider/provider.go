package provider

import (
	"context"
	"strings"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
)

const topicPrefix = "topic:"

// Content is the channel-neutral message handed to an adapter. Email uses
// Subject and Body (HTMLBody optional), SMS uses Body, push uses Subject as
// the title plus Body, Data and Priority.
type Content struct {
	Subject  string
	Body     string
	HTMLBody string
	Data     map[string]string
	Priority domain.Priority
}

// Adapter is the outbound delivery port for a single vendor on one channel.
// Implementations must be safe for concurrent use.
type Adapter interface {
	Name() string
	Channel() domain.Channel
	Send(ctx context.Context, destination string, content Content) (*ProviderResponse, error)
}

// PushAdapter extends Adapter with the multi-target operations push vendors offer.
type PushAdapter interface {
	Adapter
	SendMulticast(ctx context.Context, tokens []string, content Content) (*MulticastResult, error)
	SubscribeTopic(ctx context.Context, tokens []string, topic string) (*TopicResult, error)
	UnsubscribeTopic(ctx context.Context, tokens []string, topic string) (*TopicResult, error)
}

// ProviderResponse stores provider call metadata for audit and persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}

// TargetResult is the outcome for one token of a multicast send.
type TargetResult struct {
	Token     string
	Success   bool
	MessageID string
	Error     string
	// Transient marks a failure worth retrying later.
	Transient bool
}

// MulticastResult carries per-target outcomes in the order tokens were given.
// Partial failure is reported here, not as an error.
type MulticastResult struct {
	SuccessCount int
	FailureCount int
	Results      []TargetResult
}

type TopicError struct {
	Index  int
	Token  string
	Reason string
}

type TopicResult struct {
	SuccessCount int
	FailureCount int
	Errors       []TopicError
}

// TopicDestination encodes a push topic as a delivery destination so topic
// sends can be logged and retried like single-token sends.
func TopicDestination(topic string) string {
	return topicPrefix + strings.TrimSpace(topic)
}

// ParseTopicDestination reports whether destination addresses a topic.
func ParseTopicDestination(destination string) (string, bool) {
	if !strings.HasPrefix(destination, topicPrefix) {
		return "", false
	}
	topic := strings.TrimSpace(strings.TrimPrefix(destination, topicPrefix))
	return topic, topic != ""
}
