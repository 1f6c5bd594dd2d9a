package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/observability"
	"github.com/kursadbilgin/comms-gateway/internal/provider"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"go.uber.org/zap"
)

type EventKind string

const (
	EventMention     EventKind = "mention"
	EventReply       EventKind = "reply"
	EventSystemAlert EventKind = "system_alert"
)

// Event is one logical notification addressed to a set of users.
type Event struct {
	Kind         EventKind
	TenantID     string
	RecipientIDs []string
	ActorID      string
	Title        string
	Message      string
	ResourceID   string
	Priority     domain.Priority
}

type ChannelResult struct {
	RecipientID string
	Channel     domain.Channel
	Success     bool
	LogIDs      []string
	Error       string
}

type NotifyResult struct {
	Summary Summary
	Results []ChannelResult
}

// DefaultNotifyChannels are used when Notify is called without channels.
var DefaultNotifyChannels = []domain.Channel{domain.ChannelEmail, domain.ChannelPush}

type singleSender interface {
	SendOne(ctx context.Context, req SendRequest) (*SendResult, error)
}

type userPusher interface {
	SendToUser(ctx context.Context, req UserPushRequest) (*UserPushResult, error)
}

// Notifier fans an event out to every recipient on every requested channel.
// Each recipient and channel pair succeeds or fails on its own.
type Notifier struct {
	users   repository.UserRepository
	email   singleSender
	sms     singleSender
	push    userPusher
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewNotifier(
	users repository.UserRepository,
	email singleSender,
	sms singleSender,
	push userPusher,
	logger *zap.Logger,
) (*Notifier, error) {
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if email == nil && sms == nil && push == nil {
		return nil, fmt.Errorf("at least one channel sender is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Notifier{
		users:  users,
		email:  email,
		sms:    sms,
		push:   push,
		logger: logger,
	}, nil
}

func (n *Notifier) SetMetrics(metrics *observability.Metrics) {
	if n == nil {
		return
	}
	n.metrics = metrics
}

// Notify delivers event on channels (DefaultNotifyChannels when empty). Only
// invalid input returns an error; delivery failures are reported per result.
func (n *Notifier) Notify(ctx context.Context, event Event, channels []domain.Channel) (*NotifyResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(event.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenantId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(event.Title) == "" && strings.TrimSpace(event.Message) == "" {
		return nil, fmt.Errorf("%w: title or message is required", domain.ErrValidation)
	}
	if len(channels) == 0 {
		channels = DefaultNotifyChannels
	}
	for _, ch := range channels {
		if !ch.IsValid() {
			return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, ch)
		}
	}
	if event.Priority == "" {
		event.Priority = domain.PriorityNormal
	}

	logger := observability.WithContextLogger(n.logger, ctx)
	result := &NotifyResult{}

	for _, recipientID := range dedupe(event.RecipientIDs) {
		user, err := n.users.GetByID(ctx, event.TenantID, recipientID)
		if err != nil {
			reason := "recipient lookup failed"
			if errors.Is(err, domain.ErrNotFound) {
				reason = "recipient not found"
			}
			logger.Warn("skipping notification recipient",
				zap.String("kind", string(event.Kind)),
				zap.String("recipientId", recipientID),
				zap.Error(err),
			)
			for _, ch := range channels {
				n.record(result, event.Kind, ChannelResult{RecipientID: recipientID, Channel: ch, Error: reason})
			}
			continue
		}

		for _, ch := range channels {
			channelResult := n.deliver(ctx, event, user, ch)
			if !channelResult.Success {
				logger.Warn("notification channel failed",
					zap.String("kind", string(event.Kind)),
					zap.String("recipientId", recipientID),
					zap.String("channel", ch.String()),
					zap.String("error", channelResult.Error),
				)
			}
			n.record(result, event.Kind, channelResult)
		}
	}

	return result, nil
}

func (n *Notifier) record(result *NotifyResult, kind EventKind, r ChannelResult) {
	result.Results = append(result.Results, r)
	result.Summary.Total++
	if r.Success {
		result.Summary.Successful++
	} else {
		result.Summary.Failed++
	}
	n.metrics.IncFanoutResult(string(kind), r.Channel.String(), r.Success)
}

func (n *Notifier) deliver(ctx context.Context, event Event, user *domain.User, channel domain.Channel) ChannelResult {
	out := ChannelResult{RecipientID: user.ID, Channel: channel}
	content := eventContent(event)

	switch channel {
	case domain.ChannelEmail:
		if n.email == nil {
			out.Error = "email channel is not configured"
			return out
		}
		return sendResult(ctx, out, n.email, SendRequest{TenantID: event.TenantID, Destination: user.Email, Content: content})

	case domain.ChannelSMS:
		if n.sms == nil {
			out.Error = "sms channel is not configured"
			return out
		}
		if user.Phone == nil || strings.TrimSpace(*user.Phone) == "" {
			out.Error = "recipient has no phone number"
			return out
		}
		content.Body = smsBody(content)
		return sendResult(ctx, out, n.sms, SendRequest{TenantID: event.TenantID, Destination: *user.Phone, Content: content})

	case domain.ChannelPush:
		if n.push == nil {
			out.Error = "push channel is not configured"
			return out
		}
		pushed, err := n.push.SendToUser(ctx, UserPushRequest{TenantID: event.TenantID, UserID: user.ID, Content: content})
		if pushed != nil {
			for _, r := range pushed.Results {
				if r.LogID != "" {
					out.LogIDs = append(out.LogIDs, r.LogID)
				}
			}
		}
		switch {
		case err != nil:
			out.Error = err.Error()
		case pushed.Summary.Total == 0:
			out.Error = "recipient has no registered devices"
		case pushed.Summary.Successful == 0:
			out.Error = "push failed on every device"
		default:
			out.Success = true
		}
		return out
	}

	out.Error = fmt.Sprintf("unsupported channel %q", channel)
	return out
}

func sendResult(ctx context.Context, out ChannelResult, sender singleSender, req SendRequest) ChannelResult {
	sent, err := sender.SendOne(ctx, req)
	if sent != nil && sent.LogID != "" {
		out.LogIDs = []string{sent.LogID}
	}
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Success = sent != nil && sent.Status == domain.DeliverySent
	if !out.Success && sent != nil {
		out.Error = sent.Error
	}
	return out
}

func eventContent(event Event) provider.Content {
	title := strings.TrimSpace(event.Title)
	if title == "" {
		title = defaultTitle(event.Kind)
	}
	body := strings.TrimSpace(event.Message)
	if body == "" {
		body = title
	}

	data := map[string]string{"kind": string(event.Kind)}
	if event.ResourceID != "" {
		data["resourceId"] = event.ResourceID
	}
	if event.ActorID != "" {
		data["actorId"] = event.ActorID
	}

	return provider.Content{
		Subject:  title,
		Body:     body,
		Data:     data,
		Priority: event.Priority,
	}
}

func defaultTitle(kind EventKind) string {
	switch kind {
	case EventMention:
		return "You were mentioned"
	case EventReply:
		return "New reply to your comment"
	default:
		return "System alert"
	}
}

func smsBody(content provider.Content) string {
	if content.Body == content.Subject {
		return content.Body
	}
	return content.Subject + ": " + content.Body
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
