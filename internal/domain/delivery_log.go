package domain

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// DeliveryStatus represents the lifecycle state of a single send attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPending, DeliverySent, DeliveryFailed:
		return true
	}
	return false
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Predecessors returns the statuses a log may move from to reach s.
// Sent is terminal, so it never appears in the result.
func (s DeliveryStatus) Predecessors() []DeliveryStatus {
	switch s {
	case DeliverySent, DeliveryFailed:
		return []DeliveryStatus{DeliveryPending}
	case DeliveryPending:
		return []DeliveryStatus{DeliveryFailed}
	}
	return nil
}

func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	for _, from := range next.Predecessors() {
		if from == s {
			return true
		}
	}
	return false
}

// IsRetentionEligible reports whether rows in this status may be purged by
// retention cleanup. Pending rows are never eligible.
func (s DeliveryStatus) IsRetentionEligible() bool {
	return s == DeliverySent || s == DeliveryFailed
}

// DeliveryLog records one send attempt through a provider adapter. It keeps
// the full message so a retry replays exactly what was first sent.
type DeliveryLog struct {
	ID                string
	TenantID          string
	Channel           Channel
	Destination       string
	Subject           string
	Body              string
	HTMLBody          string
	Data              map[string]string
	Priority          Priority
	Status            DeliveryStatus
	Provider          string
	ProviderMessageID *string
	ErrorDetail       *string
	AttemptCount      int
	// NextRetryAt is set on failed logs the retry sweeper should pick up
	// again. Nil means the failure is final.
	NextRetryAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (l *DeliveryLog) Validate() error {
	if strings.TrimSpace(l.TenantID) == "" {
		return fmt.Errorf("%w: tenantId is required", ErrValidation)
	}
	if !l.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, l.Channel)
	}
	if strings.TrimSpace(l.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if strings.TrimSpace(l.Provider) == "" {
		return fmt.Errorf("%w: provider is required", ErrValidation)
	}
	if !l.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, l.Status)
	}
	return nil
}

// Content limits per channel (in characters).
const (
	MaxSMSContent   = 1600
	MaxPushContent  = 4000
	MaxEmailContent = 100000
)

// ValidateContent checks the message body against the channel limits.
func ValidateContent(channel Channel, subject string, body string) error {
	if strings.TrimSpace(body) == "" && !(channel == ChannelPush && strings.TrimSpace(subject) != "") {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if channel == ChannelEmail && strings.TrimSpace(subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}

	contentLen := len([]rune(body))
	switch channel {
	case ChannelSMS:
		if contentLen > MaxSMSContent {
			return fmt.Errorf("%w: SMS content exceeds %d characters (got %d)", ErrValidation, MaxSMSContent, contentLen)
		}
	case ChannelPush:
		if contentLen > MaxPushContent {
			return fmt.Errorf("%w: push content exceeds %d characters (got %d)", ErrValidation, MaxPushContent, contentLen)
		}
	case ChannelEmail:
		if contentLen > MaxEmailContent {
			return fmt.Errorf("%w: email content exceeds %d characters (got %d)", ErrValidation, MaxEmailContent, contentLen)
		}
	default:
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, channel)
	}
	return nil
}

// ValidateDestination checks that destination is addressable on channel.
// Push destinations are opaque device tokens or "topic:<name>".
func ValidateDestination(channel Channel, destination string) error {
	trimmed := strings.TrimSpace(destination)
	if trimmed == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}

	switch channel {
	case ChannelEmail:
		if _, err := mail.ParseAddress(trimmed); err != nil {
			return fmt.Errorf("%w: invalid email address %q", ErrValidation, destination)
		}
	case ChannelSMS:
		if !phonePattern.MatchString(trimmed) {
			return fmt.Errorf("%w: invalid phone number %q", ErrValidation, destination)
		}
	case ChannelPush:
		if trimmed == "topic:" {
			return fmt.Errorf("%w: topic name is required", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, channel)
	}
	return nil
}
