package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
)

// DeliveryEvent is published after every delivery log reconciliation.
type DeliveryEvent struct {
	LogID             string                `json:"logId"`
	TenantID          string                `json:"tenantId"`
	Channel           domain.Channel        `json:"channel"`
	Status            domain.DeliveryStatus `json:"status"`
	Provider          string                `json:"provider"`
	ProviderMessageID string                `json:"providerMessageId,omitempty"`
	Error             string                `json:"error,omitempty"`
	AttemptCount      int                   `json:"attemptCount"`
	OccurredAt        time.Time             `json:"occurredAt"`
}

func (e DeliveryEvent) Validate() error {
	if strings.TrimSpace(e.LogID) == "" {
		return fmt.Errorf("logId is required")
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if !e.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", e.Channel)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	return nil
}

// AlertMessage is the broker payload of a system alert.
type AlertMessage struct {
	TenantID string          `json:"tenantId"`
	UserIDs  []string        `json:"userIds"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Channels []string        `json:"channels,omitempty"`
	Priority domain.Priority `json:"priority,omitempty"`
}

func (m AlertMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if len(m.UserIDs) == 0 {
		return fmt.Errorf("at least one userId is required")
	}
	if strings.TrimSpace(m.Title) == "" && strings.TrimSpace(m.Message) == "" {
		return fmt.Errorf("title or message is required")
	}
	for _, raw := range m.Channels {
		if _, err := domain.ParseChannelFromString(raw); err != nil {
			return fmt.Errorf("invalid channel %q", raw)
		}
	}
	if m.Priority != "" && !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}
