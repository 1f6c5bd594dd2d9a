package domain

import (
	"fmt"
	"strings"
	"time"
)

// Priority is the delivery priority of a push notification.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return PriorityNormal, nil
	}
	pr := Priority(trimmed)
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// PushNotification is the inbox record of push content delivered to a user.
type PushNotification struct {
	ID        string
	TenantID  string
	UserID    string
	Title     string
	Message   string
	IsRead    bool
	Priority  Priority
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (n *PushNotification) Validate() error {
	if strings.TrimSpace(n.TenantID) == "" {
		return fmt.Errorf("%w: tenantId is required", ErrValidation)
	}
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: title or message is required", ErrValidation)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	return nil
}
