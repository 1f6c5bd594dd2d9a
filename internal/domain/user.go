package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var usernamePattern = regexp.MustCompile(`^\w+$`)

// User is a directory entry that notifications can be addressed to.
type User struct {
	ID          string
	TenantID    string
	Username    string
	DisplayName string
	Email       string
	Phone       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	return u.Username
}

func (u *User) Validate() error {
	if strings.TrimSpace(u.TenantID) == "" {
		return fmt.Errorf("%w: tenantId is required", ErrValidation)
	}
	if !usernamePattern.MatchString(u.Username) {
		return fmt.Errorf("%w: username must contain only letters, digits and underscores", ErrValidation)
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	return nil
}

// DeviceToken binds a push registration token to a user.
type DeviceToken struct {
	ID        string
	TenantID  string
	UserID    string
	Token     string
	Platform  string
	CreatedAt time.Time
}

func (d *DeviceToken) Validate() error {
	if strings.TrimSpace(d.TenantID) == "" {
		return fmt.Errorf("%w: tenantId is required", ErrValidation)
	}
	if strings.TrimSpace(d.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if strings.TrimSpace(d.Token) == "" {
		return fmt.Errorf("%w: token is required", ErrValidation)
	}
	switch d.Platform {
	case "android", "ios", "web":
	default:
		return fmt.Errorf("%w: invalid platform %q", ErrValidation, d.Platform)
	}
	return nil
}
