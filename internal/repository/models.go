package repository

import (
	"time"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
)

// DeliveryLogModel is the persistence model for the delivery_logs table.
type DeliveryLogModel struct {
	ID                string                `gorm:"type:uuid;primaryKey"`
	TenantID          string                `gorm:"type:varchar(64);not null"`
	Channel           domain.Channel        `gorm:"type:varchar(10);not null"`
	Destination       string                `gorm:"type:varchar(512);not null"`
	Subject           string                `gorm:"type:varchar(998);not null"`
	Body              string                `gorm:"type:text;not null"`
	HTMLBody          string                `gorm:"type:text;not null"`
	Data              map[string]string     `gorm:"type:jsonb;serializer:json"`
	Priority          domain.Priority       `gorm:"type:varchar(10);not null"`
	Status            domain.DeliveryStatus `gorm:"type:varchar(10);not null"`
	Provider          string                `gorm:"type:varchar(32);not null"`
	ProviderMessageID *string               `gorm:"type:varchar(255)"`
	ErrorDetail       *string               `gorm:"type:text"`
	AttemptCount      int                   `gorm:"not null"`
	NextRetryAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (DeliveryLogModel) TableName() string {
	return "delivery_logs"
}

// PushNotificationModel is the persistence model for push_notifications.
type PushNotificationModel struct {
	ID        string          `gorm:"type:uuid;primaryKey"`
	TenantID  string          `gorm:"type:varchar(64);not null"`
	UserID    string          `gorm:"type:uuid;not null"`
	Title     string          `gorm:"type:varchar(255);not null"`
	Message   string          `gorm:"type:text;not null"`
	IsRead    bool            `gorm:"not null"`
	Priority  domain.Priority `gorm:"type:varchar(10);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PushNotificationModel) TableName() string {
	return "push_notifications"
}

// UserModel is the persistence model for users.
type UserModel struct {
	ID          string  `gorm:"type:uuid;primaryKey"`
	TenantID    string  `gorm:"type:varchar(64);not null"`
	Username    string  `gorm:"type:varchar(64);not null"`
	DisplayName string  `gorm:"type:varchar(255);not null"`
	Email       string  `gorm:"type:varchar(320);not null"`
	Phone       *string `gorm:"type:varchar(32)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// DeviceTokenModel is the persistence model for device_tokens.
type DeviceTokenModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:varchar(64);not null"`
	UserID    string `gorm:"type:uuid;not null"`
	Token     string `gorm:"type:varchar(512);not null"`
	Platform  string `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time
}

func (DeviceTokenModel) TableName() string {
	return "device_tokens"
}

// CommentModel is the persistence model for comments.
type CommentModel struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TenantID   string `gorm:"type:varchar(64);not null"`
	ResourceID string `gorm:"type:varchar(255);not null"`
	AuthorID   string `gorm:"type:uuid;not null"`
	Content    string `gorm:"type:text;not null"`
	ReplyCount int    `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (CommentModel) TableName() string {
	return "comments"
}

// ReplyModel is the persistence model for replies.
type ReplyModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:varchar(64);not null"`
	CommentID string `gorm:"type:uuid;not null"`
	AuthorID  string `gorm:"type:uuid;not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (ReplyModel) TableName() string {
	return "replies"
}

// MentionModel is the persistence model for mentions.
type MentionModel struct {
	ID              string  `gorm:"type:uuid;primaryKey"`
	TenantID        string  `gorm:"type:varchar(64);not null"`
	CommentID       string  `gorm:"type:uuid;not null"`
	ReplyID         *string `gorm:"type:uuid"`
	MentionedUserID string  `gorm:"type:uuid;not null"`
	CreatedAt       time.Time
}

func (MentionModel) TableName() string {
	return "mentions"
}

func deliveryLogModelFromDomain(l *domain.DeliveryLog) *DeliveryLogModel {
	if l == nil {
		return nil
	}

	return &DeliveryLogModel{
		ID:                l.ID,
		TenantID:          l.TenantID,
		Channel:           l.Channel,
		Destination:       l.Destination,
		Subject:           l.Subject,
		Body:              l.Body,
		HTMLBody:          l.HTMLBody,
		Data:              l.Data,
		Priority:          l.Priority,
		Status:            l.Status,
		Provider:          l.Provider,
		ProviderMessageID: l.ProviderMessageID,
		ErrorDetail:       l.ErrorDetail,
		AttemptCount:      l.AttemptCount,
		NextRetryAt:       l.NextRetryAt,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}

func deliveryLogModelToDomain(m *DeliveryLogModel) *domain.DeliveryLog {
	if m == nil {
		return nil
	}

	return &domain.DeliveryLog{
		ID:                m.ID,
		TenantID:          m.TenantID,
		Channel:           m.Channel,
		Destination:       m.Destination,
		Subject:           m.Subject,
		Body:              m.Body,
		HTMLBody:          m.HTMLBody,
		Data:              m.Data,
		Priority:          m.Priority,
		Status:            m.Status,
		Provider:          m.Provider,
		ProviderMessageID: m.ProviderMessageID,
		ErrorDetail:       m.ErrorDetail,
		AttemptCount:      m.AttemptCount,
		NextRetryAt:       m.NextRetryAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func pushNotificationModelFromDomain(n *domain.PushNotification) *PushNotificationModel {
	if n == nil {
		return nil
	}

	return &PushNotificationModel{
		ID:        n.ID,
		TenantID:  n.TenantID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.IsRead,
		Priority:  n.Priority,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func pushNotificationModelToDomain(m *PushNotificationModel) *domain.PushNotification {
	if m == nil {
		return nil
	}

	return &domain.PushNotification{
		ID:        m.ID,
		TenantID:  m.TenantID,
		UserID:    m.UserID,
		Title:     m.Title,
		Message:   m.Message,
		IsRead:    m.IsRead,
		Priority:  m.Priority,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func userModelFromDomain(u *domain.User) *UserModel {
	if u == nil {
		return nil
	}

	return &UserModel{
		ID:          u.ID,
		TenantID:    u.TenantID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Phone:       u.Phone,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	return &domain.User{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Username:    m.Username,
		DisplayName: m.DisplayName,
		Email:       m.Email,
		Phone:       m.Phone,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func deviceTokenModelFromDomain(d *domain.DeviceToken) *DeviceTokenModel {
	if d == nil {
		return nil
	}

	return &DeviceTokenModel{
		ID:        d.ID,
		TenantID:  d.TenantID,
		UserID:    d.UserID,
		Token:     d.Token,
		Platform:  d.Platform,
		CreatedAt: d.CreatedAt,
	}
}

func deviceTokenModelToDomain(m *DeviceTokenModel) *domain.DeviceToken {
	if m == nil {
		return nil
	}

	return &domain.DeviceToken{
		ID:        m.ID,
		TenantID:  m.TenantID,
		UserID:    m.UserID,
		Token:     m.Token,
		Platform:  m.Platform,
		CreatedAt: m.CreatedAt,
	}
}

func commentModelFromDomain(c *domain.Comment) *CommentModel {
	if c == nil {
		return nil
	}

	return &CommentModel{
		ID:         c.ID,
		TenantID:   c.TenantID,
		ResourceID: c.ResourceID,
		AuthorID:   c.AuthorID,
		Content:    c.Content,
		ReplyCount: c.ReplyCount,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func commentModelToDomain(m *CommentModel) *domain.Comment {
	if m == nil {
		return nil
	}

	return &domain.Comment{
		ID:         m.ID,
		TenantID:   m.TenantID,
		ResourceID: m.ResourceID,
		AuthorID:   m.AuthorID,
		Content:    m.Content,
		ReplyCount: m.ReplyCount,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func replyModelFromDomain(r *domain.Reply) *ReplyModel {
	if r == nil {
		return nil
	}

	return &ReplyModel{
		ID:        r.ID,
		TenantID:  r.TenantID,
		CommentID: r.CommentID,
		AuthorID:  r.AuthorID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}

func replyModelToDomain(m *ReplyModel) *domain.Reply {
	if m == nil {
		return nil
	}

	return &domain.Reply{
		ID:        m.ID,
		TenantID:  m.TenantID,
		CommentID: m.CommentID,
		AuthorID:  m.AuthorID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func mentionModelFromDomain(m *domain.Mention) *MentionModel {
	if m == nil {
		return nil
	}

	return &MentionModel{
		ID:              m.ID,
		TenantID:        m.TenantID,
		CommentID:       m.CommentID,
		ReplyID:         m.ReplyID,
		MentionedUserID: m.MentionedUserID,
		CreatedAt:       m.CreatedAt,
	}
}
