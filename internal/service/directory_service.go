package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"go.uber.org/zap"
)

// DirectoryService manages the users notifications are addressed to and
// their push device registrations.
type DirectoryService struct {
	users   repository.UserRepository
	devices repository.DeviceTokenRepository
	logger  *zap.Logger
	now     func() time.Time
}

func NewDirectoryService(users repository.UserRepository, devices repository.DeviceTokenRepository, logger *zap.Logger) (*DirectoryService, error) {
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if devices == nil {
		return nil, fmt.Errorf("device token repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DirectoryService{users: users, devices: devices, logger: logger, now: time.Now}, nil
}

func (s *DirectoryService) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", domain.ErrValidation)
	}

	user.TenantID = strings.TrimSpace(user.TenantID)
	user.Username = strings.TrimSpace(user.Username)
	user.Email = strings.TrimSpace(user.Email)
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateDestination(domain.ChannelEmail, user.Email); err != nil {
		return nil, err
	}
	if user.Phone != nil {
		phone := strings.TrimSpace(*user.Phone)
		if phone == "" {
			user.Phone = nil
		} else if err := domain.ValidateDestination(domain.ChannelSMS, phone); err != nil {
			return nil, err
		} else {
			user.Phone = &phone
		}
	}

	now := s.now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *DirectoryService) GetUser(ctx context.Context, tenantID string, id string) (*domain.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return s.users.GetByID(ctx, tenantID, strings.TrimSpace(id))
}

// RegisterDevice binds a push token to an existing user. Registering a token
// again moves it to the new user.
func (s *DirectoryService) RegisterDevice(ctx context.Context, device *domain.DeviceToken) (*domain.DeviceToken, error) {
	if device == nil {
		return nil, fmt.Errorf("%w: device is required", domain.ErrValidation)
	}

	device.TenantID = strings.TrimSpace(device.TenantID)
	device.UserID = strings.TrimSpace(device.UserID)
	device.Token = strings.TrimSpace(device.Token)
	device.Platform = strings.ToLower(strings.TrimSpace(device.Platform))
	if err := device.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByID(ctx, device.TenantID, device.UserID); err != nil {
		return nil, err
	}

	device.ID = uuid.NewString()
	device.CreatedAt = s.now().UTC()
	if err := s.devices.Upsert(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	s.logger.Debug("device registered",
		zap.String("tenantId", device.TenantID),
		zap.String("userId", device.UserID),
		zap.String("platform", device.Platform),
	)
	return device, nil
}

func (s *DirectoryService) RemoveDevice(ctx context.Context, tenantID string, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: token is required", domain.ErrValidation)
	}
	return s.devices.Delete(ctx, tenantID, strings.TrimSpace(token))
}
