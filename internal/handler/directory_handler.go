package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
)

type DirectoryService interface {
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	GetUser(ctx context.Context, tenantID string, id string) (*domain.User, error)
	RegisterDevice(ctx context.Context, device *domain.DeviceToken) (*domain.DeviceToken, error)
	RemoveDevice(ctx context.Context, tenantID string, token string) error
}

type DirectoryHandler struct {
	service DirectoryService
}

func NewDirectoryHandler(service DirectoryService) (*DirectoryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("directory service is required")
	}
	return &DirectoryHandler{service: service}, nil
}

func RegisterDirectoryRoutes(router fiber.Router, service DirectoryService) error {
	h, err := NewDirectoryHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/users", h.CreateUser)
	v1.Get("/users/:id", h.GetUser)
	v1.Post("/devices", h.RegisterDevice)
	v1.Delete("/devices/:token", h.RemoveDevice)

	return nil
}

type createUserRequest struct {
	Username    string  `json:"username"`
	DisplayName string  `json:"displayName"`
	Email       string  `json:"email"`
	Phone       *string `json:"phone"`
}

type registerDeviceRequest struct {
	UserID   string `json:"userId"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email"`
	Phone       *string   `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type deviceResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *DirectoryHandler) CreateUser(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req createUserRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	user, err := h.service.CreateUser(c.UserContext(), &domain.User{
		TenantID:    tenantID,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Phone:       req.Phone,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toUserResponse(user))
}

func (h *DirectoryHandler) GetUser(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	user, err := h.service.GetUser(c.UserContext(), tenantID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toUserResponse(user))
}

func (h *DirectoryHandler) RegisterDevice(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req registerDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	device, err := h.service.RegisterDevice(c.UserContext(), &domain.DeviceToken{
		TenantID: tenantID,
		UserID:   callerID(c, req.UserID),
		Token:    req.Token,
		Platform: req.Platform,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(deviceResponse{
		ID:        device.ID,
		UserID:    device.UserID,
		Token:     device.Token,
		Platform:  device.Platform,
		CreatedAt: device.CreatedAt,
	})
}

func (h *DirectoryHandler) RemoveDevice(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	if err := h.service.RemoveDevice(c.UserContext(), tenantID, strings.TrimSpace(c.Params("token"))); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Phone:       u.Phone,
		CreatedAt:   u.CreatedAt,
	}
}
