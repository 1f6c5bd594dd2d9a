package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/provider"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"github.com/kursadbilgin/comms-gateway/internal/service"
	"github.com/kursadbilgin/comms-gateway/internal/transport"
)

// PushService covers the push operations that go beyond a single-target send.
type PushService interface {
	SendToTopic(ctx context.Context, tenantID string, topic string, content provider.Content, providerName string) (*service.SendResult, error)
	SendToUser(ctx context.Context, req service.UserPushRequest) (*service.UserPushResult, error)
	SubscribeTopic(ctx context.Context, req service.TopicRequest) (*provider.TopicResult, error)
	UnsubscribeTopic(ctx context.Context, req service.TopicRequest) (*provider.TopicResult, error)
	ListInbox(ctx context.Context, query repository.InboxQuery) ([]domain.PushNotification, int64, error)
	MarkRead(ctx context.Context, tenantID string, userID string, id string) error
	UnreadCount(ctx context.Context, tenantID string, userID string) (int64, error)
}

type PushHandler struct {
	service PushService
}

func NewPushHandler(service PushService) (*PushHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("push service is required")
	}
	return &PushHandler{service: service}, nil
}

// RegisterPushRoutes mounts the generic channel routes for push plus topic,
// per-user and inbox routes under /v1/push.
func RegisterPushRoutes(router fiber.Router, push PushService, dispatch ChannelService) error {
	h, err := NewPushHandler(push)
	if err != nil {
		return err
	}
	channel, err := NewChannelHandler(dispatch)
	if err != nil {
		return err
	}

	group := router.Group("/v1/push")
	channel.mount(group)

	group.Post("/send-to-topic", h.SendToTopic)
	group.Post("/send-to-user", h.SendToUser)
	group.Post("/topics/subscribe", h.Subscribe)
	group.Post("/topics/unsubscribe", h.Unsubscribe)
	group.Get("/notifications", h.ListNotifications)
	group.Get("/notifications/unread-count", h.UnreadCount)
	group.Post("/notifications/:id/read", h.MarkRead)

	return nil
}

type topicSendRequest struct {
	Topic    string            `json:"topic"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data"`
	Priority string            `json:"priority"`
	Provider string            `json:"provider"`
}

type userSendRequest struct {
	UserID   string            `json:"userId"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data"`
	Priority string            `json:"priority"`
	Provider string            `json:"provider"`
}

type topicRequest struct {
	Topic    string   `json:"topic"`
	Tokens   []string `json:"tokens"`
	Provider string   `json:"provider"`
}

type markReadRequest struct {
	UserID string `json:"userId"`
}

type pushNotificationResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

type userSendResponse struct {
	Notification *pushNotificationResponse `json:"notification,omitempty"`
	Results      []sendResultResponse      `json:"results"`
	Summary      summaryResponse           `json:"summary"`
}

type topicErrorResponse struct {
	Index  int    `json:"index"`
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

type topicResponse struct {
	Topic        string               `json:"topic"`
	SuccessCount int                  `json:"successCount"`
	FailureCount int                  `json:"failureCount"`
	Errors       []topicErrorResponse `json:"errors"`
}

func (h *PushHandler) SendToTopic(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req topicSendRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	content, err := toContent(req.Title, req.Body, "", req.Data, req.Priority)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.service.SendToTopic(c.UserContext(), tenantID, req.Topic, content, strings.TrimSpace(req.Provider))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSendResultResponse(*result))
}

func (h *PushHandler) SendToUser(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req userSendRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	content, err := toContent(req.Title, req.Body, "", req.Data, req.Priority)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.service.SendToUser(c.UserContext(), service.UserPushRequest{
		TenantID: tenantID,
		UserID:   strings.TrimSpace(req.UserID),
		Content:  content,
		Provider: strings.TrimSpace(req.Provider),
	})
	if err != nil && (result == nil || result.Notification == nil) {
		return toHTTPError(err)
	}

	// A whole-call vendor failure still reports the recorded per-device logs.
	status := fiber.StatusOK
	if err != nil {
		status = transport.StatusFor(err)
	}

	bulk := toBulkResponse(result.Results, result.Summary)
	resp := userSendResponse{Results: bulk.Results, Summary: bulk.Summary}
	if result.Notification != nil {
		n := toPushNotificationResponse(result.Notification)
		resp.Notification = &n
	}

	return c.Status(status).JSON(resp)
}

func (h *PushHandler) Subscribe(c *fiber.Ctx) error {
	return h.topicMembership(c, h.service.SubscribeTopic)
}

func (h *PushHandler) Unsubscribe(c *fiber.Ctx) error {
	return h.topicMembership(c, h.service.UnsubscribeTopic)
}

func (h *PushHandler) topicMembership(c *fiber.Ctx, op func(context.Context, service.TopicRequest) (*provider.TopicResult, error)) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req topicRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	result, err := op(c.UserContext(), service.TopicRequest{
		TenantID: tenantID,
		Topic:    req.Topic,
		Tokens:   req.Tokens,
		Provider: strings.TrimSpace(req.Provider),
	})
	if err != nil {
		return toHTTPError(err)
	}

	errs := make([]topicErrorResponse, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, topicErrorResponse{Index: e.Index, Token: e.Token, Reason: e.Reason})
	}

	return c.Status(fiber.StatusOK).JSON(topicResponse{
		Topic:        strings.TrimSpace(req.Topic),
		SuccessCount: result.SuccessCount,
		FailureCount: result.FailureCount,
		Errors:       errs,
	})
}

func (h *PushHandler) ListNotifications(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	page, pageSize, err := parsePaging(c)
	if err != nil {
		return toHTTPError(err)
	}

	query := repository.InboxQuery{
		TenantID:   tenantID,
		UserID:     callerID(c, c.Query("userId")),
		UnreadOnly: c.QueryBool("unreadOnly", false),
		Page:       page,
		PageSize:   pageSize,
	}

	items, total, err := h.service.ListInbox(c.UserContext(), query)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]pushNotificationResponse, 0, len(items))
	for i := range items {
		data = append(data, toPushNotificationResponse(&items[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listResponse[pushNotificationResponse]{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *PushHandler) UnreadCount(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	userID := callerID(c, c.Query("userId"))
	if userID == "" {
		return toHTTPError(fmt.Errorf("%w: userId is required", domain.ErrValidation))
	}

	count, err := h.service.UnreadCount(c.UserContext(), tenantID, userID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"userId": userID, "unread": count})
}

func (h *PushHandler) MarkRead(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req markReadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody()
		}
	}

	userID := callerID(c, req.UserID)
	if userID == "" {
		return toHTTPError(fmt.Errorf("%w: userId is required", domain.ErrValidation))
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.MarkRead(c.UserContext(), tenantID, userID, id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"id": id, "isRead": true})
}

func toPushNotificationResponse(n *domain.PushNotification) pushNotificationResponse {
	return pushNotificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.IsRead,
		Priority:  n.Priority.String(),
		CreatedAt: n.CreatedAt,
	}
}
