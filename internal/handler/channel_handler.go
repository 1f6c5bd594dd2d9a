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
)

const maxBulkItems = 1000

// ChannelService is the dispatch surface exposed for one channel.
type ChannelService interface {
	Channel() domain.Channel
	SendOne(ctx context.Context, req service.SendRequest) (*service.SendResult, error)
	SendBulk(ctx context.Context, req service.BulkRequest) (*service.BulkResult, error)
	RetryFailed(ctx context.Context, tenantID string, limit int) ([]service.SendResult, error)
	CleanupOld(ctx context.Context, tenantID string, daysOld int) (int64, error)
	ListLogs(ctx context.Context, filter repository.DeliveryLogFilter) ([]domain.DeliveryLog, int64, error)
	GetLog(ctx context.Context, tenantID string, id string) (*domain.DeliveryLog, error)
	DeleteLog(ctx context.Context, tenantID string, id string) error
	DeleteLogs(ctx context.Context, tenantID string, ids []string) (int64, error)
	StatusCounts(ctx context.Context, tenantID string) (map[domain.DeliveryStatus]int64, error)
	Providers() service.ProviderListing
}

type ChannelHandler struct {
	service ChannelService
}

func NewChannelHandler(service ChannelService) (*ChannelHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("channel service is required")
	}
	return &ChannelHandler{service: service}, nil
}

// RegisterChannelRoutes mounts the send, retry, log and retention routes of
// one channel under /v1<prefix>.
func RegisterChannelRoutes(router fiber.Router, prefix string, service ChannelService) error {
	h, err := NewChannelHandler(service)
	if err != nil {
		return err
	}

	group := router.Group("/v1" + prefix)
	h.mount(group)
	return nil
}

func (h *ChannelHandler) mount(group fiber.Router) {
	group.Post("/send", h.Send)
	group.Post("/send-bulk", h.SendBulk)
	group.Post("/retry-failed", h.RetryFailed)
	group.Get("/logs", h.ListLogs)
	group.Post("/logs/delete", h.DeleteLogs)
	group.Get("/logs/:id", h.GetLog)
	group.Delete("/logs/:id", h.DeleteLog)
	group.Get("/stats", h.Stats)
	group.Delete("/cleanup", h.Cleanup)
	group.Get("/providers", h.Providers)
}

type sendRequest struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	HTML     string            `json:"html"`
	Data     map[string]string `json:"data"`
	Priority string            `json:"priority"`
	Provider string            `json:"provider"`
}

type bulkItemRequest struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	HTML     string            `json:"html"`
	Data     map[string]string `json:"data"`
	Priority string            `json:"priority"`
}

type sendBulkRequest struct {
	Items    []bulkItemRequest `json:"items"`
	Provider string            `json:"provider"`
}

type deleteLogsRequest struct {
	IDs []string `json:"ids"`
}

type sendResultResponse struct {
	LogID             string `json:"logId,omitempty"`
	To                string `json:"to"`
	Provider          string `json:"provider,omitempty"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	Status            string `json:"status"`
	Error             string `json:"error,omitempty"`
}

type summaryResponse struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type bulkResponse struct {
	Results []sendResultResponse `json:"results"`
	Summary summaryResponse      `json:"summary"`
}

type deliveryLogResponse struct {
	ID                string    `json:"id"`
	Channel           string    `json:"channel"`
	To                string    `json:"to"`
	Subject           string    `json:"subject,omitempty"`
	Body              string    `json:"body"`
	Status            string    `json:"status"`
	Provider          string    `json:"provider"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	Error             *string   `json:"error,omitempty"`
	AttemptCount      int       `json:"attemptCount"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type statsResponse struct {
	Channel string `json:"channel"`
	Pending int64  `json:"pending"`
	Sent    int64  `json:"sent"`
	Failed  int64  `json:"failed"`
	Total   int64  `json:"total"`
}

type providersResponse struct {
	Channel   string   `json:"channel"`
	Default   string   `json:"default"`
	Supported []string `json:"supported"`
}

func (h *ChannelHandler) Send(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	content, err := toContent(req.Subject, req.Body, req.HTML, req.Data, req.Priority)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.service.SendOne(c.UserContext(), service.SendRequest{
		TenantID:    tenantID,
		Destination: strings.TrimSpace(req.To),
		Content:     content,
		Provider:    strings.TrimSpace(req.Provider),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSendResultResponse(*result))
}

func (h *ChannelHandler) SendBulk(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req sendBulkRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}
	if len(req.Items) == 0 {
		return toHTTPError(fmt.Errorf("%w: items is required", domain.ErrValidation))
	}
	if len(req.Items) > maxBulkItems {
		return toHTTPError(fmt.Errorf("%w: at most %d items per request", domain.ErrValidation, maxBulkItems))
	}

	items := make([]service.BulkItem, 0, len(req.Items))
	for i, item := range req.Items {
		content, err := toContent(item.Subject, item.Body, item.HTML, item.Data, item.Priority)
		if err != nil {
			return toHTTPError(fmt.Errorf("items[%d]: %w", i, err))
		}
		items = append(items, service.BulkItem{Destination: strings.TrimSpace(item.To), Content: content})
	}

	result, err := h.service.SendBulk(c.UserContext(), service.BulkRequest{
		TenantID: tenantID,
		Items:    items,
		Provider: strings.TrimSpace(req.Provider),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBulkResponse(result.Results, result.Summary))
}

func (h *ChannelHandler) RetryFailed(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return toHTTPError(fmt.Errorf("%w: limit must be >= 0", domain.ErrValidation))
	}

	results, err := h.service.RetryFailed(c.UserContext(), tenantID, limit)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBulkResponse(results, summarize(results)))
}

func (h *ChannelHandler) ListLogs(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	filter, err := parseLogFilter(c, tenantID)
	if err != nil {
		return toHTTPError(err)
	}

	logs, total, err := h.service.ListLogs(c.UserContext(), filter)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deliveryLogResponse, 0, len(logs))
	for i := range logs {
		data = append(data, toDeliveryLogResponse(&logs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listResponse[deliveryLogResponse]{
		Data: data,
		Meta: listMeta{Page: filter.Page, PageSize: filter.PageSize, Total: total},
	})
}

func (h *ChannelHandler) GetLog(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	log, err := h.service.GetLog(c.UserContext(), tenantID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryLogResponse(log))
}

func (h *ChannelHandler) DeleteLog(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	if err := h.service.DeleteLog(c.UserContext(), tenantID, strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChannelHandler) DeleteLogs(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req deleteLogsRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	deleted, err := h.service.DeleteLogs(c.UserContext(), tenantID, req.IDs)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"deleted": deleted})
}

func (h *ChannelHandler) Stats(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	counts, err := h.service.StatusCounts(c.UserContext(), tenantID)
	if err != nil {
		return toHTTPError(err)
	}

	resp := statsResponse{
		Channel: h.service.Channel().String(),
		Pending: counts[domain.DeliveryPending],
		Sent:    counts[domain.DeliverySent],
		Failed:  counts[domain.DeliveryFailed],
	}
	resp.Total = resp.Pending + resp.Sent + resp.Failed

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *ChannelHandler) Cleanup(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	daysOld := c.QueryInt("daysOld", 0)
	if daysOld < 0 {
		return toHTTPError(fmt.Errorf("%w: daysOld must be >= 0", domain.ErrValidation))
	}

	deleted, err := h.service.CleanupOld(c.UserContext(), tenantID, daysOld)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"deleted": deleted})
}

func (h *ChannelHandler) Providers(c *fiber.Ctx) error {
	listing := h.service.Providers()
	supported := listing.Supported
	if supported == nil {
		supported = []string{}
	}

	return c.Status(fiber.StatusOK).JSON(providersResponse{
		Channel:   listing.Channel.String(),
		Default:   listing.Default,
		Supported: supported,
	})
}

func parseLogFilter(c *fiber.Ctx, tenantID string) (repository.DeliveryLogFilter, error) {
	page, pageSize, err := parsePaging(c)
	if err != nil {
		return repository.DeliveryLogFilter{}, err
	}

	filter := repository.DeliveryLogFilter{
		TenantID:    tenantID,
		Destination: strings.TrimSpace(c.Query("destination")),
		Provider:    strings.ToLower(strings.TrimSpace(c.Query("provider"))),
		Page:        page,
		PageSize:    pageSize,
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseDeliveryStatusFromString(rawStatus)
		if err != nil {
			return repository.DeliveryLogFilter{}, err
		}
		filter.Status = &status
	}

	if filter.From, err = parseRFC3339Query(c.Query("from"), "from"); err != nil {
		return repository.DeliveryLogFilter{}, err
	}
	if filter.To, err = parseRFC3339Query(c.Query("to"), "to"); err != nil {
		return repository.DeliveryLogFilter{}, err
	}

	return filter, nil
}

func toContent(subject string, body string, html string, data map[string]string, rawPriority string) (provider.Content, error) {
	priority, err := domain.ParsePriorityFromString(rawPriority)
	if err != nil {
		return provider.Content{}, err
	}

	return provider.Content{
		Subject:  strings.TrimSpace(subject),
		Body:     body,
		HTMLBody: html,
		Data:     data,
		Priority: priority,
	}, nil
}

func summarize(results []service.SendResult) service.Summary {
	summary := service.Summary{Total: len(results)}
	for _, r := range results {
		if r.Status == domain.DeliverySent {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	return summary
}

func toSendResultResponse(r service.SendResult) sendResultResponse {
	return sendResultResponse{
		LogID:             r.LogID,
		To:                r.Destination,
		Provider:          r.Provider,
		ProviderMessageID: r.ProviderMessageID,
		Status:            r.Status.String(),
		Error:             r.Error,
	}
}

func toBulkResponse(results []service.SendResult, summary service.Summary) bulkResponse {
	out := make([]sendResultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, toSendResultResponse(r))
	}

	return bulkResponse{
		Results: out,
		Summary: summaryResponse{
			Total:      summary.Total,
			Successful: summary.Successful,
			Failed:     summary.Failed,
		},
	}
}

func toDeliveryLogResponse(l *domain.DeliveryLog) deliveryLogResponse {
	if l == nil {
		return deliveryLogResponse{}
	}

	return deliveryLogResponse{
		ID:                l.ID,
		Channel:           l.Channel.String(),
		To:                l.Destination,
		Subject:           l.Subject,
		Body:              l.Body,
		Status:            l.Status.String(),
		Provider:          l.Provider,
		ProviderMessageID: l.ProviderMessageID,
		Error:             l.ErrorDetail,
		AttemptCount:      l.AttemptCount,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}
