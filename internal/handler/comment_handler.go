package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"github.com/kursadbilgin/comms-gateway/internal/service"
)

type CommentService interface {
	CreateComment(ctx context.Context, in service.CreateCommentInput) (*domain.Comment, error)
	CreateReply(ctx context.Context, in service.CreateReplyInput) (*domain.Reply, error)
	GetComment(ctx context.Context, tenantID string, id string) (*domain.Comment, error)
	ListComments(ctx context.Context, filter repository.CommentFilter) ([]domain.Comment, int64, error)
	ListReplies(ctx context.Context, tenantID string, commentID string) ([]domain.Reply, error)
	DeleteComment(ctx context.Context, tenantID string, id string) error
}

type CommentHandler struct {
	service CommentService
}

func NewCommentHandler(service CommentService) (*CommentHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("comment service is required")
	}
	return &CommentHandler{service: service}, nil
}

func RegisterCommentRoutes(router fiber.Router, service CommentService) error {
	h, err := NewCommentHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/comments", h.CreateComment)
	v1.Get("/comments", h.ListComments)
	v1.Get("/comments/:id", h.GetComment)
	v1.Delete("/comments/:id", h.DeleteComment)
	v1.Post("/comments/:id/replies", h.CreateReply)
	v1.Get("/comments/:id/replies", h.ListReplies)

	return nil
}

type createCommentRequest struct {
	ResourceID string `json:"resourceId"`
	AuthorID   string `json:"authorId"`
	Content    string `json:"content"`
}

type createReplyRequest struct {
	AuthorID string `json:"authorId"`
	Content  string `json:"content"`
}

type commentResponse struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resourceId"`
	AuthorID   string    `json:"authorId"`
	Content    string    `json:"content"`
	ReplyCount int       `json:"replyCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type replyResponse struct {
	ID        string    `json:"id"`
	CommentID string    `json:"commentId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *CommentHandler) CreateComment(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req createCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	comment, err := h.service.CreateComment(c.UserContext(), service.CreateCommentInput{
		TenantID:   tenantID,
		AuthorID:   callerID(c, req.AuthorID),
		ResourceID: strings.TrimSpace(req.ResourceID),
		Content:    req.Content,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toCommentResponse(comment))
}

func (h *CommentHandler) ListComments(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	page, pageSize, err := parsePaging(c)
	if err != nil {
		return toHTTPError(err)
	}

	comments, total, err := h.service.ListComments(c.UserContext(), repository.CommentFilter{
		TenantID:   tenantID,
		ResourceID: strings.TrimSpace(c.Query("resourceId")),
		Search:     c.Query("search"),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]commentResponse, 0, len(comments))
	for i := range comments {
		data = append(data, toCommentResponse(&comments[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listResponse[commentResponse]{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *CommentHandler) GetComment(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	comment, err := h.service.GetComment(c.UserContext(), tenantID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toCommentResponse(comment))
}

func (h *CommentHandler) DeleteComment(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	if err := h.service.DeleteComment(c.UserContext(), tenantID, strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CommentHandler) CreateReply(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req createReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	reply, err := h.service.CreateReply(c.UserContext(), service.CreateReplyInput{
		TenantID:  tenantID,
		CommentID: strings.TrimSpace(c.Params("id")),
		AuthorID:  callerID(c, req.AuthorID),
		Content:   req.Content,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toReplyResponse(reply))
}

func (h *CommentHandler) ListReplies(c *fiber.Ctx) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	replies, err := h.service.ListReplies(c.UserContext(), tenantID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]replyResponse, 0, len(replies))
	for i := range replies {
		data = append(data, toReplyResponse(&replies[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func toCommentResponse(c *domain.Comment) commentResponse {
	return commentResponse{
		ID:         c.ID,
		ResourceID: c.ResourceID,
		AuthorID:   c.AuthorID,
		Content:    c.Content,
		ReplyCount: c.ReplyCount,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func toReplyResponse(r *domain.Reply) replyResponse {
	return replyResponse{
		ID:        r.ID,
		CommentID: r.CommentID,
		AuthorID:  r.AuthorID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}
