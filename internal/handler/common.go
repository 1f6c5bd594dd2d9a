package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/transport"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type listResponse[T any] struct {
	Data []T      `json:"data"`
	Meta listMeta `json:"meta"`
}

func parsePaging(c *fiber.Ctx) (int, int, error) {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)

	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	return page, pageSize, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

// requireTenant returns the tenant authenticated for the request.
func requireTenant(c *fiber.Ctx) (string, error) {
	tenantID := strings.TrimSpace(transport.TenantID(c))
	if tenantID == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "tenant is not authenticated")
	}
	return tenantID, nil
}

// callerID picks the explicit user id when given, else the token subject.
func callerID(c *fiber.Ctx, explicit string) string {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(transport.UserID(c))
}

func toHTTPError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*fiber.Error); ok {
		return err
	}
	return fiber.NewError(transport.StatusFor(err), err.Error())
}

func invalidBody() error {
	return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
}
