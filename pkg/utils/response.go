package utils

import "github.com/gofiber/fiber/v2"

// envelope is the uniform success body. Data is always present, even when
// null or empty, so clients can destructure it unconditionally. Pagination
// only appears on list responses.
type envelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Pagination *pageMeta   `json:"pagination,omitempty"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type pageMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

func Success(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(envelope{
		Success: true,
		Data:    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(errorEnvelope{
		Success: false,
		Error:   message,
	})
}

// Paginated wraps a page of results with its position in the full set.
func Paginated(c *fiber.Ctx, data interface{}, page, limit int, total int64) error {
	meta := &pageMeta{
		Page:  page,
		Limit: limit,
		Total: total,
	}
	if limit > 0 {
		meta.TotalPages = int((total + int64(limit) - 1) / int64(limit))
	}

	return c.Status(fiber.StatusOK).JSON(envelope{
		Success:    true,
		Data:       data,
		Pagination: meta,
	})
}
