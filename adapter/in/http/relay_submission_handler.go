// Package http exposes the submission and admin APIs over fiber.
package http

import (
	"formrelay/core/domain"
	"formrelay/core/port/in"
	"formrelay/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

// SubmissionHandler receives form submissions from the collector.
type SubmissionHandler struct {
	submissions in.SubmissionUseCase
}

func NewSubmissionHandler(submissions in.SubmissionUseCase) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

func (h *SubmissionHandler) Register(router fiber.Router) {
	submissions := router.Group("/submissions")
	submissions.Post("/", h.Submit)
	submissions.Post("/preview", h.Preview)
}

// Submit classifies the submission and queues its delivery.
func (h *SubmissionHandler) Submit(c *fiber.Ctx) error {
	sub, signals, err := h.parse(c)
	if err != nil {
		return err
	}

	result, err := h.submissions.Process(c.UserContext(), sub, signals)
	if err != nil {
		return err
	}

	status := fiber.StatusAccepted
	if result.Excluded {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"excluded":    result.Excluded,
		"dispatched":  result.Dispatched,
		"delivery_id": result.DeliveryID,
		"payload":     result.Payload,
		"submission":  sub.Raw,
	})
}

// Preview returns the payload and the per-field explanation without delivery.
func (h *SubmissionHandler) Preview(c *fiber.Ctx) error {
	sub, signals, err := h.parse(c)
	if err != nil {
		return err
	}

	result, err := h.submissions.Preview(c.UserContext(), sub, signals)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *SubmissionHandler) parse(c *fiber.Ctx) (*domain.Submission, domain.TrackingSignals, error) {
	var raw map[string]any
	if err := json.Unmarshal(c.Body(), &raw); err != nil || raw == nil {
		return nil, domain.TrackingSignals{}, apperr.BadRequest("request body must be a JSON object")
	}

	override, _ := raw["tracking"].(map[string]any)
	return domain.SubmissionFromRecord(raw), CollectTracking(c, override), nil
}
