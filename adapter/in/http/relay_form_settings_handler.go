package http

import (
	"strconv"
	"strings"

	"formrelay/core/domain"
	"formrelay/core/port/in"
	"formrelay/core/port/out"
	"formrelay/infra/middleware"
	"formrelay/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

// FormSettingsHandler serves the admin API for per-form settings.
type FormSettingsHandler struct {
	settings  in.FormSettingsUseCase
	archive   out.DeliveryArchive
	blacklist *middleware.TokenBlacklist
}

// NewFormSettingsHandler creates the admin handler. archive and blacklist may be nil.
func NewFormSettingsHandler(settings in.FormSettingsUseCase, archive out.DeliveryArchive, blacklist *middleware.TokenBlacklist) *FormSettingsHandler {
	return &FormSettingsHandler{
		settings:  settings,
		archive:   archive,
		blacklist: blacklist,
	}
}

// Register registers admin routes behind auth.
func (h *FormSettingsHandler) Register(router fiber.Router, auth fiber.Handler) {
	forms := router.Group("/forms", auth)
	forms.Get("/excluded", h.ListExcluded)
	forms.Get("/settings", h.GetMany)
	forms.Get("/:id/settings", h.Get)
	forms.Put("/:id/settings", h.Save)
	forms.Delete("/:id/settings", h.Delete)
	forms.Get("/:id/deliveries", h.ListDeliveries)

	router.Group("/auth", auth).Delete("/token", h.RevokeToken)
}

type saveSettingsRequest struct {
	Excluded  bool                `json:"excluded"`
	ManualMap domain.ManualMap    `json:"manual_map"`
	Ruleset   *domain.RulesetSpec `json:"ruleset"`
}

func (h *FormSettingsHandler) Get(c *fiber.Ctx) error {
	formID, err := formIDParam(c)
	if err != nil {
		return err
	}

	settings, err := h.settings.GetSettings(c.UserContext(), formID)
	if err != nil {
		return err
	}
	return c.JSON(settings)
}

func (h *FormSettingsHandler) GetMany(c *fiber.Ctx) error {
	ids, err := parseIDList(c.Query("ids"))
	if err != nil {
		return err
	}

	list, err := h.settings.GetSettingsMany(c.UserContext(), ids)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"settings": list,
		"total":    len(list),
	})
}

func (h *FormSettingsHandler) Save(c *fiber.Ctx) error {
	formID, err := formIDParam(c)
	if err != nil {
		return err
	}

	var req saveSettingsRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return apperr.BadRequest("invalid settings body")
	}

	saved, err := h.settings.SaveSettings(c.UserContext(), &domain.FormSettings{
		FormID:    formID,
		Excluded:  req.Excluded,
		ManualMap: req.ManualMap,
		Ruleset:   req.Ruleset,
	})
	if err != nil {
		return err
	}
	return c.JSON(saved)
}

func (h *FormSettingsHandler) Delete(c *fiber.Ctx) error {
	formID, err := formIDParam(c)
	if err != nil {
		return err
	}

	if err := h.settings.DeleteSettings(c.UserContext(), formID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *FormSettingsHandler) ListExcluded(c *fiber.Ctx) error {
	ids, err := h.settings.ExcludedFormIDs(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"form_ids": ids})
}

func (h *FormSettingsHandler) ListDeliveries(c *fiber.Ctx) error {
	if h.archive == nil {
		return apperr.Unavailable("delivery archive", nil)
	}
	formID, err := formIDParam(c)
	if err != nil {
		return err
	}

	records, err := h.archive.ListByForm(c.UserContext(), formID, c.QueryInt("limit", 50))
	if err != nil {
		return apperr.DatabaseError("list deliveries", err)
	}
	return c.JSON(fiber.Map{
		"deliveries": records,
		"total":      len(records),
	})
}

func (h *FormSettingsHandler) RevokeToken(c *fiber.Ctx) error {
	if h.blacklist == nil {
		return apperr.Unavailable("token blacklist", nil)
	}
	if err := middleware.RevokeCurrentToken(c, h.blacklist); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func formIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("id", "must be a positive integer")
	}
	return id, nil
}

// parseIDList parses "1,2,3". Blank entries are skipped.
func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, apperr.InvalidInput("ids", "must be a comma separated list of positive integers")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
