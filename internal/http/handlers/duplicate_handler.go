package handlers

import (
	"errors"

	"gumroad/internal/domain"
	"gumroad/internal/log"
	"gumroad/internal/services"
	"gumroad/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type DuplicateHandler struct {
	Dup       *services.DuplicationService
	Presenter *ProductPresenter
}

// Create handles POST /products/:permalink/duplicate.
func (h *DuplicateHandler) Create(c *fiber.Ctx) error {
	permalink, ok := validate.Permalink(c.Params("permalink"))
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "permalink"})
		return c.SendStatus(fiber.StatusNotFound)
	}
	res, err := h.Dup.Begin(c.UserContext(), permalink, currentUser(c))
	if errors.Is(err, services.ErrNotFound) {
		log.Security(c, "product.duplicate.not_found", map[string]any{"permalink": permalink})
		return c.SendStatus(fiber.StatusNotFound)
	}
	if err != nil {
		return err
	}
	if !res.Started() {
		log.Info(c, "product.duplicate.rejected", map[string]any{"permalink": permalink, "reason": string(res.Reason)})
		return c.JSON(fiber.Map{"success": false, "error_message": res.Message})
	}
	log.Audit(c, "product.duplicate.start", map[string]any{"permalink": permalink, "job_id": res.Job.ID})
	return c.JSON(fiber.Map{"success": true})
}

// Show handles GET /products/:permalink/duplicate.
func (h *DuplicateHandler) Show(c *fiber.Ctx) error {
	permalink, ok := validate.Permalink(c.Params("permalink"))
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "permalink"})
		return c.SendStatus(fiber.StatusNotFound)
	}
	st, err := h.Dup.Status(c.UserContext(), permalink, currentUser(c))
	if errors.Is(err, services.ErrNotFound) {
		return c.SendStatus(fiber.StatusNotFound)
	}
	if err != nil {
		return err
	}

	switch st.Status {
	case domain.StatusDuplicating:
		return c.JSON(fiber.Map{
			"success":       false,
			"status":        st.Status,
			"error_message": services.DuplicationInProgressMessage,
		})
	case domain.StatusDuplicated:
		product, err := h.Presenter.Present(c.UserContext(), st.Product)
		if err != nil {
			return err
		}
		dup, err := h.Presenter.Present(c.UserContext(), *st.Duplicate)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"success":            true,
			"status":             st.Status,
			"product":            product,
			"duplicated_product": dup,
			"is_membership":      st.Product.IsMembership(),
		})
	default:
		if st.NeverStarted {
			log.Info(c, "product.duplicate.never_started", map[string]any{"permalink": permalink})
		}
		return c.JSON(fiber.Map{"success": false, "status": st.Status})
	}
}
