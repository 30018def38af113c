package inventory

import (
	"net/http"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/pkg/utils"

	"github.com/labstack/echo/v4"
)

// Handler handles HTTP requests for machine slots.
type Handler struct {
	svc ServiceInterface
}

func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListSlots(c echo.Context) error {
	slots, total, err := h.svc.ListSlots(c.Request().Context(), c.Param("machineId"), utils.GetListParams(c))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, models.Page[models.InventorySlot]{Items: slots, Total: total})
}

func (h *Handler) CreateSlot(c echo.Context) error {
	var req models.CreateSlotRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	slot, err := h.svc.CreateSlot(c.Request().Context(), c.Param("machineId"), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusCreated, slot)
}

func (h *Handler) GetSlot(c echo.Context) error {
	slot, err := h.svc.GetSlot(c.Request().Context(), c.Param("slotId"))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, slot)
}

func (h *Handler) AdjustSlot(c echo.Context) error {
	var req models.AdjustSlotRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	slot, err := h.svc.AdjustSlot(c.Request().Context(), c.Param("slotId"), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, slot)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	if err := h.svc.DeleteSlot(c.Request().Context(), c.Param("slotId")); err != nil {
		return utils.HandleServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
