package pickuppoints

import (
	"net/http"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/pkg/utils"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc ServiceInterface
}

func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreatePickupPoint(c echo.Context) error {
	var req models.CreatePickupPointRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	p, err := h.svc.CreatePickupPoint(c.Request().Context(), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusCreated, p)
}

func (h *Handler) GetPickupPoint(c echo.Context) error {
	p, err := h.svc.GetPickupPoint(c.Request().Context(), c.Param("pointId"))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, p)
}

func (h *Handler) ListPickupPoints(c echo.Context) error {
	items, total, err := h.svc.ListPickupPoints(c.Request().Context(), utils.GetListParams(c))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, models.Page[models.PickupPoint]{Items: items, Total: total})
}

func (h *Handler) DeletePickupPoint(c echo.Context) error {
	if err := h.svc.DeletePickupPoint(c.Request().Context(), c.Param("pointId")); err != nil {
		return utils.HandleServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateVisit handles POST /machines/:machineId/visits.
func (h *Handler) CreateVisit(c echo.Context) error {
	var req models.CreateVisitRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	req.MachineID = c.Param("machineId")
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	v, err := h.svc.CreateVisit(c.Request().Context(), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusCreated, v)
}

func (h *Handler) ListMachineVisits(c echo.Context) error {
	items, total, err := h.svc.ListMachineVisits(c.Request().Context(), c.Param("machineId"), utils.GetListParams(c))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, models.Page[models.PickupPointVisit]{Items: items, Total: total})
}

func (h *Handler) DeleteVisit(c echo.Context) error {
	if err := h.svc.DeleteVisit(c.Request().Context(), c.Param("visitId")); err != nil {
		return utils.HandleServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
