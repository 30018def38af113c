package medicines

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

func (h *Handler) CreateMedicine(c echo.Context) error {
	var req models.CreateMedicineRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	m, err := h.svc.CreateMedicine(c.Request().Context(), req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusCreated, m)
}

func (h *Handler) GetMedicine(c echo.Context) error {
	m, err := h.svc.GetMedicine(c.Request().Context(), c.Param("medicineId"))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, m)
}

func (h *Handler) ListMedicines(c echo.Context) error {
	items, total, err := h.svc.ListMedicines(c.Request().Context(), utils.GetListParams(c))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, models.Page[models.Medicine]{Items: items, Total: total})
}
