package orders

import (
	"net/http"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/pkg/utils"

	"github.com/labstack/echo/v4"
)

// Handler handles HTTP requests for orders.
type Handler struct {
	svc ServiceInterface
}

// NewHandler creates a new order handler.
func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateOrder(c echo.Context) error {
	userID, _, err := utils.ExtractUserInfo(c)
	if err != nil {
		return err
	}

	var req models.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(req); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}

	order, err := h.svc.CreateOrder(c.Request().Context(), userID, req)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}

	return utils.RespondWithJSON(c, http.StatusCreated, order)
}

func (h *Handler) ListMyOrders(c echo.Context) error {
	userID, _, err := utils.ExtractUserInfo(c)
	if err != nil {
		return err
	}

	orders, total, err := h.svc.ListUserOrders(c.Request().Context(), userID, utils.GetListParams(c))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, models.Page[models.Order]{Items: orders, Total: total})
}

func (h *Handler) GetOrderDetails(c echo.Context) error {
	userID, role, err := utils.ExtractUserInfo(c)
	if err != nil {
		return err
	}

	order, err := h.svc.GetOrder(c.Request().Context(), c.Param("orderId"), userID, role)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, order)
}

func (h *Handler) CancelOrder(c echo.Context) error {
	userID, role, err := utils.ExtractUserInfo(c)
	if err != nil {
		return err
	}

	order, err := h.svc.CancelOrder(c.Request().Context(), c.Param("orderId"), userID, role)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, order)
}

// --- Admin handlers ---

func (h *Handler) ListAllOrders(c echo.Context) error {
	orders, total, err := h.svc.ListAllOrders(c.Request().Context(), utils.GetListParams(c))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, models.Page[models.Order]{Items: orders, Total: total})
}

// ReassignOrder handles POST /admin/orders/:orderId/reassign.
func (h *Handler) ReassignOrder(c echo.Context) error {
	order, err := h.svc.ReassignOrder(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, order)
}
