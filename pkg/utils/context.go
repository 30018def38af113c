package utils

import (
	"net/http"
	"strconv"

	"medicine-dispatch/internal/models"

	"github.com/labstack/echo/v4"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// ExtractUserInfo returns the user id and role set by the JWT middleware.
func ExtractUserInfo(c echo.Context) (string, string, error) {
	userID, ok := c.Get("userID").(string)
	if !ok || userID == "" {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized, "missing user in context")
	}
	role, _ := c.Get("userRole").(string)
	return userID, role, nil
}

// GetUserIDFromContext returns only the user id set by the JWT middleware.
func GetUserIDFromContext(c echo.Context) (string, error) {
	userID, _, err := ExtractUserInfo(c)
	return userID, err
}

// GetListParams reads offset, limit, order_by and desc from the query string.
// Bad numbers fall back to defaults and the limit is capped.
func GetListParams(c echo.Context) models.ListParams {
	p := models.ListParams{Limit: defaultLimit}

	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v >= 0 {
		p.Offset = v
	}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		p.Limit = min(v, maxLimit)
	}
	p.OrderBy = c.QueryParam("order_by")
	p.Desc, _ = strconv.ParseBool(c.QueryParam("desc"))
	return p
}
