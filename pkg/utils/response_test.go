package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"medicine-dispatch/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{models.ErrMachineNotFound, http.StatusNotFound, CodeNotFound},
		{fmt.Errorf("service.GetOrder: %w", models.ErrOrderNotFound), http.StatusNotFound, CodeNotFound},
		{models.ErrDuplicateSlot, http.StatusConflict, CodeConflict},
		{models.ErrInsufficientStock, http.StatusConflict, CodeInsufficientStock},
		{models.ErrNoStopsInWindow, http.StatusUnprocessableEntity, CodeNoStopsInWindow},
		{models.ErrNoFeasibleRoute, http.StatusUnprocessableEntity, CodeNoFeasibleRoute},
		{models.ErrInvalidCoordinate, http.StatusBadRequest, CodeInvalidCoordinate},
		{models.ErrInvalidTimeWindow, http.StatusBadRequest, CodeInvalidTimeWindow},
		{models.ErrInvalidCount, http.StatusBadRequest, CodeValidation},
		{models.ErrTransportFailure, http.StatusBadGateway, CodeTransportFailure},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		status, code := MapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestHandleServiceErrorHidesInternalDetails(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, HandleServiceError(c, errors.New("pq: password authentication failed")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeInternal, body.Code)
	assert.NotContains(t, body.Message, "password")
}

func TestGetListParams(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?offset=5&limit=500&order_by=name&desc=true", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	p := GetListParams(c)
	assert.Equal(t, models.ListParams{Offset: 5, Limit: maxLimit, OrderBy: "name", Desc: true}, p)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=abc", nil), httptest.NewRecorder())
	assert.Equal(t, defaultLimit, GetListParams(c).Limit)
}
