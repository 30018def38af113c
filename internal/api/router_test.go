package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routeSet(e *echo.Echo) map[string]bool {
	set := make(map[string]bool)
	for _, r := range e.Routes() {
		set[r.Method+" "+r.Path] = true
	}
	return set
}

func TestSetupRoutesVisitsHaveOneCreateRoute(t *testing.T) {
	e := echo.New()
	SetupRoutes(e, Handlers{}, "secret", "hash")

	var creates []string
	for _, r := range e.Routes() {
		if r.Method == http.MethodPost && strings.Contains(r.Path, "visits") {
			creates = append(creates, r.Path)
		}
	}
	require.Len(t, creates, 1)
	assert.Equal(t, "/api/v1/machines/:machineId/visits", creates[0])

	routes := routeSet(e)
	assert.True(t, routes["GET /api/v1/machines/:machineId/visits"])
	assert.True(t, routes["DELETE /api/v1/visits/:visitId"])
}

func TestSetupRoutesDeviceBridge(t *testing.T) {
	e := echo.New()
	SetupRoutes(e, Handlers{}, "secret", "hash")

	routes := routeSet(e)
	for _, path := range []string{
		"/api/v1/mqtt-handlers/test",
		"/api/v1/mqtt-handlers/machine/register/req",
		"/api/v1/mqtt-handlers/machine/connection",
		"/api/v1/mqtt-handlers/machine/status",
		"/api/v1/mqtt-handlers/order/event",
	} {
		assert.True(t, routes["POST "+path], path)
	}
}
