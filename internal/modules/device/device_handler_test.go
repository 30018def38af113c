package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"medicine-dispatch/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelopeRecorder struct {
	envs []models.Envelope
	err  error
}

func (r *envelopeRecorder) Handle(_ context.Context, env models.Envelope) error {
	r.envs = append(r.envs, env)
	return r.err
}

func postEnvelope(t *testing.T, gw EnvelopeHandler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	RegisterRoutes(e.Group("/mqtt-handlers"), NewHandler(gw))

	req := httptest.NewRequest(http.MethodPost, "/mqtt-handlers"+path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBridgeForwardsEnvelope(t *testing.T) {
	gw := &envelopeRecorder{}
	body := `{"topic":"machine/` + testMAC + `/orders/o-1/event","qos":1,"timestamp":1700000000.5,"msg_timestamp":12,"payload":{"status":"success"}}`

	rec := postEnvelope(t, gw, "/order/event", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, gw.envs, 1)
	assert.Equal(t, "machine/"+testMAC+"/orders/o-1/event", gw.envs[0].Topic)
	assert.Equal(t, byte(1), gw.envs[0].QoS)
	assert.JSONEq(t, `{"status":"success"}`, string(gw.envs[0].Payload))
}

func TestBridgeRejectsTopicOfAnotherEndpoint(t *testing.T) {
	gw := &envelopeRecorder{}
	body := `{"topic":"machine/` + testMAC + `/connection","payload":{"is_online":true}}`

	rec := postEnvelope(t, gw, "/machine/status", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, gw.envs)
}

func TestBridgeRejectsUnknownTopic(t *testing.T) {
	gw := &envelopeRecorder{}

	rec := postEnvelope(t, gw, "/machine/connection", `{"topic":"fleet/everything","payload":{}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation")
	assert.Empty(t, gw.envs)
}

func TestBridgeMapsGatewayErrors(t *testing.T) {
	gw := &envelopeRecorder{err: models.ErrMachineNotFound}
	body := `{"topic":"machine/` + testMAC + `/connection","payload":{"is_online":false}}`

	rec := postEnvelope(t, gw, "/machine/connection", body)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, gw.envs, 1)
}

func TestBridgeTestEndpoint(t *testing.T) {
	rec := postEnvelope(t, &envelopeRecorder{}, "/test", `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Test success")
}
