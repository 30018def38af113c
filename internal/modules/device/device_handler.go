package device

import (
	"context"
	"net/http"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/pkg/utils"

	"github.com/labstack/echo/v4"
)

// EnvelopeHandler applies an inbound device message.
type EnvelopeHandler interface {
	Handle(ctx context.Context, env models.Envelope) error
}

// Handler is the HTTP bridge: an external MQTT client forwards device
// messages as posted envelopes.
type Handler struct {
	gw EnvelopeHandler
}

func NewHandler(gw EnvelopeHandler) *Handler {
	return &Handler{gw: gw}
}

func (h *Handler) Test(c echo.Context) error {
	return utils.RespondWithJSON(c, http.StatusOK, map[string]string{"message": "Test success"})
}

func (h *Handler) RegistrationRequest(c echo.Context) error {
	return h.forward(c, KindRegisterRequest)
}

func (h *Handler) Connection(c echo.Context) error {
	return h.forward(c, KindConnection)
}

func (h *Handler) Status(c echo.Context) error {
	return h.forward(c, KindStatus)
}

func (h *Handler) OrderEvent(c echo.Context) error {
	return h.forward(c, KindOrderEvent)
}

// forward rejects envelopes whose topic does not belong to the endpoint.
func (h *Handler) forward(c echo.Context, want TopicKind) error {
	var env models.Envelope
	if err := c.Bind(&env); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := utils.GetValidator().Validate(env); err != nil {
		return utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	}
	topic, err := ParseTopic(env.Topic)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	if topic.Kind != want {
		return utils.RespondWithError(c, http.StatusBadRequest, "topic "+env.Topic+" does not match endpoint "+want.String())
	}

	if err := h.gw.Handle(c.Request().Context(), env); err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, map[string]string{"message": "success"})
}

// RegisterRoutes attaches the bridge endpoints; g must already require the API key.
func RegisterRoutes(g *echo.Group, h *Handler) {
	g.POST("/test", h.Test)
	g.POST("/machine/register/req", h.RegistrationRequest)
	g.POST("/machine/connection", h.Connection)
	g.POST("/machine/status", h.Status)
	g.POST("/order/event", h.OrderEvent)
}
