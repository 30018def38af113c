package logistics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"
	"medicine-dispatch/pkg/utils"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxReadMessage = 512
	clientBuffer   = 16
)

// ------------------- Repository Layer -------------------

// StatisticsReader lists telemetry stored for a machine.
type StatisticsReader interface {
	ListStatistics(ctx context.Context, machineID string, p models.ListParams) ([]models.MachineStatistic, int, error)
}

// OrderReader looks an order up by id.
type OrderReader interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
}

// ------------------- Service Layer -------------------

// TrackingServiceInterface defines telemetry queries and live order tracking.
type TrackingServiceInterface interface {
	ListStatistics(ctx context.Context, machineID string, p models.ListParams) ([]models.MachineStatistic, int, error)
	// AuthorizeOrder returns the order if the user may follow it.
	AuthorizeOrder(ctx context.Context, orderID, userID, role string) (*models.Order, error)
	// Serve streams status changes of order to conn until either side closes.
	Serve(conn *websocket.Conn, order *models.Order)
}

// TrackingService implements TrackingServiceInterface. Websocket clients are
// grouped by the order they follow.
type TrackingService struct {
	stats  StatisticsReader
	orders OrderReader
	logger logrus.FieldLogger

	mu      sync.Mutex
	clients map[string]map[*trackingClient]struct{}
	closed  bool
}

type trackingClient struct {
	conn    *websocket.Conn
	send    chan models.TrackingMessage
	orderID string
}

// NewTrackingService creates a new service instance.
func NewTrackingService(stats StatisticsReader, orders OrderReader, logger logrus.FieldLogger) *TrackingService {
	return &TrackingService{
		stats:   stats,
		orders:  orders,
		logger:  logger,
		clients: make(map[string]map[*trackingClient]struct{}),
	}
}

func (s *TrackingService) ListStatistics(ctx context.Context, machineID string, p models.ListParams) ([]models.MachineStatistic, int, error) {
	stats, total, err := s.stats.ListStatistics(ctx, machineID, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListStatistics: %w", err)
	}
	return stats, total, nil
}

// AuthorizeOrder hides orders of other users behind ErrOrderNotFound. Admins
// may follow any order.
func (s *TrackingService) AuthorizeOrder(ctx context.Context, orderID, userID, role string) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service.AuthorizeOrder: %w", err)
	}
	if order.UserID != userID && role != models.RoleAdmin {
		return nil, fmt.Errorf("service.AuthorizeOrder: %w", models.ErrOrderNotFound)
	}
	return order, nil
}

// Serve registers the connection, pushes the current status and then every
// change until the peer disconnects or the service is closed.
func (s *TrackingService) Serve(conn *websocket.Conn, order *models.Order) {
	client := &trackingClient{
		conn:    conn,
		send:    make(chan models.TrackingMessage, clientBuffer),
		orderID: order.ID,
	}
	if !s.register(client, trackingMessage(*order, time.Now().UTC())) {
		conn.Close()
		return
	}

	go s.writePump(client)
	s.readPump(client)
}

// OnOrderStatusChanged is the hub subscriber that fans status changes out
// to the order's websocket clients.
func (s *TrackingService) OnOrderStatusChanged(_ context.Context, ev events.Event) error {
	changed, ok := ev.(events.OrderStatusChanged)
	if !ok {
		return nil
	}
	s.broadcast(trackingMessage(changed.Order, changed.ChangedAt))
	return nil
}

// Close disconnects every client. Later connections are refused.
func (s *TrackingService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for orderID, set := range s.clients {
		for c := range set {
			close(c.send)
		}
		delete(s.clients, orderID)
	}
}

// ClientCount returns the number of clients following orderID.
func (s *TrackingService) ClientCount(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients[orderID])
}

// register adds c with first already queued.
func (s *TrackingService) register(c *trackingClient, first models.TrackingMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	set, ok := s.clients[c.orderID]
	if !ok {
		set = make(map[*trackingClient]struct{})
		s.clients[c.orderID] = set
	}
	set[c] = struct{}{}
	c.send <- first
	s.logger.WithFields(logrus.Fields{"order_id": c.orderID, "client_count": len(set)}).Debug("tracking client connected")
	return true
}

func (s *TrackingService) unregister(c *trackingClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(c)
}

func (s *TrackingService) dropLocked(c *trackingClient) {
	set := s.clients[c.orderID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(s.clients, c.orderID)
	}
}

// broadcast never blocks: a client whose buffer is full is disconnected.
func (s *TrackingService) broadcast(msg models.TrackingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients[msg.OrderID] {
		select {
		case c.send <- msg:
		default:
			s.logger.WithField("order_id", msg.OrderID).Warn("tracking client too slow, disconnecting")
			s.dropLocked(c)
		}
	}
}

func (s *TrackingService) readPump(c *trackingClient) {
	defer func() {
		s.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WithField("order_id", c.orderID).WithError(err).Warn("tracking connection closed unexpectedly")
			}
			return
		}
	}
}

func (s *TrackingService) writePump(c *trackingClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func trackingMessage(o models.Order, at time.Time) models.TrackingMessage {
	return models.TrackingMessage{
		OrderID:   o.ID,
		Status:    o.Status,
		MachineID: o.MachineID,
		Timestamp: at,
	}
}

// ------------------- HTTP Handlers -------------------

// upgrader is used to upgrade HTTP connections to WebSocket connections.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ListStatistics handles GET /machines/:machineId/statistics requests.
func (h *Handler) ListStatistics(c echo.Context) error {
	stats, total, err := h.tracking.ListStatistics(c.Request().Context(), c.Param("machineId"), utils.GetListParams(c))
	if err != nil {
		return utils.HandleServiceError(c, err)
	}
	return utils.RespondWithJSON(c, http.StatusOK, models.Page[models.MachineStatistic]{Items: stats, Total: total})
}

// HandleTracking upgrades the connection to a WebSocket and streams the
// status of the order.
func (h *Handler) HandleTracking(c echo.Context) error {
	userID, role, err := utils.ExtractUserInfo(c)
	if err != nil {
		return err
	}
	order, err := h.tracking.AuthorizeOrder(c.Request().Context(), c.Param("orderId"), userID, role)
	if err != nil {
		return utils.HandleServiceError(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already answered the request.
		utils.LoggerFrom(c).WithError(err).Warn("websocket upgrade failed")
		return nil
	}
	h.tracking.Serve(conn, order)
	return nil
}
