// Package broker connects the backend to the MQTT broker the machines talk
// to. Inbound messages are wrapped in a models.Envelope before they reach a
// handler; outbound publishes go through a circuit breaker.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"medicine-dispatch/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrNotConnected is returned by Publish while the connection is down.
var ErrNotConnected = errors.New("mqtt client not connected")

// Config holds the broker connection parameters.
type Config struct {
	URL            string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	CircuitBreaker gobreaker.Settings
	// LaneKey groups inbound topics: messages with the same key reach the
	// handler one at a time in arrival order, different keys run in
	// parallel. Defaults to the topic itself.
	LaneKey func(topic string) string
}

// MessageHandler receives every inbound message.
type MessageHandler func(ctx context.Context, env models.Envelope) error

// Client wraps a paho client. Subscriptions are restored on every reconnect.
type Client struct {
	client  mqtt.Client
	breaker *gobreaker.CircuitBreaker
	cfg     Config
	logger  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	connectedAt time.Time
	filters     []string
	handler     MessageHandler

	laneMu  sync.Mutex
	lanes   map[string]*lane
	workers sync.WaitGroup
}

// lane is the backlog of one LaneKey. It exists while a worker drains it.
type lane struct {
	pending []models.Envelope
}

// New builds a client; nothing is dialled until Connect.
func New(cfg Config, logger logrus.FieldLogger) *Client {
	cfg = withDefaults(cfg)
	c := newClient(nil, cfg, logger)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetOnConnectHandler(func(mqtt.Client) { c.onConnect() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.WithError(err).Warn("mqtt connection lost")
		})
	c.client = mqtt.NewClient(opts)
	return c
}

func newClient(client mqtt.Client, cfg Config, logger logrus.FieldLogger) *Client {
	if cfg.LaneKey == nil {
		cfg.LaneKey = func(topic string) string { return topic }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(cfg.CircuitBreaker),
		cfg:     cfg,
		logger:  logger.WithField("component", "mqtt"),
		ctx:     ctx,
		cancel:  cancel,
		lanes:   make(map[string]*lane),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.ClientID == "" {
		cfg.ClientID = "medicine-dispatch"
	}
	// Brokers drop the older session when two clients share an id.
	cfg.ClientID += "-" + uuid.NewString()[:8]
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker = gobreaker.Settings{
			Name:        "mqtt_publish_breaker",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
		}
	}
	return cfg
}

// Connect dials the broker and waits up to ConnectTimeout for the first
// connection. Later drops are retried by paho in the background.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	if err := wait(ctx, token, c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("broker.Connect %s: %w", c.cfg.URL, err)
	}
	return nil
}

// Subscribe registers h for filters. It may be called before Connect.
func (c *Client) Subscribe(filters []string, h MessageHandler) {
	c.mu.Lock()
	c.filters = append(c.filters, filters...)
	c.handler = h
	connected := !c.connectedAt.IsZero()
	c.mu.Unlock()

	if connected {
		c.subscribe(filters)
	}
}

// Publish hands payload to the broker and waits for the acknowledgement
// required by the configured QoS. Nothing is retried.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := c.breaker.Execute(func() (any, error) {
		if !c.client.IsConnectionOpen() {
			return nil, ErrNotConnected
		}
		token := c.client.Publish(topic, c.cfg.QoS, false, payload)
		return nil, wait(ctx, token, c.cfg.PublishTimeout)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.WithField("topic", topic).Warn("mqtt publish rejected by open circuit breaker")
	}
	return err
}

// Close disconnects, stops message handling and waits for running handlers.
// Queued messages are dropped.
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.cancel()
	c.workers.Wait()
	c.logger.Info("mqtt client closed")
}

func (c *Client) onConnect() {
	c.mu.Lock()
	c.connectedAt = time.Now()
	filters := append([]string(nil), c.filters...)
	c.mu.Unlock()

	c.logger.WithField("broker", c.cfg.URL).Info("mqtt connected")
	if len(filters) > 0 {
		c.subscribe(filters)
	}
}

func (c *Client) subscribe(filters []string) {
	subs := make(map[string]byte, len(filters))
	for _, f := range filters {
		subs[f] = c.cfg.QoS
	}
	token := c.client.SubscribeMultiple(subs, func(_ mqtt.Client, msg mqtt.Message) {
		c.onMessage(msg)
	})
	go func() {
		if err := wait(c.ctx, token, c.cfg.ConnectTimeout); err != nil {
			c.logger.WithError(err).WithField("filters", filters).Error("mqtt subscribe failed")
			return
		}
		c.logger.WithField("filters", filters).Info("mqtt subscribed")
	}()
}

// onMessage runs on paho's router goroutine, which delivers in arrival
// order. It only queues the message: handlers publish and wait for acks,
// which would stall the router.
func (c *Client) onMessage(msg mqtt.Message) {
	if c.ctx.Err() != nil {
		return
	}
	env := c.envelope(msg, time.Now())
	key := c.cfg.LaneKey(env.Topic)

	c.laneMu.Lock()
	if l, ok := c.lanes[key]; ok {
		l.pending = append(l.pending, env)
		c.laneMu.Unlock()
		return
	}
	l := &lane{pending: []models.Envelope{env}}
	c.lanes[key] = l
	c.laneMu.Unlock()

	c.workers.Add(1)
	go c.drain(key, l)
}

// drain hands the lane's messages to the handler in order and removes the
// lane once it is empty.
func (c *Client) drain(key string, l *lane) {
	defer c.workers.Done()
	for {
		c.laneMu.Lock()
		if len(l.pending) == 0 || c.ctx.Err() != nil {
			delete(c.lanes, key)
			c.laneMu.Unlock()
			return
		}
		env := l.pending[0]
		l.pending = l.pending[1:]
		c.laneMu.Unlock()

		c.handle(env)
	}
}

func (c *Client) handle(env models.Envelope) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return
	}
	if err := h(c.ctx, env); err != nil {
		c.logger.WithField("topic", env.Topic).WithError(err).Warn("device message rejected")
	}
}

// envelope stamps msg with the receive time and the seconds elapsed since
// the current connection was established.
func (c *Client) envelope(msg mqtt.Message, now time.Time) models.Envelope {
	c.mu.Lock()
	since := c.connectedAt
	c.mu.Unlock()

	var elapsed float64
	if !since.IsZero() {
		elapsed = now.Sub(since).Seconds()
	}
	return models.Envelope{
		Topic:        msg.Topic(),
		QoS:          msg.Qos(),
		Timestamp:    float64(now.UnixNano()) / 1e9,
		MsgTimestamp: elapsed,
		Payload:      append([]byte(nil), msg.Payload()...),
	}
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timed out after %s", timeout)
	}
}
