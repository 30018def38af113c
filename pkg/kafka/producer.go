// Package kafka streams order lifecycle changes to a Kafka topic for
// downstream consumers (billing, analytics).
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// OrderStatusMessage is the value written for every order status change.
// The message key is the order id so one order stays on one partition.
type OrderStatusMessage struct {
	EventType     string             `json:"event_type"`
	OrderID       string             `json:"order_id"`
	UserID        string             `json:"user_id"`
	MachineID     *string            `json:"machine_id,omitempty"`
	PickupPointID string             `json:"pickup_point_id"`
	Status        models.OrderStatus `json:"status"`
	Previous      models.OrderStatus `json:"previous,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Amount        float64            `json:"payment_amount"`
	Currency      string             `json:"payment_currency"`
	ChangedAt     time.Time          `json:"changed_at"`
	EventTime     time.Time          `json:"event_time"`
}

type Producer struct {
	producer sarama.SyncProducer
	topic    string
	breaker  *gobreaker.CircuitBreaker
	logger   logrus.FieldLogger
}

// NewProducer connects a synchronous producer to brokers.
func NewProducer(brokers []string, topic string, logger logrus.FieldLogger) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = "medicine-dispatch"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka.NewProducer: %w", err)
	}
	return newProducer(producer, topic, logger), nil
}

func newProducer(producer sarama.SyncProducer, topic string, logger logrus.FieldLogger) *Producer {
	return &Producer{
		producer: producer,
		topic:    topic,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "kafka_producer_breaker",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
		}),
		logger: logger.WithField("component", "kafka"),
	}
}

// HandleEvent is the hub subscriber for order status changes.
func (p *Producer) HandleEvent(ctx context.Context, ev events.Event) error {
	changed, ok := ev.(events.OrderStatusChanged)
	if !ok {
		return nil
	}
	return p.PublishOrderStatus(ctx, changed)
}

func (p *Producer) PublishOrderStatus(ctx context.Context, changed events.OrderStatusChanged) error {
	o := changed.Order
	data, err := json.Marshal(OrderStatusMessage{
		EventType:     changed.EventName(),
		OrderID:       o.ID,
		UserID:        o.UserID,
		MachineID:     o.MachineID,
		PickupPointID: o.PickupPointID,
		Status:        o.Status,
		Previous:      changed.Previous,
		Reason:        changed.Reason,
		Amount:        o.PaymentAmount,
		Currency:      o.PaymentCurrency,
		ChangedAt:     changed.ChangedAt,
		EventTime:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka.PublishOrderStatus: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(o.ID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(changed.EventName())},
		},
	}

	var partition int32
	var offset int64
	_, err = p.breaker.Execute(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var sendErr error
		partition, offset, sendErr = p.producer.SendMessage(msg)
		return nil, sendErr
	})
	if err != nil {
		log := p.logger.WithFields(logrus.Fields{"topic": p.topic, "order_id": o.ID})
		if errors.Is(err, gobreaker.ErrOpenState) {
			log.Warn("kafka circuit open, order event dropped")
		} else {
			log.WithError(err).Error("failed to send order event to kafka")
		}
		return fmt.Errorf("kafka.PublishOrderStatus: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     p.topic,
		"partition": partition,
		"offset":    offset,
		"order_id":  o.ID,
		"status":    o.Status,
	}).Debug("order event published to kafka")
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
