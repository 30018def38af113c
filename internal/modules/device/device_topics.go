// Package device speaks the machine side of the pub/sub contract: it turns
// inbound device messages into state changes and publishes commands to machines.
package device

import (
	"fmt"
	"strings"

	"medicine-dispatch/internal/models"
)

// TopicKind identifies an inbound topic family.
type TopicKind int

const (
	KindRegisterRequest TopicKind = iota + 1
	KindConnection
	KindStatus
	KindOrderEvent
)

func (k TopicKind) String() string {
	switch k {
	case KindRegisterRequest:
		return "register_request"
	case KindConnection:
		return "connection"
	case KindStatus:
		return "status"
	case KindOrderEvent:
		return "order_event"
	}
	return fmt.Sprintf("TopicKind(%d)", int(k))
}

// TopicRegisterRequest is the only inbound topic without a MAC segment; the
// MAC travels in the payload.
const TopicRegisterRequest = "machine/register/req"

// InboundFilters are the subscriptions the backend needs.
var InboundFilters = []string{
	TopicRegisterRequest,
	"machine/+/connection",
	"machine/+/status",
	"machine/+/orders/+/event",
}

// Topic is a parsed inbound topic.
type Topic struct {
	Kind    TopicKind
	MAC     string
	OrderID string
}

// ParseTopic classifies an inbound topic. Anything outside the contract
// yields models.ErrUnknownTopic.
func ParseTopic(topic string) (Topic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "machine" || parts[1] == "" {
		return Topic{}, fmt.Errorf("%w: %q", models.ErrUnknownTopic, topic)
	}

	switch {
	case topic == TopicRegisterRequest:
		return Topic{Kind: KindRegisterRequest}, nil
	case len(parts) == 3 && parts[2] == "connection":
		return Topic{Kind: KindConnection, MAC: parts[1]}, nil
	case len(parts) == 3 && parts[2] == "status":
		return Topic{Kind: KindStatus, MAC: parts[1]}, nil
	case len(parts) == 5 && parts[2] == "orders" && parts[3] != "" && parts[4] == "event":
		return Topic{Kind: KindOrderEvent, MAC: parts[1], OrderID: parts[3]}, nil
	}
	return Topic{}, fmt.Errorf("%w: %q", models.ErrUnknownTopic, topic)
}

// MessageLane keys inbound topics by machine so that one machine's messages
// are handled in arrival order. Registration requests carry the MAC in the
// payload and share one lane.
func MessageLane(topic string) string {
	if t, err := ParseTopic(topic); err == nil && t.MAC != "" {
		return t.MAC
	}
	return topic
}

// Outbound topics.

func RegisterResponseTopic(mac string) string { return "machine/" + mac + "/register/resp" }

func NewOrderTopic(mac string) string { return "machine/" + mac + "/orders/new" }

func UnregisterTopic(mac string) string { return "machine/" + mac + "/unregister" }

func InventoryUpdateTopic(mac string) string { return "machine/" + mac + "/inventory/update" }
