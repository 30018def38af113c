package device

import (
	"testing"

	"medicine-dispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	cases := []struct {
		topic string
		want  Topic
	}{
		{"machine/register/req", Topic{Kind: KindRegisterRequest}},
		{"machine/AA:BB/connection", Topic{Kind: KindConnection, MAC: "AA:BB"}},
		{"machine/AA:BB/status", Topic{Kind: KindStatus, MAC: "AA:BB"}},
		{"machine/AA:BB/orders/42/event", Topic{Kind: KindOrderEvent, MAC: "AA:BB", OrderID: "42"}},
	}
	for _, tc := range cases {
		t.Run(tc.topic, func(t *testing.T) {
			got, err := ParseTopic(tc.topic)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseTopicRejectsUnknown(t *testing.T) {
	for _, topic := range []string{
		"",
		"test",
		"machine",
		"machine//status",
		"machine/AA:BB/orders/new",
		"machine/AA:BB/orders//event",
		"machine/AA:BB/register/resp",
		"device/AA:BB/status",
		"machine/AA:BB/status/extra",
	} {
		_, err := ParseTopic(topic)
		assert.ErrorIs(t, err, models.ErrUnknownTopic, topic)
	}
}

func TestOutboundTopics(t *testing.T) {
	assert.Equal(t, "machine/m1/register/resp", RegisterResponseTopic("m1"))
	assert.Equal(t, "machine/m1/orders/new", NewOrderTopic("m1"))
	assert.Equal(t, "machine/m1/unregister", UnregisterTopic("m1"))
	assert.Equal(t, "machine/m1/inventory/update", InventoryUpdateTopic("m1"))
	assert.Equal(t, "order_event", KindOrderEvent.String())
}

func TestMessageLane(t *testing.T) {
	assert.Equal(t, "AA:BB", MessageLane("machine/AA:BB/connection"))
	assert.Equal(t, "AA:BB", MessageLane("machine/AA:BB/status"))
	assert.Equal(t, "AA:BB", MessageLane("machine/AA:BB/orders/42/event"))
	assert.Equal(t, TopicRegisterRequest, MessageLane(TopicRegisterRequest))
	assert.Equal(t, "fleet/other", MessageLane("fleet/other"))
}
