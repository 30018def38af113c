package device

import (
	"context"
	"errors"
	"testing"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierSendNewOrder(t *testing.T) {
	f := newGatewayFixture(t)
	logger, _ := test.NewNullLogger()
	n := NewNotifier(f.broker, f.store, logger)

	err := n.SendNewOrder(context.Background(), testMAC, models.NewOrderMessage{
		OrderID: "o-1",
		OrderMedicines: []models.NewOrderMedicine{
			{MedicineType: models.MedicineTablet, MedicineName: "Aspirin", Count: 2},
		},
	})
	require.NoError(t, err)

	msgs := f.broker.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "machine/"+testMAC+"/orders/new", msgs[0].topic)
	assert.JSONEq(t,
		`{"order_id":"o-1","order_medicines":[{"medicine_type":2,"medicine_name":"Aspirin","count":2}]}`,
		string(msgs[0].payload))
}

func TestNotifierTransportFailure(t *testing.T) {
	f := newGatewayFixture(t)
	logger, hook := test.NewNullLogger()
	f.broker.err = errors.New("not connected")
	n := NewNotifier(f.broker, f.store, logger)

	err := n.SendUnregister(context.Background(), testMAC)
	assert.ErrorIs(t, err, models.ErrTransportFailure)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, UnregisterTopic(testMAC), hook.LastEntry().Data["topic"])
}

func TestNotifierHandlesHubEvents(t *testing.T) {
	f := newGatewayFixture(t)
	logger, _ := test.NewNullLogger()
	n := NewNotifier(f.broker, f.store, logger)
	ctx := context.Background()

	slot, err := f.store.GetSlotByID(ctx, f.slot.ID)
	require.NoError(t, err)

	require.NoError(t, n.HandleEvent(ctx, events.SlotChanged{Slot: *slot}))
	require.NoError(t, n.HandleEvent(ctx, events.SlotRemoved{SlotID: slot.ID, MachineID: f.machine.ID}))
	require.NoError(t, n.HandleEvent(ctx, events.MachineDeleted{Machine: *f.machine}))

	msgs := f.broker.messages()
	require.Len(t, msgs, 3)

	assert.Equal(t, InventoryUpdateTopic(testMAC), msgs[0].topic)
	assert.JSONEq(t, `{"`+slot.ID+`":{"medicine_type":2,"medicine_name":"Aspirin","left_amount":10}}`, string(msgs[0].payload))

	assert.Equal(t, InventoryUpdateTopic(testMAC), msgs[1].topic)
	assert.JSONEq(t, `{"`+slot.ID+`":null}`, string(msgs[1].payload))

	assert.Equal(t, UnregisterTopic(testMAC), msgs[2].topic)
	assert.JSONEq(t, `{}`, string(msgs[2].payload))
}
