package email

import (
	"context"
	"fmt"
	"sync"
	"time"

	"medicine-dispatch/internal/events"
	"medicine-dispatch/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	alertQueueSize   = 64
	alertSendTimeout = 15 * time.Second
)

type alert struct {
	subject string
	text    string
	html    string
}

// Alerter mails operators about failed orders and device anomalies. Mails
// are sent from one background worker so hub publishers never wait on SES.
type Alerter struct {
	sender    ServiceInterface
	templates *TemplateManager
	to        []string
	logger    logrus.FieldLogger

	queue chan alert
	wg    sync.WaitGroup
	once  sync.Once
}

func NewAlerter(sender ServiceInterface, templates *TemplateManager, to []string, logger logrus.FieldLogger) *Alerter {
	a := &Alerter{
		sender:    sender,
		templates: templates,
		to:        to,
		logger:    logger.WithField("component", "email_alerts"),
		queue:     make(chan alert, alertQueueSize),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// HandleEvent is the hub subscriber. A full queue drops the alert.
func (a *Alerter) HandleEvent(_ context.Context, ev events.Event) error {
	var (
		msg alert
		err error
	)
	switch e := ev.(type) {
	case events.OrderStatusChanged:
		if e.Order.Status != models.OrderFailed {
			return nil
		}
		msg, err = a.failedOrder(e)
	case events.DeviceAnomaly:
		msg, err = a.deviceAnomaly(e)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("email.HandleEvent: %w", err)
	}

	select {
	case a.queue <- msg:
		return nil
	default:
		return fmt.Errorf("email.HandleEvent: alert queue full, %q dropped", msg.subject)
	}
}

// Close sends the queued alerts and stops the worker.
func (a *Alerter) Close() {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
}

func (a *Alerter) run() {
	defer a.wg.Done()
	for msg := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), alertSendTimeout)
		if err := a.sender.SendEmail(ctx, a.to, msg.subject, msg.text, msg.html); err != nil {
			a.logger.WithError(err).WithField("subject", msg.subject).Error("alert not sent")
		}
		cancel()
	}
}

func (a *Alerter) failedOrder(e events.OrderStatusChanged) (alert, error) {
	data := FailedOrderData{
		OrderID:  e.Order.ID,
		Reason:   e.Reason,
		Amount:   fmt.Sprintf("%.2f %s", e.Order.PaymentAmount, e.Order.PaymentCurrency),
		FailedAt: e.ChangedAt,
	}
	if e.Order.MachineID != nil {
		data.MachineID = *e.Order.MachineID
	}
	html, err := a.templates.GenerateFailedOrderEmailHTML(data)
	if err != nil {
		return alert{}, err
	}
	reason := data.Reason
	if reason == "" {
		reason = "not reported"
	}
	return alert{
		subject: "Order " + data.OrderID + " failed",
		text:    fmt.Sprintf("Machine %s could not hand out order %s. Reason: %s.", data.MachineID, data.OrderID, reason),
		html:    html,
	}, nil
}

func (a *Alerter) deviceAnomaly(e events.DeviceAnomaly) (alert, error) {
	html, err := a.templates.GenerateDeviceAnomalyEmailHTML(DeviceAnomalyData(e))
	if err != nil {
		return alert{}, err
	}
	return alert{
		subject: "Device anomaly on " + e.MAC,
		text:    fmt.Sprintf("Machine %s: %s (order %q, topic %q)", e.MAC, e.Reason, e.OrderID, e.Topic),
		html:    html,
	}, nil
}
