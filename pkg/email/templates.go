package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// TemplateManager holds the parsed alert templates.
type TemplateManager struct {
	FailedOrderTmpl   *template.Template
	DeviceAnomalyTmpl *template.Template
}

// NewTemplateManager parses all email templates at startup.
func NewTemplateManager() (*TemplateManager, error) {
	failedOrder, err := template.New("failedOrder").Parse(failedOrderTemplate)
	if err != nil {
		return nil, fmt.Errorf("email.NewTemplateManager: %w", err)
	}
	anomaly, err := template.New("deviceAnomaly").Parse(deviceAnomalyTemplate)
	if err != nil {
		return nil, fmt.Errorf("email.NewTemplateManager: %w", err)
	}
	return &TemplateManager{
		FailedOrderTmpl:   failedOrder,
		DeviceAnomalyTmpl: anomaly,
	}, nil
}

// FailedOrderData fills the failed order alert.
type FailedOrderData struct {
	OrderID   string
	MachineID string
	Reason    string
	Amount    string
	FailedAt  time.Time
}

// DeviceAnomalyData fills the device anomaly alert.
type DeviceAnomalyData struct {
	MAC        string
	OrderID    string
	Topic      string
	Reason     string
	DetectedAt time.Time
}

func (tm *TemplateManager) GenerateFailedOrderEmailHTML(data FailedOrderData) (string, error) {
	return execute(tm.FailedOrderTmpl, data)
}

func (tm *TemplateManager) GenerateDeviceAnomalyEmailHTML(data DeviceAnomalyData) (string, error) {
	return execute(tm.DeviceAnomalyTmpl, data)
}

func execute(t *template.Template, data any) (string, error) {
	var body bytes.Buffer
	if err := t.Execute(&body, data); err != nil {
		return "", err
	}
	return body.String(), nil
}

// --- HTML Template Definitions ---

const failedOrderTemplate = `
<!DOCTYPE html>
<html>
<head>
	<title>Order delivery failed</title>
</head>
<body style="font-family: Arial, sans-serif;">
	<h2>Order {{.OrderID}} failed</h2>
	<p>Machine <b>{{.MachineID}}</b> could not hand out the order.</p>
	<p>Reason: {{if .Reason}}{{.Reason}}{{else}}not reported{{end}}</p>
	<p>Amount: {{.Amount}}</p>
	<p>Reported at {{.FailedAt.Format "2006-01-02 15:04:05 MST"}}. Reserved stock has been released.</p>
</body>
</html>
`

const deviceAnomalyTemplate = `
<!DOCTYPE html>
<html>
<head>
	<title>Device anomaly</title>
</head>
<body style="font-family: Arial, sans-serif;">
	<h2>Unexpected message from machine {{.MAC}}</h2>
	<p>{{.Reason}}</p>
	{{if .OrderID}}<p>Order: {{.OrderID}}</p>{{end}}
	{{if .Topic}}<p>Topic: {{.Topic}}</p>{{end}}
	<p>Detected at {{.DetectedAt.Format "2006-01-02 15:04:05 MST"}}.</p>
</body>
</html>
`
