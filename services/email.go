package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"esp32watch/config"
	"esp32watch/models"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// ErrNoRecipients is returned when the recipient list is empty
var ErrNoRecipients = errors.New("no notification emails configured")

// MailSender is the part of the SMTP client used to deliver messages
type MailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// RecipientSource lists the current alert recipients
type RecipientSource interface {
	ListEmails(ctx context.Context) ([]models.NotificationEmail, error)
}

// EmailNotifier sends detection alerts by SMTP to every stored recipient
type EmailNotifier struct {
	sender     MailSender
	from       string
	recipients RecipientSource
	location   *time.Location
	logger     *zap.Logger
}

// TestEmailResult describes a delivered test email
type TestEmailResult struct {
	Recipients     []string  `json:"recipients"`
	RecipientCount int       `json:"recipientCount"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewSMTPClient builds the go-mail client from configuration
func NewSMTPClient(cfg *config.Config) (*mail.Client, error) {
	client, err := mail.NewClient(cfg.SMTPHost,
		mail.WithPort(cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.SMTPUser),
		mail.WithPassword(cfg.SMTPPassword),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(15*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating smtp client: %w", err)
	}
	return client, nil
}

func NewEmailNotifier(sender MailSender, from string, recipients RecipientSource, location *time.Location, logger *zap.Logger) *EmailNotifier {
	if location == nil {
		location = time.UTC
	}
	return &EmailNotifier{
		sender:     sender,
		from:       from,
		recipients: recipients,
		location:   location,
		logger:     logger,
	}
}

func (e *EmailNotifier) Notify(ctx context.Context, alert *models.DetectionAlert) error {
	if len(alert.Events) == 0 {
		return nil
	}

	addrs, err := e.recipientList(ctx)
	if err != nil {
		return err
	}

	html, err := e.renderAlert(alert)
	if err != nil {
		return fmt.Errorf("failed to render alert email: %w", err)
	}

	msg, err := e.newMessage(addrs, alertSubject(alert), html, alertText(alert, e.location))
	if err != nil {
		return err
	}

	if err := e.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("error sending alert email: %w", err)
	}

	e.logger.Info("Alert email sent",
		zap.Int("recipient_count", len(addrs)),
		zap.Int("event_count", len(alert.Events)))
	return nil
}

// SendTest delivers a test message to every recipient
func (e *EmailNotifier) SendTest(ctx context.Context, message string) (*TestEmailResult, error) {
	addrs, err := e.recipientList(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		message = "This is a test of the ESP32 alert email system."
	}

	now := time.Now()
	var buf bytes.Buffer
	if err := testTemplate.Execute(&buf, map[string]string{
		"Message": message,
		"SentAt":  now.In(e.location).Format("2006-01-02 15:04:05 MST"),
	}); err != nil {
		return nil, fmt.Errorf("failed to render test email: %w", err)
	}

	msg, err := e.newMessage(addrs, "🔔 ESP32 alert system test", buf.String(), message)
	if err != nil {
		return nil, err
	}
	if err := e.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return nil, fmt.Errorf("error sending test email: %w", err)
	}

	e.logger.Info("Test email sent", zap.Strings("recipients", addrs))
	return &TestEmailResult{
		Recipients:     addrs,
		RecipientCount: len(addrs),
		Timestamp:      now.UTC(),
	}, nil
}

func (e *EmailNotifier) recipientList(ctx context.Context) ([]string, error) {
	emails, err := e.recipients.ListEmails(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}
	if len(emails) == 0 {
		return nil, ErrNoRecipients
	}
	addrs := make([]string, 0, len(emails))
	for _, em := range emails {
		addrs = append(addrs, em.Email)
	}
	return addrs, nil
}

func (e *EmailNotifier) newMessage(to []string, subject, html, text string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat("ESP32 System", e.from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)
	return msg, nil
}

func (e *EmailNotifier) renderAlert(alert *models.DetectionAlert) (string, error) {
	type row struct {
		DeviceID           string
		Location           string
		Time               string
		Confidence         string
		HasTiming          bool
		DSPTime            float64
		ClassificationTime float64
		AnomalyTime        float64
	}
	rows := make([]row, 0, len(alert.Events))
	for _, ev := range alert.Events {
		r := row{
			DeviceID:   ev.DeviceID,
			Location:   ev.Location,
			Time:       ev.DetectionTime.In(e.location).Format("2006-01-02 15:04:05 MST"),
			Confidence: formatConfidence(ev.Confidence),
		}
		if ev.DSPTime != nil || ev.ClassificationTime != nil || ev.AnomalyTime != nil {
			r.HasTiming = true
			r.DSPTime = valueOrZero(ev.DSPTime)
			r.ClassificationTime = valueOrZero(ev.ClassificationTime)
			r.AnomalyTime = valueOrZero(ev.AnomalyTime)
		}
		rows = append(rows, r)
	}

	var buf bytes.Buffer
	err := alertTemplate.Execute(&buf, map[string]any{
		"Count":   len(rows),
		"BatchID": alert.BatchID,
		"Events":  rows,
	})
	return buf.String(), err
}

func alertSubject(alert *models.DetectionAlert) string {
	locations := strings.Join(alert.Locations(), ", ")
	if len(alert.Events) > 1 {
		return fmt.Sprintf("🚨 Human Detected x%d - %s", len(alert.Events), locations)
	}
	if c := alert.MaxConfidence(); c != nil {
		return fmt.Sprintf("🚨 Human Detected - %s (%s)", locations, formatConfidence(c))
	}
	return fmt.Sprintf("🚨 Human Detected - %s", locations)
}

func alertText(alert *models.DetectionAlert, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString("Human detection alert\n\n")
	for _, ev := range alert.Events {
		sb.WriteString(fmt.Sprintf("Device: %s\nLocation: %s\nTime: %s\nConfidence: %s\n\n",
			ev.DeviceID, ev.Location, ev.DetectionTime.In(loc).Format("2006-01-02 15:04:05 MST"), formatConfidence(ev.Confidence)))
	}
	sb.WriteString("A human has been detected in the monitored area. Please check the security system immediately.\n")
	return sb.String()
}

func formatConfidence(c *float64) string {
	if c == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *c*100)
}

var alertTemplate = template.Must(template.New("alert").Parse(`
<div style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; background: #f8f9fa; padding: 20px; border-radius: 8px;">
  <div style="background: white; padding: 20px; border-radius: 8px; margin-bottom: 16px; border-left: 4px solid #dc2626;">
    <h2 style="margin: 0; color: #dc2626;">🚨 Human Detection Alert{{if gt .Count 1}} ({{.Count}} events){{end}}</h2>
    {{if .BatchID}}<p style="margin: 8px 0 0 0; color: #64748b; font-size: 12px;">Batch {{.BatchID}}</p>{{end}}
  </div>
  {{range .Events}}
  <div style="background: #fef2f2; padding: 20px; border-radius: 8px; margin-bottom: 16px;">
    <p style="margin: 0 0 8px 0;"><b>Device ID:</b> {{.DeviceID}}</p>
    <p style="margin: 0 0 8px 0;"><b>Location:</b> {{.Location}}</p>
    <p style="margin: 0 0 8px 0;"><b>Detection Time:</b> {{.Time}}</p>
    <p style="margin: 0;"><b>Confidence:</b> <span style="color: #dc2626;">{{.Confidence}}</span></p>
    {{if .HasTiming}}
    <p style="margin: 12px 0 0 0; color: #475569; font-size: 13px;">DSP {{.DSPTime}}ms · Classification {{.ClassificationTime}}ms · Anomaly {{.AnomalyTime}}ms</p>
    {{end}}
  </div>
  {{end}}
  <div style="background: #fef2f2; padding: 20px; border-radius: 8px; border: 1px solid #fecaca;">
    <p style="margin: 0; color: #374151;">A human has been detected in the monitored area. Please check the security system immediately.</p>
  </div>
  <p style="margin-top: 20px; color: #9ca3af; font-size: 12px; text-align: center;">This is an automated message from ESP32 Security System</p>
</div>`))

var testTemplate = template.Must(template.New("test").Parse(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background: #667eea; padding: 20px; border-radius: 10px 10px 0 0;">
    <h1 style="color: white; margin: 0; text-align: center;">🔔 ESP32 Test Alert</h1>
  </div>
  <div style="background: #f8f9fa; padding: 30px; border-radius: 0 0 10px 10px; border: 1px solid #e9ecef;">
    <p style="color: #6c757d; font-size: 16px;">{{.Message}}</p>
    <p style="color: #868e96; font-size: 14px; margin-bottom: 0;">Sent at: {{.SentAt}}</p>
  </div>
</div>`))
