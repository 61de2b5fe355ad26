package notification

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/smukkama/leak-server/internal/protocol"
	"github.com/smukkama/leak-server/pkg/config"
)

var triggeredTemplate = template.Must(template.New("triggered").Funcs(funcs).Parse(`
Leak Alarm Triggered
====================

Sensor: {{.SensorID}}
Leak Probability: {{percent .LeakProbability}}
Threshold: {{percent .Threshold}}
Consecutive Leak Predictions: {{.Consecutive}}
Breach Start: {{stamp .StartTime}}
Alarm ID: {{.AlarmID}}

Description:
Sensor {{.SensorID}} has reported {{.Consecutive}} consecutive readings classified
as a leak, peaking at {{percent .LeakProbability}} against a threshold of
{{percent .Threshold}}. The breach started at {{stamp .StartTime}}.

Please dispatch a crew to inspect the pipe section.

---
Leak Server Notification System
`))

var clearedTemplate = template.Must(template.New("cleared").Funcs(funcs).Parse(`
Leak Alarm Cleared
==================

Sensor: {{.SensorID}}
Alarm ID: {{.AlarmID}}
Breach Start: {{stamp .StartTime}}

Description:
The leak alarm for sensor {{.SensorID}} has been cleared. The latest reading
was classified as normal ({{percent .LeakProbability}} leak probability).

---
Leak Server Notification System
`))

var funcs = template.FuncMap{
	"percent": func(p float64) string { return fmt.Sprintf("%.1f%%", p*100) },
	"stamp":   func(t time.Time) string { return t.UTC().Format(time.RFC1123) },
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config *config.SMTPConfig
	logger *slog.Logger
	send   sendFunc
	now    func() time.Time
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{config: cfg, logger: logger, send: smtp.SendMail, now: time.Now}
}

// Render returns the subject and body of the email for a notification
func Render(notification *protocol.AlarmNotification) (string, string, error) {
	var subject string
	var tmpl *template.Template

	switch notification.Type {
	case protocol.AlarmTypeTriggered:
		subject = fmt.Sprintf("🚨 Leak Alarm TRIGGERED - sensor %s", notification.SensorID)
		tmpl = triggeredTemplate
	case protocol.AlarmTypeCleared:
		subject = fmt.Sprintf("✅ Leak Alarm CLEARED - sensor %s", notification.SensorID)
		tmpl = clearedTemplate
	default:
		return "", "", fmt.Errorf("unknown notification type: %s", notification.Type)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, notification); err != nil {
		return "", "", fmt.Errorf("failed to render email template: %w", err)
	}
	return subject, buf.String(), nil
}

// SendAlarmNotification sends an email for an alarm notification
func (e *EmailNotifier) SendAlarmNotification(notification *protocol.AlarmNotification) error {
	subject, body, err := Render(notification)
	if err != nil {
		return err
	}
	return e.sendEmail(subject, body)
}

func (e *EmailNotifier) recipients() []string {
	var to []string
	for _, addr := range strings.Split(e.config.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return to
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Without credentials the notification is only logged
	if e.config.Username == "" || e.config.Password == "" {
		e.logger.Info("SMTP not configured, skipping email", "subject", subject, "body", body)
		return nil
	}

	to := e.recipients()
	if len(to) == 0 {
		return fmt.Errorf("no email recipients configured")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("email sent", "subject", subject, "recipients", len(to))
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	return nil
}
