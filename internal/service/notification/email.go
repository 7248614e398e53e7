package notification

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// RecipientResolver looks up the email address of a user.
type RecipientResolver func(ctx context.Context, userID uuid.UUID) (string, error)

var subjects = map[string]string{
	EventBookingConfirmed:     "Your appointment is booked",
	EventBookingCancelled:     "Your appointment was cancelled",
	EventAppointmentUpdated:   "Your appointment was rescheduled",
	EventAppointmentConfirmed: "Your appointment is confirmed",
	EventAppointmentCompleted: "Your appointment is complete",
}

var bodyTemplate = template.Must(template.New("body").Parse(
	`Appointment {{.AppointmentID}}
When: {{.Start.Format "2006-01-02 15:04"}} to {{.End.Format "15:04"}} UTC ({{.Timezone}})
Status: {{.Status}}
{{- if .Reason}}
Reason: {{.Reason}}
{{- end}}
`))

// EmailNotifier sends booking events over SMTP.
type EmailNotifier struct {
	sender  Sender
	from    string
	resolve RecipientResolver
}

func NewEmailNotifier(sender Sender, from string, resolve RecipientResolver) *EmailNotifier {
	return &EmailNotifier{sender: sender, from: from, resolve: resolve}
}

// NewSMTPSender builds a gomail dialer.
func NewSMTPSender(host string, port int, username, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, username, password)
}

func (n *EmailNotifier) Notify(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) error {
	to, err := n.resolve(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient %s: %w", userID, err)
	}

	subject, ok := subjects[eventType]
	if !ok {
		subject = eventType
	}

	var body bytes.Buffer
	if event, ok := payload.(BookingEvent); ok {
		if err := bodyTemplate.Execute(&body, event); err != nil {
			return fmt.Errorf("failed to render email: %w", err)
		}
	} else {
		fmt.Fprintf(&body, "%v\n", payload)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body.String())

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
