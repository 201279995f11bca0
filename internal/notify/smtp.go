package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// SMTPDispatcher delivers notifications over plain SMTP. Subject and body are
// rendered from the template kind; delivery failure is returned to the caller,
// who decides whether it rolls anything back (guest phase 1) or is only
// logged (everything else).
type SMTPDispatcher struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
	Log  zerolog.Logger
}

func (d *SMTPDispatcher) Send(_ context.Context, recipient string, kind Kind, payload map[string]string) error {
	subject, body := render(kind, payload)
	msg := strings.Join([]string{
		"From: " + d.From,
		"To: " + recipient,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(d.Addr, d.Auth, d.From, []string{recipient}, []byte(msg)); err != nil {
		d.Log.Error().Err(err).Str("recipient", recipient).Str("kind", string(kind)).Msg("smtp send failed")
		return err
	}
	return nil
}

func render(kind Kind, p map[string]string) (subject, body string) {
	switch kind {
	case KindOTPCode:
		return "Your verification code",
			fmt.Sprintf("Your verification code for complaint %s is %s. It expires in %s minutes.",
				p["sequenceCode"], p["code"], p["expiresMinutes"])
	case KindStatusChange:
		return fmt.Sprintf("Complaint %s is now %s", p["sequenceCode"], p["status"]),
			fmt.Sprintf("Your complaint %s has moved to status %s.", p["sequenceCode"], p["status"])
	case KindAssignment:
		return fmt.Sprintf("Complaint %s assigned to you", p["sequenceCode"]),
			fmt.Sprintf("Complaint %s (%s) in ward %s has been assigned to you.",
				p["sequenceCode"], p["type"], p["ward"])
	case KindUnassignedAlert:
		return fmt.Sprintf("Complaint %s needs an assignee", p["sequenceCode"]),
			fmt.Sprintf("No staff member could be auto-assigned to complaint %s in ward %s.",
				p["sequenceCode"], p["ward"])
	case KindRegistrationInfo:
		return "Your citizen account",
			fmt.Sprintf("An account was created for %s while verifying complaint %s.",
				p["email"], p["sequenceCode"])
	default:
		return string(kind), fmt.Sprint(p)
	}
}
