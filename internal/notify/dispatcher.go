// Package notify is the outbound messaging contract the workflow engine
// consumes. The engine never builds transport-level messages itself; it hands
// a template kind and payload to a Dispatcher.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindOTPCode          Kind = "otp_code"
	KindStatusChange     Kind = "status_change"
	KindAssignment       Kind = "assignment"
	KindUnassignedAlert  Kind = "unassigned_alert" // broadcast fallback when no assignee exists
	KindRegistrationInfo Kind = "registration_info"
)

type Dispatcher interface {
	Send(ctx context.Context, recipient string, kind Kind, payload map[string]string) error
}

// LogDispatcher writes sends to the log instead of a transport. Used in dev
// and as the default when SMTP is not configured.
type LogDispatcher struct {
	Log zerolog.Logger
}

func (d *LogDispatcher) Send(_ context.Context, recipient string, kind Kind, payload map[string]string) error {
	ev := d.Log.Info().Str("recipient", recipient).Str("kind", string(kind))
	for k, v := range payload {
		ev = ev.Str(k, v)
	}
	ev.Msg("notification dispatched")
	return nil
}
