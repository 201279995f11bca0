package workflow

import (
	"time"

	"civicdesk/internal/models"
)

// slaWarningWindow is how close to the deadline a complaint may get before
// it is flagged WARNING.
const slaWarningWindow = 24 * time.Hour

// EvaluateSla classifies a complaint's service-level standing from time and
// state alone. It is pure: a stored SLA column goes stale the moment time
// passes without a write, so every read surface recomputes through here and
// treats the stored value as advisory.
func EvaluateSla(deadline time.Time, now time.Time, status models.ComplaintStatus) models.SlaStatus {
	if status.Terminal() {
		return models.SlaCompleted
	}
	if now.After(deadline) {
		return models.SlaOverdue
	}
	if deadline.Sub(now) <= slaWarningWindow {
		return models.SlaWarning
	}
	return models.SlaOnTime
}
