package models

import "time"

// StatusLogEntry is an append-only audit record: one row per accepted
// transition, written in the same transaction as the state mutation.
type StatusLogEntry struct {
	ID          string           `json:"id"`
	ComplaintID string           `json:"complaintId"`
	FromStatus  *ComplaintStatus `json:"fromStatus,omitempty"` // nil for the first entry
	ToStatus    ComplaintStatus  `json:"toStatus"`
	ActorID     *string          `json:"actorId,omitempty"`
	Comment     string           `json:"comment,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}
