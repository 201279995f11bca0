package models

import "time"

type ComplaintStatus string

const (
	StatusRegistered ComplaintStatus = "REGISTERED"
	StatusAssigned   ComplaintStatus = "ASSIGNED"
	StatusInProgress ComplaintStatus = "IN_PROGRESS"
	StatusResolved   ComplaintStatus = "RESOLVED"
	StatusClosed     ComplaintStatus = "CLOSED"
	StatusReopened   ComplaintStatus = "REOPENED"
)

// Terminal reports whether the status counts as finished work
// (used by workload counting and SLA classification).
func (s ComplaintStatus) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

type SlaStatus string

const (
	SlaOnTime    SlaStatus = "ON_TIME"
	SlaWarning   SlaStatus = "WARNING"
	SlaOverdue   SlaStatus = "OVERDUE"
	SlaCompleted SlaStatus = "COMPLETED"
)

type Complaint struct {
	ID           string          `json:"id"`
	SequenceCode string          `json:"sequenceCode"`
	Type         string          `json:"type"`
	Description  string          `json:"description"`
	Area         string          `json:"area"`
	Priority     Priority        `json:"priority"`
	Status       ComplaintStatus `json:"status"`
	SlaStatus    SlaStatus       `json:"slaStatus"` // advisory cache, recomputed on read
	Deadline     time.Time       `json:"deadline"`

	WardID            string  `json:"wardId"`
	WardOfficerID     *string `json:"wardOfficerId,omitempty"`
	MaintenanceTeamID *string `json:"maintenanceTeamId,omitempty"`
	SubmittedByID     *string `json:"submittedById,omitempty"`

	// Contact details captured at submission; for guest complaints these are
	// the only way to reach the submitter until identity binding completes.
	ContactName  string `json:"contactName,omitempty"`
	ContactEmail string `json:"contactEmail"`
	ContactPhone string `json:"contactPhone,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	AssignedAt *time.Time `json:"assignedAt,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
}
