package workflow

import (
	"time"
)

// StaffLoad is one auto-assignment candidate: an active user of the requested
// role in the ward, with their current count of non-terminal complaints.
type StaffLoad struct {
	UserID    string
	Email     string
	OpenCount int
	CreatedAt time.Time
}

// SelectAssignee picks the least-loaded candidate; ties go to the oldest
// account so long-tenured staff are not starved. Returns "" when no candidate
// exists — the caller falls back to a broadcast notification rather than
// leaving the complaint silently unassigned.
//
// Two concurrent creates may both pick the same candidate; the transient
// imbalance is accepted as a fairness-only property.
func SelectAssignee(candidates []StaffLoad) string {
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.OpenCount < best.OpenCount ||
			(c.OpenCount == best.OpenCount && c.CreatedAt.Before(best.CreatedAt)) {
			best = c
		}
	}
	return best.UserID
}
