package workflow

import (
	"time"

	"civicdesk/internal/models"
)

// transitionTable is the single source of truth for legal status edges.
// REOPENED appears only as a source: it is entered through the dedicated
// reopen operation, never through the generic transition entry point.
var transitionTable = map[models.ComplaintStatus][]models.ComplaintStatus{
	models.StatusRegistered: {models.StatusAssigned},
	models.StatusAssigned:   {models.StatusInProgress},
	models.StatusInProgress: {models.StatusResolved},
	models.StatusResolved:   {models.StatusClosed},
	models.StatusClosed:     {},
	models.StatusReopened:   {models.StatusAssigned},
}

// CanMove reports whether from→to is an edge of the transition table.
func CanMove(from, to models.ComplaintStatus) bool {
	for _, t := range transitionTable[from] {
		if t == to {
			return true
		}
	}
	return false
}

// AssignmentFields optionally accompanies a transition request.
type AssignmentFields struct {
	MaintenanceTeamID string
	WardOfficerID     string
	Comment           string
}

// transitionGates is the role→capability table: who may touch which
// complaints. Keeping the whole matrix here makes it independently testable.
var transitionGates = map[string]func(actor *models.User, c *models.Complaint) bool{
	models.RoleAdmin: func(*models.User, *models.Complaint) bool { return true },
	models.RoleWardOfficer: func(a *models.User, c *models.Complaint) bool {
		if c.WardOfficerID != nil && *c.WardOfficerID == a.ID {
			return true
		}
		return a.WardID != nil && *a.WardID == c.WardID
	},
	models.RoleMaintenance: func(a *models.User, c *models.Complaint) bool {
		return c.MaintenanceTeamID != nil && *c.MaintenanceTeamID == a.ID
	},
}

// validateTransition checks, in order: actor capability, table edge,
// per-transition preconditions, and assignment-target eligibility. The first
// violated rule is returned as a Refusal; nil means the transition may apply.
// maintUser/officerUser are the resolved assignment targets (nil when none
// requested).
func validateTransition(c *models.Complaint, target models.ComplaintStatus, actor *models.User, assign AssignmentFields, maintUser, officerUser *models.User) *Refusal {
	gate, ok := transitionGates[actor.Role]
	if !ok {
		return refuseAuth("role may not transition complaints")
	}
	if !gate(actor, c) {
		return refuseAuth("complaint is outside the actor's ward or assignments")
	}

	if !CanMove(c.Status, target) {
		return refuseState("no transition " + string(c.Status) + " -> " + string(target))
	}

	switch target {
	case models.StatusAssigned, models.StatusInProgress:
		if c.MaintenanceTeamID == nil && assign.MaintenanceTeamID == "" {
			return refuseState("transition to " + string(target) + " requires a maintenance team member")
		}
	}

	if assign.WardOfficerID != "" && actor.Role != models.RoleAdmin {
		return refuseAuth("only administrators assign ward officers")
	}

	if assign.MaintenanceTeamID != "" {
		if r := validateAssignee(maintUser, models.RoleMaintenance); r != nil {
			return r
		}
		// Ward officers draw maintenance staff from their own ward only.
		if actor.Role == models.RoleWardOfficer {
			if maintUser.WardID == nil || actor.WardID == nil || *maintUser.WardID != *actor.WardID {
				return refuseAuth("maintenance assignee must belong to the officer's ward")
			}
		}
	}
	if assign.WardOfficerID != "" {
		if r := validateAssignee(officerUser, models.RoleWardOfficer); r != nil {
			return r
		}
	}
	return nil
}

// validateAssignee rejects inactive or role-mismatched targets before any
// state mutation is attempted.
func validateAssignee(u *models.User, wantRole string) *Refusal {
	if u == nil {
		return refuseValidation("assignee", "assignee does not exist")
	}
	if !u.Active {
		return refuseValidation("assignee", "assignee is inactive")
	}
	if u.Role != wantRole {
		return refuseValidation("assignee", "assignee does not hold the "+wantRole+" role")
	}
	return nil
}

// applyTransition mutates the complaint for an already-validated transition:
// status, assignment fields, the set-once timestamp the transition owns, and
// the advisory SLA cache computed off the pre-transition deadline.
func applyTransition(c *models.Complaint, target models.ComplaintStatus, assign AssignmentFields, now time.Time) {
	c.Status = target
	if assign.MaintenanceTeamID != "" {
		id := assign.MaintenanceTeamID
		c.MaintenanceTeamID = &id
	}
	if assign.WardOfficerID != "" {
		id := assign.WardOfficerID
		c.WardOfficerID = &id
	}

	switch target {
	case models.StatusAssigned:
		if c.AssignedAt == nil {
			t := now
			c.AssignedAt = &t
		}
	case models.StatusResolved:
		if c.ResolvedAt == nil {
			t := now
			c.ResolvedAt = &t
		}
	case models.StatusClosed:
		if c.ClosedAt == nil {
			t := now
			c.ClosedAt = &t
		}
	}

	c.SlaStatus = EvaluateSla(c.Deadline, now, target)
	c.UpdatedAt = now
}

// validateReopen gates the dedicated reopen operation: admin only, from
// CLOSED only.
func validateReopen(c *models.Complaint, actor *models.User) *Refusal {
	if actor.Role != models.RoleAdmin {
		return refuseAuth("only administrators may reopen complaints")
	}
	if c.Status != models.StatusClosed {
		return refuseState("only closed complaints can be reopened")
	}
	return nil
}

// applyReopen re-enters the assignment pipeline under the original deadline:
// dependent fields reset, deadline untouched. An elapsed deadline will simply
// classify as OVERDUE on the next read.
func applyReopen(c *models.Complaint, now time.Time) {
	c.Status = models.StatusReopened
	c.MaintenanceTeamID = nil
	c.AssignedAt = nil
	c.ResolvedAt = nil
	c.ClosedAt = nil
	c.SlaStatus = EvaluateSla(c.Deadline, now, models.StatusReopened)
	c.UpdatedAt = now
}
