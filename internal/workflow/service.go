// Package workflow is the complaint workflow engine: sequence allocation,
// lifecycle transitions, SLA classification, auto-assignment and guest
// identity binding. Everything with a real correctness hazard lives here;
// HTTP handlers stay thin.
package workflow

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	mrand "math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"civicdesk/internal/models"
	"civicdesk/internal/notify"
)

const (
	maxAllocateAttempts = 3
	otpTTL              = 10 * time.Minute
	otpCodeDigits       = 6
)

type Service struct {
	store    Store
	notifier notify.Dispatcher
	captcha  CaptchaVerifier
	log      zerolog.Logger

	// Injected for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

func NewService(store Store, notifier notify.Dispatcher, captcha CaptchaVerifier, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		captcha:  captcha,
		log:      log,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// -----------------------------------------------------------------------------
// Create
// -----------------------------------------------------------------------------

type CreateInput struct {
	Type         string
	Description  string
	Area         string
	WardID       string
	Priority     models.Priority
	ContactName  string
	ContactEmail string
	ContactPhone string
}

func (in *CreateInput) validate() *Refusal {
	if strings.TrimSpace(in.Type) == "" {
		return refuseValidation("type", "complaint type is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return refuseValidation("description", "description is required")
	}
	if strings.TrimSpace(in.WardID) == "" {
		return refuseValidation("wardId", "ward is required")
	}
	switch in.Priority {
	case "":
		in.Priority = models.PriorityMedium
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityCritical:
	default:
		return refuseValidation("priority", "unknown priority")
	}
	return nil
}

// CreateComplaint registers a complaint for an authenticated submitter. The
// sequence-code retry loop lives here, not in the allocator: on a duplicate
// code the whole transaction is retried with a fresh code, with jitter to
// desynchronize colliding writers.
func (s *Service) CreateComplaint(ctx context.Context, in CreateInput, actor *models.User) (*models.Complaint, error) {
	if r := in.validate(); r != nil {
		return nil, r
	}
	var submittedBy *string
	if actor != nil {
		submittedBy = &actor.ID
		if in.ContactEmail == "" {
			in.ContactEmail = actor.Email
		}
		if in.ContactName == "" {
			in.ContactName = actor.Name
		}
	}

	c, err := s.createWithRetry(ctx, in, submittedBy, func(Tx, *models.Complaint) error { return nil })
	if err != nil {
		return nil, err
	}

	s.notifyCreated(ctx, c)
	return c, nil
}

// createWithRetry runs one create transaction up to maxAllocateAttempts
// times, retrying only on a sequence-code collision. extra runs inside the
// same transaction after the insert (guest OTP issuance hooks in there).
func (s *Service) createWithRetry(ctx context.Context, in CreateInput, submittedBy *string, extra func(tx Tx, c *models.Complaint) error) (*models.Complaint, error) {
	var c *models.Complaint
	for attempt := 1; attempt <= maxAllocateAttempts; attempt++ {
		err := s.store.InTx(ctx, func(tx Tx) error {
			var err error
			c, err = s.createOnce(ctx, tx, in, submittedBy)
			if err != nil {
				return err
			}
			return extra(tx, c)
		})
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrDuplicateSequence) {
			return nil, err
		}
		if attempt == maxAllocateAttempts {
			break
		}
		s.log.Warn().Int("attempt", attempt).Msg("sequence code collision, retrying")
		// Randomized delay so colliding writers stop shadowing each other.
		s.sleep(time.Duration(5+mrand.Intn(25)) * time.Millisecond)
	}
	return nil, &Refusal{Kind: RefusalAllocationExhausted, Rule: "sequence code allocation exhausted after " + strconv.Itoa(maxAllocateAttempts) + " attempts"}
}

func (s *Service) createOnce(ctx context.Context, tx Tx, in CreateInput, submittedBy *string) (*models.Complaint, error) {
	now := s.now()

	typ, err := tx.ComplaintType(ctx, in.Type)
	if err != nil {
		return nil, err
	}
	if typ == nil || !typ.Active {
		return nil, refuseValidation("type", "unknown complaint type")
	}

	cfg, err := tx.SystemConfig(ctx)
	if err != nil {
		return nil, err
	}

	codes, err := tx.SequenceCodes(ctx, cfg.SequencePrefix)
	if err != nil {
		return nil, err
	}

	deadline := now.Add(time.Duration(typ.SLAHours) * time.Hour)
	c := &models.Complaint{
		SequenceCode:  NextSequenceCode(cfg.SequencePrefix, cfg.SequenceStart, cfg.SequencePad, codes),
		Type:          typ.Name,
		Description:   strings.TrimSpace(in.Description),
		Area:          strings.TrimSpace(in.Area),
		Priority:      in.Priority,
		Status:        models.StatusRegistered,
		SlaStatus:     EvaluateSla(deadline, now, models.StatusRegistered),
		Deadline:      deadline,
		WardID:        in.WardID,
		SubmittedByID: submittedBy,
		ContactName:   strings.TrimSpace(in.ContactName),
		ContactEmail:  strings.ToLower(strings.TrimSpace(in.ContactEmail)),
		ContactPhone:  strings.TrimSpace(in.ContactPhone),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if cfg.AutoAssign {
		staff, err := tx.AssignableStaff(ctx, in.WardID, models.RoleWardOfficer)
		if err != nil {
			return nil, err
		}
		if id := SelectAssignee(staff); id != "" {
			c.WardOfficerID = &id
		}
	}

	if err := tx.InsertComplaint(ctx, c); err != nil {
		return nil, err
	}

	return c, tx.AppendStatusLog(ctx, &models.StatusLogEntry{
		ComplaintID: c.ID,
		ToStatus:    models.StatusRegistered,
		ActorID:     submittedBy,
		Comment:     "complaint registered",
		CreatedAt:   now,
	})
}

// notifyCreated runs after commit; failures are logged, never rolled back.
func (s *Service) notifyCreated(ctx context.Context, c *models.Complaint) {
	if c.ContactEmail != "" {
		s.send(ctx, c.ContactEmail, notify.KindStatusChange, map[string]string{
			"sequenceCode": c.SequenceCode,
			"status":       string(c.Status),
		})
	}
	if c.WardOfficerID != nil {
		if officer, err := s.store.GetUser(ctx, *c.WardOfficerID); err == nil && officer != nil {
			s.send(ctx, officer.Email, notify.KindAssignment, map[string]string{
				"sequenceCode": c.SequenceCode,
				"type":         c.Type,
				"ward":         c.WardID,
			})
		}
		return
	}
	// No assignee: broadcast to every eligible officer in the ward rather
	// than leaving the complaint silently unowned.
	staff, err := s.store.AssignableStaff(ctx, c.WardID, models.RoleWardOfficer)
	if err != nil {
		s.log.Error().Err(err).Msg("broadcast candidate lookup failed")
		return
	}
	for _, st := range staff {
		s.send(ctx, st.Email, notify.KindUnassignedAlert, map[string]string{
			"sequenceCode": c.SequenceCode,
			"ward":         c.WardID,
		})
	}
}

// -----------------------------------------------------------------------------
// Transition / reopen
// -----------------------------------------------------------------------------

// TransitionComplaint validates and applies one lifecycle step. State change,
// timestamps and the audit entry commit as a unit or not at all.
func (s *Service) TransitionComplaint(ctx context.Context, ref string, target models.ComplaintStatus, actor *models.User, assign AssignmentFields) (*models.Complaint, error) {
	if actor == nil {
		return nil, refuseAuth("authentication required")
	}
	if target == models.StatusReopened {
		return nil, refuseState("reopen is a dedicated operation")
	}
	if _, ok := transitionTable[target]; !ok {
		return nil, refuseValidation("status", "unknown status")
	}

	var c *models.Complaint
	var assignedMaint *models.User
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		c, err = s.lookupComplaint(ctx, tx, ref)
		if err != nil {
			return err
		}

		var maintUser, officerUser *models.User
		if assign.MaintenanceTeamID != "" {
			if maintUser, err = tx.GetUser(ctx, assign.MaintenanceTeamID); err != nil {
				return err
			}
		}
		if assign.WardOfficerID != "" {
			if officerUser, err = tx.GetUser(ctx, assign.WardOfficerID); err != nil {
				return err
			}
		}

		if r := validateTransition(c, target, actor, assign, maintUser, officerUser); r != nil {
			return r
		}

		from := c.Status
		now := s.now()
		applyTransition(c, target, assign, now)
		if err := tx.UpdateComplaint(ctx, c); err != nil {
			return err
		}
		assignedMaint = maintUser
		return tx.AppendStatusLog(ctx, &models.StatusLogEntry{
			ComplaintID: c.ID,
			FromStatus:  &from,
			ToStatus:    target,
			ActorID:     &actor.ID,
			Comment:     assign.Comment,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	if c.ContactEmail != "" {
		s.send(ctx, c.ContactEmail, notify.KindStatusChange, map[string]string{
			"sequenceCode": c.SequenceCode,
			"status":       string(c.Status),
		})
	}
	if assignedMaint != nil {
		s.send(ctx, assignedMaint.Email, notify.KindAssignment, map[string]string{
			"sequenceCode": c.SequenceCode,
			"type":         c.Type,
			"ward":         c.WardID,
		})
	}
	return c, nil
}

// ReopenComplaint is the only path into REOPENED: admin only, from CLOSED
// only. Dependent fields reset; the original deadline stands, even if it has
// already elapsed.
func (s *Service) ReopenComplaint(ctx context.Context, ref string, actor *models.User, comment string) (*models.Complaint, error) {
	if actor == nil {
		return nil, refuseAuth("authentication required")
	}

	var c *models.Complaint
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		c, err = s.lookupComplaint(ctx, tx, ref)
		if err != nil {
			return err
		}
		if r := validateReopen(c, actor); r != nil {
			return r
		}

		from := c.Status
		now := s.now()
		applyReopen(c, now)
		if err := tx.UpdateComplaint(ctx, c); err != nil {
			return err
		}
		if comment == "" {
			comment = "complaint reopened"
		}
		return tx.AppendStatusLog(ctx, &models.StatusLogEntry{
			ComplaintID: c.ID,
			FromStatus:  &from,
			ToStatus:    models.StatusReopened,
			ActorID:     &actor.ID,
			Comment:     comment,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	if c.ContactEmail != "" {
		s.send(ctx, c.ContactEmail, notify.KindStatusChange, map[string]string{
			"sequenceCode": c.SequenceCode,
			"status":       string(c.Status),
		})
	}
	return c, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// RefreshSla overwrites the advisory stored classification with the one
// computed from time and state. Called on every surfaced row.
func RefreshSla(c *models.Complaint, now time.Time) {
	c.SlaStatus = EvaluateSla(c.Deadline, now, c.Status)
}

func (s *Service) send(ctx context.Context, recipient string, kind notify.Kind, payload map[string]string) {
	if err := s.notifier.Send(ctx, recipient, kind, payload); err != nil {
		s.log.Error().Err(err).Str("recipient", recipient).Str("kind", string(kind)).Msg("notification failed")
	}
}

func generateOTPCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpCodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpCodeDigits, n), nil
}
