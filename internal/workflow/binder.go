package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"civicdesk/internal/models"
	"civicdesk/internal/notify"
)

// -----------------------------------------------------------------------------
// Guest two-phase flow
// -----------------------------------------------------------------------------

type GuestSubmission struct {
	CreateInput
	CaptchaID     string
	CaptchaAnswer string
}

type GuestReceipt struct {
	Complaint  *models.Complaint  `json:"complaint"`
	OTPSession *models.OTPSession `json:"otpSession"`
}

// SubmitGuest is phase 1: create the complaint unbound, issue a one-time
// code, dispatch it. Complaint, session and dispatch succeed together or the
// transaction rolls all of it back — an unverifiable complaint must never
// exist.
func (s *Service) SubmitGuest(ctx context.Context, in GuestSubmission) (*GuestReceipt, error) {
	if s.captcha != nil {
		if err := s.captcha.Verify(ctx, in.CaptchaID, in.CaptchaAnswer); err != nil {
			return nil, refuseValidation("captcha", err.Error())
		}
	}
	if r := in.validate(); r != nil {
		return nil, r
	}
	if strings.TrimSpace(in.ContactEmail) == "" {
		return nil, refuseValidation("contactEmail", "email is required for guest submissions")
	}
	if strings.TrimSpace(in.ContactName) == "" {
		return nil, refuseValidation("contactName", "name is required for guest submissions")
	}

	var session *models.OTPSession
	c, err := s.createWithRetry(ctx, in.CreateInput, nil, func(tx Tx, c *models.Complaint) error {
		var err error
		session, err = s.issueOTP(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifyCreated(ctx, c)
	return &GuestReceipt{Complaint: c, OTPSession: session}, nil
}

// issueOTP invalidates prior unverified sessions for the pair and inserts a
// fresh one in the same transaction, then dispatches the code. A dispatch
// failure propagates so the caller's transaction rolls back.
func (s *Service) issueOTP(ctx context.Context, tx Tx, c *models.Complaint) (*models.OTPSession, error) {
	now := s.now()
	if err := tx.InvalidateOTPSessions(ctx, c.ContactEmail, models.PurposeGuestVerification, now); err != nil {
		return nil, err
	}

	code, err := generateOTPCode()
	if err != nil {
		return nil, err
	}
	session := &models.OTPSession{
		Email:       c.ContactEmail,
		Phone:       c.ContactPhone,
		Code:        code,
		Purpose:     models.PurposeGuestVerification,
		ComplaintID: &c.ID,
		ExpiresAt:   now.Add(otpTTL),
		CreatedAt:   now,
	}
	if err := tx.InsertOTPSession(ctx, session); err != nil {
		return nil, err
	}

	if err := s.notifier.Send(ctx, c.ContactEmail, notify.KindOTPCode, map[string]string{
		"code":           code,
		"sequenceCode":   c.SequenceCode,
		"expiresMinutes": strconv.Itoa(int(otpTTL / time.Minute)),
	}); err != nil {
		return nil, fmt.Errorf("otp dispatch: %w", err)
	}
	return session, nil
}

// VerifyGuest is phase 2: match the code, find-or-create the citizen, bind
// the complaint, burn the session — atomically. A used or expired code is
// refused distinctly from a wrong one so the caller can offer "resend" versus
// "retype".
func (s *Service) VerifyGuest(ctx context.Context, email, code, complaintRef string) (*models.User, *models.Complaint, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user *models.User
	var c *models.Complaint
	var created bool
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		c, err = s.lookupComplaint(ctx, tx, complaintRef)
		if err != nil {
			return err
		}
		if c.SubmittedByID != nil {
			return refuseState("complaint is already bound to a user")
		}
		// The code proves control of the submitter's inbox, nothing more; it
		// must never bind a complaint submitted under a different email.
		if c.ContactEmail != email {
			return refuseValidation("email", "email does not match the complaint")
		}

		sess, err := tx.LatestOTPSession(ctx, email, models.PurposeGuestVerification)
		if err != nil {
			return err
		}
		now := s.now()
		switch {
		case sess == nil:
			return &Refusal{Kind: RefusalExpiredCredential, Rule: "no verification session for this email"}
		case sess.Verified:
			return &Refusal{Kind: RefusalExpiredCredential, Rule: "code already used"}
		case sess.Expired(now):
			return &Refusal{Kind: RefusalExpiredCredential, Rule: "code expired"}
		case sess.ComplaintID != nil && *sess.ComplaintID != c.ID:
			return &Refusal{Kind: RefusalExpiredCredential, Rule: "code was issued for a different complaint"}
		case sess.Code != code:
			return &Refusal{Kind: RefusalWrongCode, Rule: "incorrect code"}
		}

		user, err = tx.FindUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if user == nil {
			user = &models.User{
				Email:     email,
				Name:      c.ContactName,
				Phone:     c.ContactPhone,
				Role:      models.RoleCitizen,
				Active:    true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.CreateUser(ctx, user); err != nil {
				return err
			}
			created = true
		}

		c.SubmittedByID = &user.ID
		c.UpdatedAt = now
		if err := tx.UpdateComplaint(ctx, c); err != nil {
			return err
		}
		if err := tx.MarkOTPVerified(ctx, sess.ID, user.ID, now); err != nil {
			return err
		}

		from := c.Status
		return tx.AppendStatusLog(ctx, &models.StatusLogEntry{
			ComplaintID: c.ID,
			FromStatus:  &from,
			ToStatus:    c.Status,
			ActorID:     &user.ID,
			Comment:     "submitter identity verified",
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	if created {
		s.send(ctx, user.Email, notify.KindRegistrationInfo, map[string]string{
			"email":        user.Email,
			"sequenceCode": c.SequenceCode,
		})
	}
	return user, c, nil
}

// ResendGuestCode reissues the code for a still-unbound complaint. It never
// creates a second complaint; it only cycles the session.
func (s *Service) ResendGuestCode(ctx context.Context, email, complaintRef string) (*models.OTPSession, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var session *models.OTPSession
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := s.lookupComplaint(ctx, tx, complaintRef)
		if err != nil {
			return err
		}
		if c.SubmittedByID != nil {
			return refuseState("complaint is already verified")
		}
		if c.ContactEmail != email {
			return refuseValidation("email", "email does not match the complaint")
		}
		session, err = s.issueOTP(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// lookupComplaint resolves a public reference: sequence code first, opaque id
// as fallback.
func (s *Service) lookupComplaint(ctx context.Context, tx Tx, ref string) (*models.Complaint, error) {
	c, err := tx.GetComplaintBySequence(ctx, ref)
	if err != nil {
		return nil, err
	}
	if c == nil {
		if c, err = tx.GetComplaint(ctx, ref); err != nil {
			return nil, err
		}
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}
