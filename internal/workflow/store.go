package workflow

import (
	"context"
	"time"

	"civicdesk/internal/models"
)

// Tx is the persistence surface the engine drives. Inside InTx the methods
// run on one transaction; on a Store directly they run auto-commit.
//
// Lookup methods return (nil, nil) when the row does not exist.
type Tx interface {
	GetComplaint(ctx context.Context, id string) (*models.Complaint, error)
	GetComplaintBySequence(ctx context.Context, code string) (*models.Complaint, error)
	// InsertComplaint fills ID/CreatedAt and returns ErrDuplicateSequence on a
	// unique-constraint hit on the sequence code.
	InsertComplaint(ctx context.Context, c *models.Complaint) error
	UpdateComplaint(ctx context.Context, c *models.Complaint) error
	SequenceCodes(ctx context.Context, prefix string) ([]string, error)

	AppendStatusLog(ctx context.Context, e *models.StatusLogEntry) error

	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	// AssignableStaff lists active users of role in the ward with their
	// current non-terminal complaint counts.
	AssignableStaff(ctx context.Context, wardID, role string) ([]StaffLoad, error)

	// InvalidateOTPSessions forces expiry of unverified sessions for the pair.
	InvalidateOTPSessions(ctx context.Context, email string, purpose models.OTPPurpose, asOf time.Time) error
	InsertOTPSession(ctx context.Context, s *models.OTPSession) error
	// LatestOTPSession returns the most recently issued session for the pair,
	// verified or not, so the engine can tell "used" from "wrong code".
	LatestOTPSession(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPSession, error)
	MarkOTPVerified(ctx context.Context, id, userID string, at time.Time) error

	SystemConfig(ctx context.Context) (*models.SystemConfig, error)
	ComplaintType(ctx context.Context, name string) (*models.ComplaintType, error)
}

// Store adds the transactional boundary. InTx commits when fn returns nil and
// rolls everything back otherwise — guest phase 1 leans on that to never leave
// a complaint behind with no way to verify it.
type Store interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// CaptchaVerifier is the one-shot verify/consume contract for public-facing
// creates. The challenge is consumed whether it succeeds or fails.
type CaptchaVerifier interface {
	Verify(ctx context.Context, challengeID, answer string) error
}
