package models

import "time"

type OTPPurpose string

const (
	PurposeGuestVerification OTPPurpose = "GUEST_VERIFICATION"
	PurposePasswordReset     OTPPurpose = "PASSWORD_RESET"
)

// OTPSession holds one issued verification code. At most one unverified,
// unexpired session may exist per (email, purpose); issuing a new one forces
// prior unverified sessions for that pair past their expiry.
type OTPSession struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone,omitempty"`
	Code        string     `json:"-"`
	Purpose     OTPPurpose `json:"purpose"`
	ComplaintID *string    `json:"complaintId,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
	BoundUserID *string    `json:"boundUserId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Expired checks expiry lazily at read time; no background sweep is needed
// for correctness.
func (s *OTPSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
