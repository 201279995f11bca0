package workflow

import (
	"errors"
	"fmt"
)

// Sentinel errors crossing the store boundary.
var (
	// ErrNotFound is returned when the referenced complaint, user or session
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSequence is returned by the store when an insert hits the
	// unique constraint on the sequence code. The create path retries on it.
	ErrDuplicateSequence = errors.New("duplicate sequence code")
)

type RefusalKind string

const (
	RefusalValidation          RefusalKind = "VALIDATION"
	RefusalAuthorization       RefusalKind = "AUTHORIZATION"
	RefusalState               RefusalKind = "STATE"
	RefusalAllocationExhausted RefusalKind = "ALLOCATION_EXHAUSTED"
	RefusalExpiredCredential   RefusalKind = "EXPIRED_OR_USED_CREDENTIAL"
	RefusalWrongCode           RefusalKind = "WRONG_CODE"
)

// Refusal is a structured rejection: the kind plus the specific rule (and
// field, when input-shaped) that was violated. It is a first-class outcome,
// not control flow — callers render a precise message from it.
type Refusal struct {
	Kind  RefusalKind `json:"kind"`
	Rule  string      `json:"rule"`
	Field string      `json:"field,omitempty"`
}

func (r *Refusal) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", r.Kind, r.Rule, r.Field)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Rule)
}

func refuseValidation(field, rule string) *Refusal {
	return &Refusal{Kind: RefusalValidation, Rule: rule, Field: field}
}

func refuseAuth(rule string) *Refusal {
	return &Refusal{Kind: RefusalAuthorization, Rule: rule}
}

func refuseState(rule string) *Refusal {
	return &Refusal{Kind: RefusalState, Rule: rule}
}

// AsRefusal unwraps err into a Refusal if one is anywhere in its chain.
func AsRefusal(err error) (*Refusal, bool) {
	var r *Refusal
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
