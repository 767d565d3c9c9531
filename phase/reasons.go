package phase

import (
	"errors"
	"fmt"
)

// Reason is a machine-readable code explaining why an operation was blocked.
type Reason string

const (
	ReasonNotAMember             Reason = "NOT_A_MEMBER"
	ReasonInvalidPhaseForType    Reason = "INVALID_PHASE_FOR_TYPE"
	ReasonForbidden              Reason = "FORBIDDEN"
	ReasonAlreadyTerminal        Reason = "ALREADY_TERMINAL"
	ReasonReviewRequired         Reason = "REVIEW_REQUIRED"
	ReasonOutOfOrder             Reason = "OUT_OF_ORDER"
	ReasonMissingRejectionReason Reason = "MISSING_REJECTION_REASON"
	ReasonUnknownType            Reason = "UNKNOWN_TYPE"

	ReasonReviewNotEnabled    Reason = "REVIEW_NOT_ENABLED"
	ReasonReviewNotPending    Reason = "REVIEW_NOT_PENDING"
	ReasonFieldNotEditable    Reason = "FIELD_NOT_EDITABLE"
	ReasonInvalidVersionChain Reason = "INVALID_VERSION_CHAIN"
	ReasonInvalidRole         Reason = "INVALID_ROLE"
)

// ErrUnknownType is returned by catalog loading when a type outside the
// closed set is declared, or a known type is missing.
var ErrUnknownType = errors.New("unknown work item type")

// ErrNotAMember is returned when the actor has no membership row in the team.
var ErrNotAMember = Block(ReasonNotAMember, "user is not a member of this team")

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Allow is the zero-reason allowed decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a blocked decision.
func Deny(reason Reason, format string, args ...interface{}) Decision {
	return Decision{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Err returns nil for an allowed decision and a *BlockedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &BlockedError{Decision: d}
}

// BlockedError carries a blocked Decision through error returns.
type BlockedError struct {
	Decision Decision
}

func (e *BlockedError) Error() string {
	if e.Decision.Message == "" {
		return string(e.Decision.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Decision.Reason, e.Decision.Message)
}

// Is matches any BlockedError with the same reason, so errors.Is works
// against the package-level sentinels.
func (e *BlockedError) Is(target error) bool {
	var other *BlockedError
	if !errors.As(target, &other) {
		return false
	}
	return other.Decision.Reason == e.Decision.Reason
}

// Block is shorthand for Deny(...).Err().
func Block(reason Reason, format string, args ...interface{}) error {
	return Deny(reason, format, args...).Err()
}

// ReasonOf extracts the reason from err, or "" when err is not a BlockedError.
func ReasonOf(err error) Reason {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked.Decision.Reason
	}
	return ""
}
