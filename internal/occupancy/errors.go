package occupancy

import (
	"errors"
	"fmt"
)

// Stable machine-readable codes surfaced to callers. None of these are
// retried automatically.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeShareInvalid       = "OWNERSHIP_PERCENTAGE_INVALID"
	CodeFullOwners         = "APARTMENT_FULL_OWNERS"
	CodeFullTenants        = "APARTMENT_FULL_TENANTS"
	CodeLeaseDates         = "LEASE_DATES_INVALID"
	CodeLeaseExtension     = "LEASE_EXTENSION_INVALID"
	CodeInsufficientShare  = "TRANSFER_INSUFFICIENT_SHARE"
	CodeTransferSelf       = "TRANSFER_SELF"
	CodeTargetIsOwner      = "TRANSFER_TARGET_IS_OWNER"
	CodeDuplicate          = "DUPLICATE_RELATIONSHIP"
	CodeAlreadyApproved    = "ALREADY_APPROVED"
	CodeAlreadyDecided     = "ALREADY_DECIDED"
	CodeNotPending         = "NOT_PENDING"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "PST_CONFLICT"
	CodeReasonRequired     = "REASON_REQUIRED"
	CodeRegistrationGate   = "REGISTRATION_PENDING"
	CodeNotApproved        = "TRANSFER_NOT_APPROVED"
	CodeAlreadyCompleted   = "TRANSFER_ALREADY_COMPLETED"
	CodeRelationshipClosed = "RELATIONSHIP_CLOSED"
)

// Error is a coded domain error. Code is stable; Message is for humans.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Errf builds a coded error with a formatted message.
func Errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the stable code from err, or "" when err is not a domain
// error.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool { return CodeOf(err) == code }

var (
	// ErrNotFound is returned when the target entity does not exist.
	ErrNotFound = &Error{Code: CodeNotFound, Message: "not found"}
	// ErrForbidden is returned before any state is read when the actor
	// lacks a required capability.
	ErrForbidden = &Error{Code: CodeForbidden, Message: "missing capability"}
)
