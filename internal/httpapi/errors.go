package httpapi

import (
	"net/http"

	"uyim.org/internal/occupancy"
)

// statusForCode maps stable domain codes onto HTTP statuses. Content
// problems are 400, authorization refusals 403, missing rows 404, and
// state-dependent refusals 409.
func statusForCode(code string) int {
	switch code {
	case occupancy.CodeValidation,
		occupancy.CodeShareInvalid,
		occupancy.CodeLeaseDates,
		occupancy.CodeLeaseExtension,
		occupancy.CodeTransferSelf,
		occupancy.CodeReasonRequired:
		return http.StatusBadRequest
	case occupancy.CodeForbidden,
		occupancy.CodeConflict,
		occupancy.CodeRegistrationGate:
		return http.StatusForbidden
	case occupancy.CodeNotFound:
		return http.StatusNotFound
	case occupancy.CodeDuplicate,
		occupancy.CodeFullOwners,
		occupancy.CodeFullTenants,
		occupancy.CodeInsufficientShare,
		occupancy.CodeTargetIsOwner,
		occupancy.CodeAlreadyApproved,
		occupancy.CodeAlreadyDecided,
		occupancy.CodeNotPending,
		occupancy.CodeNotApproved,
		occupancy.CodeAlreadyCompleted,
		occupancy.CodeRelationshipClosed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders a coded engine error; unknown errors become an
// opaque 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := occupancy.CodeOf(err)
	if code == "" {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	payload := map[string]any{
		"error": err.Error(),
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, statusForCode(code), payload)
}
