package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"uyim.org/internal/audit"
	"uyim.org/internal/occupancy"
)

type ownershipRequest struct {
	ForUser     string `json:"for_user,omitempty"`
	ApartmentID string `json:"apartment_id"`
	ShareBP     int32  `json:"share_bp"`
	StartDate   string `json:"start_date"`
}

type tenancyRequest struct {
	ForUser     string `json:"for_user,omitempty"`
	ApartmentID string `json:"apartment_id"`
	LeaseStart  string `json:"lease_start"`
	LeaseEnd    string `json:"lease_end"`
	AutoRenew   bool   `json:"auto_renew"`
}

type transferRequest struct {
	ApartmentID string `json:"apartment_id"`
	FromUser    string `json:"from_user"`
	ToUser      string `json:"to_user"`
	ShareBP     int32  `json:"share_bp"`
}

type decisionRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

type extendRequest struct {
	NewEnd string `json:"new_end"`
	Reason string `json:"reason,omitempty"`
}

type endRequest struct {
	EndDate string `json:"end_date"`
}

// handleRequestResource routes /v1/requests/{kind} (submission) and
// /v1/requests/{kind}/{id}/decision, /v1/requests/transfer/{id}/complete.
func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch len(parts) {
	case 1:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.submitRequest(w, r, occupancy.RequestKind(parts[0]))
	case 3:
		kind := occupancy.RequestKind(parts[0])
		id := parts[1]
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		switch parts[2] {
		case "decision":
			a.decideRequest(w, r, kind, id)
		case "complete":
			if kind != occupancy.KindTransfer {
				writeError(w, r, http.StatusNotFound, "resource not found")
				return
			}
			a.completeTransfer(w, r, id)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) submitRequest(w http.ResponseWriter, r *http.Request, kind occupancy.RequestKind) {
	actorID := callerID(w, r)
	if actorID == "" {
		return
	}

	switch kind {
	case occupancy.KindOwnership:
		var req ownershipRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		start, err := parseDate(req.StartDate)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
			return
		}
		o, err := a.engine.SubmitOwnership(r.Context(), actorID, req.ForUser, req.ApartmentID, req.ShareBP, start)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/requests/ownership/"+o.ID)
		writeJSON(w, http.StatusCreated, o)

	case occupancy.KindTenancy:
		var req tenancyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		leaseStart, err := parseDate(req.LeaseStart)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "lease_start must be YYYY-MM-DD")
			return
		}
		leaseEnd, err := parseDate(req.LeaseEnd)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "lease_end must be YYYY-MM-DD")
			return
		}
		t, err := a.engine.SubmitTenancy(r.Context(), actorID, req.ForUser, req.ApartmentID, leaseStart, leaseEnd, req.AutoRenew)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/requests/tenancy/"+t.ID)
		writeJSON(w, http.StatusCreated, t)

	case occupancy.KindTransfer:
		var req transferRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		tr, err := a.engine.SubmitTransfer(r.Context(), actorID, req.ApartmentID, req.FromUser, req.ToUser, req.ShareBP)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/requests/transfer/"+tr.ID)
		writeJSON(w, http.StatusCreated, tr)

	default:
		writeError(w, r, http.StatusNotFound, "unknown request kind")
	}
}

func (a *API) decideRequest(w http.ResponseWriter, r *http.Request, kind occupancy.RequestKind, id string) {
	actorID := callerID(w, r)
	if actorID == "" {
		return
	}
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.engine.Decide(r.Context(), actorID, kind, id, req.Approve, req.Reason)
	audit.LogDecision(r.Context(), string(kind), id, req.Approve, occupancy.CodeOf(err))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) completeTransfer(w http.ResponseWriter, r *http.Request, id string) {
	actorID := callerID(w, r)
	if actorID == "" {
		return
	}
	tr, err := a.engine.CompleteTransfer(r.Context(), actorID, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "occupancy.transfer.completed", map[string]any{
		"transfer_id": tr.ID,
	})
	writeJSON(w, http.StatusOK, tr)
}

// handlePendingQueue serves GET /v1/requests/pending.
func (a *API) handlePendingQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actorID := callerID(w, r)
	if actorID == "" {
		return
	}
	kind := occupancy.RequestKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 500 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = v
	}

	items, err := a.engine.ListPending(r.Context(), actorID, kind, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []occupancy.PendingRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"as_of": time.Now().UTC(),
	})
}

// handleOwnershipResource routes POST /v1/ownerships/{id}/end.
func (a *API) handleOwnershipResource(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResource(r.URL.Path, "/v1/ownerships/")
	if !ok || action != "end" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID := callerID(w, r)
	if actorID == "" {
		return
	}
	var req endRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}
	o, err := a.engine.EndOwnership(r.Context(), actorID, id, endDate)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleTenancyResource routes POST /v1/tenancies/{id}/extend and
// /v1/tenancies/{id}/end.
func (a *API) handleTenancyResource(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResource(r.URL.Path, "/v1/tenancies/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID := callerID(w, r)
	if actorID == "" {
		return
	}

	switch action {
	case "extend":
		var req extendRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		newEnd, err := parseDate(req.NewEnd)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "new_end must be YYYY-MM-DD")
			return
		}
		t, err := a.engine.ExtendLease(r.Context(), actorID, id, newEnd, req.Reason)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	case "end":
		var req endRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		endDate, err := parseDate(req.EndDate)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
			return
		}
		t, err := a.engine.EndTenancy(r.Context(), actorID, id, endDate)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// --- notifications ---------------------------------------------------------

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID := callerID(w, r)
	if userID == "" {
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	items, err := a.engine.Notifications(r.Context(), userID, unreadOnly)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []occupancy.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleNotificationResource(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResource(r.URL.Path, "/v1/notifications/")
	if !ok || action != "read" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID := callerID(w, r)
	if userID == "" {
		return
	}
	if err := a.engine.MarkNotificationRead(r.Context(), userID, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "read"})
}

// --- helpers ---------------------------------------------------------------

// splitResource parses {prefix}{id}/{action}.
func splitResource(path, prefix string) (id, action string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(raw))
}
