package httpapi

import (
	"net/http"
	"strings"
	"time"

	"uyim.org/internal/audit"
	"uyim.org/internal/auth"
	"uyim.org/internal/occupancy"
)

type registerRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleRegister files a registration request. The account stays unusable
// until the committee approves it.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Password) < 8 {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "password hashing failed")
		return
	}

	u, err := a.engine.Register(r.Context(), req.Email, req.FullName, hash)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id": u.ID,
		"email":   u.Email,
	})
	w.Header().Set("Location", "/v1/requests/registration/"+u.ID)
	writeJSON(w, http.StatusCreated, u)
}

// handleAuthToken exchanges credentials for a JWT. A user whose
// registration is still pending (or was rejected) passes the password check
// but is refused a token with REGISTRATION_PENDING.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	u, err := a.store.UserByEmail(r.Context(), email)
	if err != nil {
		// Indistinguishable from a bad password.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.VerifyPassword(u.PasswordHash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if u.Registration != occupancy.StateApproved {
		writeDomainError(w, r, occupancy.Errf(occupancy.CodeRegistrationGate,
			"registration is %s; wait for committee review", u.Registration))
		return
	}

	assignments, err := a.store.Assignments(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "role lookup failed")
		return
	}
	roles := occupancy.RoleNames(assignments)
	if len(roles) == 0 {
		roles = []string{"resident"}
	}

	token, err := auth.GenerateToken(u.ID, roles, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    u.ID,
		"roles":      roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
