package handle

import (
	"errors"
	"net/http"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/Martinhdeez/plane-assistant/api/internal/auth"
	"github.com/Martinhdeez/plane-assistant/api/internal/store"
)

const minPasswordLen = 6

type TokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   time.Time  `json:"expires_at"`
	User        store.User `json:"user"`
}

type UserRequest struct {
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Role     string  `json:"role,omitempty"`
	Division *string `json:"division,omitempty"`
}

func (u *UserRequest) validate() error {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.TrimSpace(u.Email)
	switch {
	case u.Username == "":
		return errors.New("username is required")
	case len(u.Password) < minPasswordLen:
		return errors.New("password must be at least 6 characters")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return errors.New("invalid email")
	}
	if u.Role != "" && !auth.ValidRole(u.Role) {
		return errors.New("invalid role")
	}
	return nil
}

// ProfileUpdate changes the caller's own account. Nil fields stay as they are.
type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
}

type PasswordUpdate struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// AdminUserUpdate is applied by an administrator. An empty division clears it.
type AdminUserUpdate struct {
	Email    *string `json:"email,omitempty"`
	Role     *string `json:"role,omitempty"`
	Division *string `json:"division,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type AssignRequest struct {
	ClerkID     int64   `json:"clerk_id"`
	OperatorIDs []int64 `json:"operator_ids"`
}

func (h *Handle) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	u, err := h.Users.GetByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		internalError(w, r, err)
		return
	}
	if err != nil || auth.CheckPassword(u.PasswordHash, req.Password) != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "incorrect email or password")
		return
	}
	if !u.IsActive {
		writeError(w, http.StatusForbidden, "inactive user")
		return
	}
	tok, exp, err := h.Tokens.Issue(u.ID, u.Role)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: tok, TokenType: "bearer", ExpiresAt: exp, User: u})
}

// Register creates a maintenance operator account.
func (h *Handle) Register(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	req.Role = auth.RoleMaintenance
	h.createUser(w, r, req)
}

// InitAdmin creates the first administrator. It is refused once one exists.
func (h *Handle) InitAdmin(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	exists, err := h.Users.AdminExists(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	if exists {
		writeError(w, http.StatusForbidden, "an administrator already exists")
		return
	}
	req.Role = auth.RoleAdmin
	h.createUser(w, r, req)
}

func (h *Handle) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleMaintenance
	}
	h.createUser(w, r, req)
}

func (h *Handle) createUser(w http.ResponseWriter, r *http.Request, req UserRequest) {
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		internalError(w, r, err)
		return
	}
	u := store.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		Division:     req.Division,
		IsActive:     true,
	}
	if err := h.Users.Create(r.Context(), &u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "username or email already registered")
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handle) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.Get(r.Context(), principal(r).UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "user no longer exists")
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handle) ListUsers(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != "" && !auth.ValidRole(role) {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	users, err := h.Users.List(r.Context(), role)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Assign replaces the maintenance operators an office clerk can follow.
func (h *Handle) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	ctx := r.Context()
	if !h.requireClerk(w, r, req.ClerkID) {
		return
	}
	for _, id := range req.OperatorIDs {
		op, err := h.Users.Get(ctx, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			internalError(w, r, err)
			return
		}
		if err != nil || op.Role != auth.RoleMaintenance {
			writeError(w, http.StatusBadRequest, "some operator ids are invalid or not maintenance users")
			return
		}
	}
	if err := h.Users.SetAssignments(ctx, req.ClerkID, req.OperatorIDs); err != nil {
		internalError(w, r, err)
		return
	}
	ids := req.OperatorIDs
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"clerk_id": req.ClerkID, "operator_ids": ids})
}

func (h *Handle) Assigned(w http.ResponseWriter, r *http.Request) {
	clerkID, ok := pathID(r, "clerkID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid clerk id")
		return
	}
	if !h.requireClerk(w, r, clerkID) {
		return
	}
	ops, err := h.Users.AssignedOperators(r.Context(), clerkID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *Handle) requireClerk(w http.ResponseWriter, r *http.Request, id int64) bool {
	u, err := h.Users.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "office clerk not found")
		return false
	case err != nil:
		internalError(w, r, err)
		return false
	case u.Role != auth.RoleClerk:
		writeError(w, http.StatusBadRequest, "user is not an office clerk")
		return false
	}
	return true
}

// GetUser shows an account to itself, to admins and to office clerks the
// user is assigned to. Anyone else gets 404.
func (h *Handle) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "userID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	ctx := r.Context()
	u, err := h.Users.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	p := principal(r)
	visible := p.UserID == id || p.Role == auth.RoleAdmin
	if !visible && p.Role == auth.RoleClerk {
		ops, err := h.Users.AssignedOperators(ctx, p.UserID)
		if err != nil {
			internalError(w, r, err)
			return
		}
		visible = slices.ContainsFunc(ops, func(o store.User) bool { return o.ID == id })
	}
	if !visible {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handle) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if req.Username != nil {
		name := strings.TrimSpace(*req.Username)
		if name == "" {
			writeError(w, http.StatusBadRequest, "username is required")
			return
		}
		u.Username = name
	}
	if req.Email != nil {
		email, err := cleanEmail(*req.Email)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		u.Email = email
	}
	h.saveUser(w, r, &u)
}

func (h *Handle) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if auth.CheckPassword(u.PasswordHash, req.CurrentPassword) != nil {
		writeError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}
	if len(req.NewPassword) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if err := h.Users.SetPassword(r.Context(), u.ID, hash); err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated successfully"})
}

// UpdateUser edits any account. Admins cannot deactivate themselves or
// change their own role.
func (h *Handle) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req AdminUserUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	u, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	self := u.ID == principal(r).UserID
	switch {
	case self && req.IsActive != nil && !*req.IsActive:
		writeError(w, http.StatusBadRequest, "cannot deactivate your own account")
		return
	case self && req.Role != nil && *req.Role != u.Role:
		writeError(w, http.StatusBadRequest, "cannot change your own role")
		return
	case req.Role != nil && !auth.ValidRole(*req.Role):
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if req.Email != nil {
		email, err := cleanEmail(*req.Email)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		u.Email = email
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if req.Division != nil {
		u.Division = trimmed(req.Division)
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}
	h.saveUser(w, r, &u)
}

// DeleteUser deactivates an account; its chats and histories stay.
func (h *Handle) DeleteUser(w http.ResponseWriter, r *http.Request) {
	u, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	if u.ID == principal(r).UserID {
		writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}
	if err := h.Users.SetActive(r.Context(), u.ID, false); err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "user deactivated successfully"})
}

func (h *Handle) Divisions(w http.ResponseWriter, r *http.Request) {
	divs, err := h.Users.Divisions(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"divisions": divs})
}

func (h *Handle) currentUser(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	u, err := h.Users.Get(r.Context(), principal(r).UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "user no longer exists")
		return u, false
	}
	if err != nil {
		internalError(w, r, err)
		return u, false
	}
	return u, true
}

func (h *Handle) targetUser(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	id, ok := pathID(r, "userID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return store.User{}, false
	}
	u, err := h.Users.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return u, false
	}
	if err != nil {
		internalError(w, r, err)
		return u, false
	}
	return u, true
}

func (h *Handle) saveUser(w http.ResponseWriter, r *http.Request, u *store.User) {
	err := h.Users.Update(r.Context(), u)
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "email already registered")
	case errors.Is(err, store.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, "username already taken")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusBadRequest, "username or email already registered")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case err != nil:
		internalError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, u)
	}
}

func cleanEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, err := mail.ParseAddress(s); err != nil {
		return "", errors.New("invalid email")
	}
	return s, nil
}
