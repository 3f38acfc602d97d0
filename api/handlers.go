/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave workflow and the user directory via REST. Handlers
  parse the request, take the authenticated actor from the context, call
  exactly one service method and render the result in the envelope.

ENDPOINTS:
  Auth (public):
    POST   /api/auth/login               Exchange credentials for a token
    POST   /api/auth/register            Create an account

  Users:
    GET    /api/users                    List users (privileged)
    GET    /api/users/{id}               Get user (self or privileged)
    GET    /api/users/{id}/balance       Entitlement/used/remaining
    PUT    /api/users/{id}               Partial profile update
    DELETE /api/users/{id}               Soft delete (privileged)

  Leave:
    GET    /api/leave/all                All visible requests
    GET    /api/leave/user/{userId}      Requests of one user
    POST   /api/leave/user/{userId}      File a request (PENDING)
    GET    /api/leave/{id}               Get request
    PUT    /api/leave/{id}               Edit a PENDING request
    PUT    /api/leave/{id}/approve       Approve (privileged)
    PUT    /api/leave/{id}/reject        Reject (privileged)
    DELETE /api/leave/{id}               Cancel (refunds if APPROVED)
    GET    /api/leave/{id}/history       Audit trail

  Scenarios:
    GET    /api/scenarios                List demo scenarios
    POST   /api/scenarios/load           Seed a demo scenario (privileged)

ERROR HANDLING:
  Service errors are mapped by statusFor in errors.go:
  - 400 validation, 401 unauthenticated, 403 forbidden, 404 not found
  - 409 conflict, 422 insufficient balance, 500 internal

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Leaves *timeoff.RequestService
	Users  *timeoff.UserService
	Tokens *auth.TokenService
	Health Pinger

	logger *zap.Logger
}

func NewHandler(leaves *timeoff.RequestService, users *timeoff.UserService, tokens *auth.TokenService, health Pinger) *Handler {
	return &Handler{
		Leaves: leaves,
		Users:  users,
		Tokens: tokens,
		Health: health,
		logger: zap.L().Named("api"),
	}
}

func actorFrom(r *http.Request) generic.Actor {
	actor, _ := auth.ActorFrom(r.Context())
	return actor
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return generic.NewValidationError("body", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return generic.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// =============================================================================
// HEALTH
// =============================================================================

// GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, "database unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, "ok", nil)
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Login exchanges credentials for a bearer token.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.Users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, expiresAt, err := h.Tokens.Issue(user.ID, user.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, "Login successful.", LoginDTO{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      string(user.Role),
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

// Register creates an account. Anonymous callers get a PROGRAMMER with the
// default entitlement; a privileged bearer token may set role and entitlement.
// POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toNewUser()
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.Users.Register(r.Context(), h.optionalActor(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, "User registered successfully.", toUserDTO(user))
}

// optionalActor resolves a bearer token if one is present and valid.
func (h *Handler) optionalActor(r *http.Request) generic.Actor {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return generic.Actor{}
	}
	claims, err := h.Tokens.Validate(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return generic.Actor{}
	}
	user, err := h.Users.Resolve(r.Context(), claims.Subject)
	if err != nil {
		return generic.Actor{}
	}
	return user.Actor()
}

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context(), actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]UserDTO, 0, len(users))
	for i := range users {
		out = append(out, toUserDTO(&users[i]))
	}
	writeJSON(w, http.StatusOK, "Users fetched successfully.", out)
}

// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Users.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "User fetched successfully.", toUserDTO(user))
}

// GET /api/users/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	view, err := h.Users.Balance(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Balance fetched successfully.", toBalanceDTO(view))
}

// PUT /api/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.Users.Update(r.Context(), actorFrom(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "User updated successfully.", toUserDTO(user))
}

// DELETE /api/users/{id}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Users.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "User deleted.", nil)
}

// =============================================================================
// LEAVE ENDPOINTS
// =============================================================================

// ListAllLeave returns every request for privileged actors and the caller's
// own requests otherwise.
// GET /api/leave/all
func (h *Handler) ListAllLeave(w http.ResponseWriter, r *http.Request) {
	leaves, err := h.Leaves.List(r.Context(), actorFrom(r), nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Leave requests fetched successfully.", toLeaveDTOs(leaves))
}

// GET /api/leave/user/{userId}
func (h *Handler) ListUserLeave(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	leaves, err := h.Leaves.List(r.Context(), actorFrom(r), &userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Leave requests fetched successfully.", toLeaveDTOs(leaves))
}

// POST /api/leave/user/{userId}
func (h *Handler) CreateLeave(w http.ResponseWriter, r *http.Request) {
	var body LeaveRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	fields, err := body.toFields()
	if err != nil {
		writeError(w, r, err)
		return
	}

	leave, err := h.Leaves.Create(r.Context(), actorFrom(r), chi.URLParam(r, "userId"), fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, "Leave request submitted successfully (PENDING).", toLeaveDTO(leave))
}

// GET /api/leave/{id}
func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	leave, err := h.Leaves.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Leave request fetched successfully.", toLeaveDTO(leave))
}

// PUT /api/leave/{id}
func (h *Handler) UpdateLeave(w http.ResponseWriter, r *http.Request) {
	var body LeaveRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	fields, err := body.toFields()
	if err != nil {
		writeError(w, r, err)
		return
	}

	leave, err := h.Leaves.Update(r.Context(), actorFrom(r), chi.URLParam(r, "id"), fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Leave request updated successfully.", toLeaveDTO(leave))
}

// PUT /api/leave/{id}/approve
func (h *Handler) ApproveLeave(w http.ResponseWriter, r *http.Request) {
	leave, err := h.Leaves.Approve(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Leave request approved. User's leave days updated.", toLeaveDTO(leave))
}

// PUT /api/leave/{id}/reject
func (h *Handler) RejectLeave(w http.ResponseWriter, r *http.Request) {
	leave, err := h.Leaves.Reject(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Leave request rejected.", toLeaveDTO(leave))
}

// DELETE /api/leave/{id}
func (h *Handler) CancelLeave(w http.ResponseWriter, r *http.Request) {
	if err := h.Leaves.Cancel(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Leave request cancelled (days refunded if approved).", nil)
}

// GET /api/leave/{id}/history
func (h *Handler) LeaveHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Leaves.History(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Leave history fetched successfully.", toAuditDTOs(entries))
}
