/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Every
  response is wrapped in Envelope{code, msg, data}.

NAMING CONVENTION:
  - *DTO: Response payloads placed in Envelope.Data
  - *Request: Request body types from clients

VALIDATION:
  Shape checks (date format, known enum values) happen when a *Request is
  converted to its domain type. Business rules stay in package timeoff.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type RegisterRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role,omitempty"`
	Entitlement *int   `json:"annual_leave_entitlement,omitempty"`
}

func (req RegisterRequest) toNewUser() (timeoff.NewUser, error) {
	role, err := generic.ParseRole(req.Role)
	if err != nil {
		return timeoff.NewUser{}, err
	}
	return timeoff.NewUser{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Role:        role,
		Entitlement: req.Entitlement,
	}, nil
}

// =============================================================================
// USERS
// =============================================================================

// UserDTO never carries the password hash.
type UserDTO struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	Email                  string          `json:"email"`
	Role                   string          `json:"role"`
	Status                 string          `json:"status"`
	AnnualLeaveEntitlement int             `json:"annual_leave_entitlement"`
	AnnualLeaveUsed        decimal.Decimal `json:"annual_leave_used"`
	CreatedBy              string          `json:"created_by"`
	CreatedAt              string          `json:"created_at"`
	UpdatedBy              string          `json:"updated_by"`
	UpdatedAt              string          `json:"updated_at"`
}

func toUserDTO(u *timeoff.User) UserDTO {
	return UserDTO{
		ID:                     u.ID,
		Name:                   u.Name,
		Email:                  u.Email,
		Role:                   string(u.Role),
		Status:                 string(u.Status),
		AnnualLeaveEntitlement: u.Balance.Entitlement,
		AnnualLeaveUsed:        u.Balance.Used,
		CreatedBy:              u.Audit.CreatedBy,
		CreatedAt:              formatTimestamp(u.Audit.CreatedAt),
		UpdatedBy:              u.Audit.UpdatedBy,
		UpdatedAt:              formatTimestamp(u.Audit.UpdatedAt),
	}
}

type UpdateUserRequest struct {
	Name        *string `json:"name,omitempty"`
	Email       *string `json:"email,omitempty"`
	Password    *string `json:"password,omitempty"`
	Role        *string `json:"role,omitempty"`
	Status      *string `json:"status,omitempty"`
	Entitlement *int    `json:"annual_leave_entitlement,omitempty"`
}

func (req UpdateUserRequest) toPatch() (timeoff.UserPatch, error) {
	patch := timeoff.UserPatch{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Entitlement: req.Entitlement,
	}
	if req.Role != nil {
		role, err := generic.ParseRole(*req.Role)
		if err != nil {
			return timeoff.UserPatch{}, err
		}
		patch.Role = &role
	}
	if req.Status != nil {
		status, err := timeoff.ParseUserStatus(*req.Status)
		if err != nil {
			return timeoff.UserPatch{}, err
		}
		patch.Status = &status
	}
	return patch, nil
}

type BalanceDTO struct {
	UserID      string          `json:"user_id"`
	Entitlement int             `json:"entitlement"`
	Used        decimal.Decimal `json:"used"`
	Remaining   decimal.Decimal `json:"remaining"`
}

func toBalanceDTO(b timeoff.BalanceView) BalanceDTO {
	return BalanceDTO{
		UserID:      b.UserID,
		Entitlement: b.Entitlement,
		Used:        b.Used,
		Remaining:   b.Remaining,
	}
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

// LeaveRequestBody is the create/update payload. Duration accepts a JSON
// number or a quoted decimal ("0.5").
type LeaveRequestBody struct {
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	Duration    decimal.Decimal `json:"duration"`
	Type        string          `json:"type,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (b LeaveRequestBody) toFields() (timeoff.LeaveFields, error) {
	start, err := generic.ParseDate(b.StartDate)
	if err != nil {
		return timeoff.LeaveFields{}, generic.NewValidationError("start_date", "invalid date format, expected YYYY-MM-DD")
	}
	end, err := generic.ParseDate(b.EndDate)
	if err != nil {
		return timeoff.LeaveFields{}, generic.NewValidationError("end_date", "invalid date format, expected YYYY-MM-DD")
	}
	leaveType, err := timeoff.ParseLeaveType(b.Type)
	if err != nil {
		return timeoff.LeaveFields{}, err
	}
	return timeoff.LeaveFields{
		StartDate:   start,
		EndDate:     end,
		Duration:    b.Duration,
		Type:        leaveType,
		Reason:      b.Reason,
		Description: b.Description,
	}, nil
}

type LeaveDTO struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	Duration    decimal.Decimal `json:"duration"`
	Type        string          `json:"type"`
	Reason      string          `json:"reason"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   string          `json:"created_at"`
	UpdatedBy   string          `json:"updated_by"`
	UpdatedAt   string          `json:"updated_at"`
}

func toLeaveDTO(r *timeoff.LeaveRequest) LeaveDTO {
	return LeaveDTO{
		ID:          r.ID,
		UserID:      r.UserID,
		StartDate:   r.StartDate.String(),
		EndDate:     r.EndDate.String(),
		Duration:    r.Duration,
		Type:        string(r.Type),
		Reason:      r.Reason,
		Description: r.Description,
		Status:      string(r.Status),
		CreatedBy:   r.Audit.CreatedBy,
		CreatedAt:   formatTimestamp(r.Audit.CreatedAt),
		UpdatedBy:   r.Audit.UpdatedBy,
		UpdatedAt:   formatTimestamp(r.Audit.UpdatedAt),
	}
}

func toLeaveDTOs(rs []timeoff.LeaveRequest) []LeaveDTO {
	out := make([]LeaveDTO, 0, len(rs))
	for i := range rs {
		out = append(out, toLeaveDTO(&rs[i]))
	}
	return out
}

type AuditEntryDTO struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	ActorID   string            `json:"actor_id"`
	Action    string            `json:"action"`
	RequestID string            `json:"request_id"`
	UserID    string            `json:"user_id"`
	Payload   map[string]string `json:"payload,omitempty"`
}

func toAuditDTOs(es []timeoff.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, 0, len(es))
	for _, e := range es {
		out = append(out, AuditEntryDTO{
			ID:        e.ID,
			Timestamp: formatTimestamp(e.Timestamp),
			ActorID:   e.ActorID,
			Action:    string(e.Action),
			RequestID: e.RequestID,
			UserID:    e.UserID,
			Payload:   e.Payload,
		})
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
