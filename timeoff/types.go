// Package timeoff implements the annual-leave domain: users with a leave
// balance, leave requests, and the workflow that moves requests through
// their statuses while keeping the owner's balance in lock-step.
package timeoff

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// LEAVE TYPE
// =============================================================================

type LeaveType string

const (
	LeaveAnnual    LeaveType = "ANNUAL"
	LeaveSick      LeaveType = "SICK"
	LeaveUnpaid    LeaveType = "UNPAID"
	LeavePersonal  LeaveType = "PERSONAL"
	LeaveMaternity LeaveType = "MATERNITY"
)

var leaveTypes = map[LeaveType]bool{
	LeaveAnnual:    true,
	LeaveSick:      true,
	LeaveUnpaid:    true,
	LeavePersonal:  true,
	LeaveMaternity: true,
}

// ParseLeaveType is case-insensitive. Empty input yields LeaveAnnual.
func ParseLeaveType(s string) (LeaveType, error) {
	t := LeaveType(strings.ToUpper(strings.TrimSpace(s)))
	if t == "" {
		return LeaveAnnual, nil
	}
	if !leaveTypes[t] {
		return "", generic.NewValidationError("type", fmt.Sprintf("unknown leave type %q", s))
	}
	return t, nil
}

// =============================================================================
// REQUEST STATUS - State machine
// =============================================================================
//
//         create            approve
//   ∅ ───────────► PENDING ───────────► APPROVED
//                     │                     │
//                     │ reject              │ cancel
//                     ▼                     ▼
//                 REJECTED ──cancel──►  CANCELED ◄──cancel── PENDING
//

type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
	StatusCanceled RequestStatus = "CANCELED"
)

var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusApproved, StatusRejected, StatusCanceled},
	StatusApproved: {StatusCanceled},
	StatusRejected: {StatusCanceled},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to RequestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// =============================================================================
// USER
// =============================================================================

type UserStatus string

const (
	UserActive UserStatus = "ACTIVE"
	UserLocked UserStatus = "LOCKED"
)

// ParseUserStatus is case-insensitive.
func ParseUserStatus(s string) (UserStatus, error) {
	st := UserStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case UserActive, UserLocked:
		return st, nil
	}
	return "", generic.NewValidationError("status", fmt.Sprintf("unknown user status %q", s))
}

// DefaultEntitlement is used when registration does not specify one.
const DefaultEntitlement = 14

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         generic.Role
	Status       UserStatus
	Balance      generic.Balance
	Deleted      bool
	Audit        generic.Audit

	// Version is the optimistic-lock counter. Zero means never persisted.
	Version int
}

func (u *User) AccountID() string              { return u.ID }
func (u *User) LeaveBalance() *generic.Balance { return &u.Balance }

var _ generic.Account = (*User)(nil)

// CanOwnRequests reports whether new leave may be filed for this user.
func (u *User) CanOwnRequests() bool {
	return !u.Deleted
}

// CanAuthenticate reports whether the user may log in or use a token.
func (u *User) CanAuthenticate() bool {
	return !u.Deleted && u.Status == UserActive
}

// Actor is the identity this user acts as.
func (u *User) Actor() generic.Actor {
	return generic.Actor{ID: u.ID, Name: u.Name, Role: u.Role}
}

// NormalizeEmail is the case-insensitive lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type LeaveRequest struct {
	ID          string
	UserID      string
	StartDate   generic.Date
	EndDate     generic.Date
	Duration    decimal.Decimal
	Type        LeaveType
	Reason      string
	Description string
	Status      RequestStatus
	Deleted     bool
	Audit       generic.Audit

	// Version is the optimistic-lock counter. Zero means never persisted.
	Version int
}

// LeaveFields is the caller-supplied part of a request, used by create and update.
type LeaveFields struct {
	StartDate   generic.Date
	EndDate     generic.Date
	Duration    decimal.Decimal
	Type        LeaveType
	Reason      string
	Description string
}

// Duration limits. The exponent checks run before any comparison that
// would rescale the coefficient.
const (
	MaxLeaveDays      = 366
	maxDurationPlaces = 4
)

// Validate checks the shape of the fields.
func (f LeaveFields) Validate() error {
	if !f.Duration.IsPositive() {
		return generic.NewValidationError("duration", "leave duration must be greater than 0")
	}
	if f.Duration.Exponent() < -maxDurationPlaces {
		return generic.NewValidationError("duration", fmt.Sprintf("at most %d decimal places", maxDurationPlaces))
	}
	if f.Duration.Exponent() > 2 || f.Duration.GreaterThan(decimal.NewFromInt(MaxLeaveDays)) {
		return generic.NewValidationError("duration", fmt.Sprintf("must not exceed %d days", MaxLeaveDays))
	}
	if f.StartDate.IsZero() {
		return generic.NewValidationError("start_date", "is required")
	}
	if f.EndDate.IsZero() {
		return generic.NewValidationError("end_date", "is required")
	}
	if f.StartDate.After(f.EndDate) {
		return generic.NewValidationError("start_date", "must be before or equal end_date")
	}
	return nil
}

func (f LeaveFields) applyTo(r *LeaveRequest) {
	r.StartDate = f.StartDate
	r.EndDate = f.EndDate
	r.Duration = f.Duration
	r.Type = f.Type
	if r.Type == "" {
		r.Type = LeaveAnnual
	}
	r.Reason = f.Reason
	r.Description = f.Description
}
