/*
policy.go - Authorization policy

PURPOSE:
  Decides which actor may perform which action on a record owned by
  someone. Every role check in the codebase goes through IsPrivileged or
  CanAct.

RULES:
  Privileged roles (BOSS, MANAGER, ADMIN): any action on any record.
  Everyone else: view/create/update/cancel on their own records only,
  and never the privileged-only actions (approve, reject, list all,
  manage users).

USAGE:
  if err := generic.Authorize(actor, generic.ActionApprove, ownerID); err != nil {
      return err // errors.Is(err, generic.ErrForbidden)
  }
*/
package generic

import (
	"fmt"
	"strings"
)

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleProgrammer Role = "PROGRAMMER"
	RoleBoss       Role = "BOSS"
	RoleManager    Role = "MANAGER"
	RoleAdmin      Role = "ADMIN"
)

var privilegedRoles = map[Role]bool{
	RoleBoss:    true,
	RoleManager: true,
	RoleAdmin:   true,
}

// IsPrivileged reports whether the role may act on any record.
func IsPrivileged(r Role) bool {
	return privilegedRoles[r]
}

// ParseRole is case-insensitive. Empty input yields RoleProgrammer.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case "":
		return RoleProgrammer, nil
	case RoleProgrammer, RoleBoss, RoleManager, RoleAdmin:
		return r, nil
	}
	return "", NewValidationError("role", fmt.Sprintf("unknown role %q", s))
}

// =============================================================================
// ACTIONS
// =============================================================================

type Action string

const (
	ActionView        Action = "view"
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionCancel      Action = "cancel"
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionListAll     Action = "list_all"
	ActionManageUsers Action = "manage_users"
)

var privilegedOnly = map[Action]bool{
	ActionApprove:     true,
	ActionReject:      true,
	ActionListAll:     true,
	ActionManageUsers: true,
}

// =============================================================================
// ACTOR
// =============================================================================

// SystemActorName is stamped when no actor name is known.
const SystemActorName = "SYSTEM"

// Actor is the authenticated caller, passed explicitly into every workflow call.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// System is used for bootstrap operations (seeding, self-registration).
var System = Actor{Name: SystemActorName, Role: RoleAdmin}

// Label is the value written into created-by/updated-by audit fields.
func (a Actor) Label() string {
	if a.Name != "" {
		return a.Name
	}
	if a.ID != "" {
		return a.ID
	}
	return SystemActorName
}

func (a Actor) IsPrivileged() bool {
	return IsPrivileged(a.Role)
}

// CanAct is the pure policy decision.
func CanAct(actor Actor, action Action, targetOwnerID string) bool {
	if actor.IsPrivileged() {
		return true
	}
	if privilegedOnly[action] {
		return false
	}
	return actor.ID != "" && actor.ID == targetOwnerID
}

// Authorize wraps CanAct and reports a violation as ErrForbidden.
func Authorize(actor Actor, action Action, targetOwnerID string) error {
	if CanAct(actor, action, targetOwnerID) {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s this record", ErrForbidden, actor.Role, action)
}
