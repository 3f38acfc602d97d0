/*
Package generic provides the domain-agnostic core of the leave engine.

PURPOSE:
  Types and rules that do not depend on how leave requests or users are
  stored: the error taxonomy, the balance ledger, the authorization
  policy, audit stamps and calendar dates. The timeoff package builds
  the leave workflow on top of these.

KEY CONCEPTS IN THIS FILE (types.go):
  - Audit: created-by/at, updated-by/at carried by every record
  - Clock: injectable time source so tests can pin timestamps
  - Days:  decimal helpers for leave durations

DESIGN PRINCIPLES:
  1. Precision: durations use decimal.Decimal (0.5 days is exact)
  2. Explicit actor: no ambient "current user"; every call receives an Actor
  3. Single policy point: role checks live in policy.go only

SEE ALSO:
  - errors.go: Error taxonomy
  - ledger.go: Reserve/Release arithmetic
  - policy.go: Roles, actions, CanAct
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AUDIT
// =============================================================================

type Audit struct {
	CreatedBy string
	CreatedAt time.Time
	UpdatedBy string
	UpdatedAt time.Time
}

// StampCreate fills the creation fields.
func (a *Audit) StampCreate(actor Actor, at time.Time) {
	a.CreatedBy = actor.Label()
	a.CreatedAt = at
}

// StampUpdate fills the update fields.
func (a *Audit) StampUpdate(actor Actor, at time.Time) {
	a.UpdatedBy = actor.Label()
	a.UpdatedAt = at
}

// =============================================================================
// CLOCK
// =============================================================================

type Clock func() time.Time

// UTCNow is the default Clock.
func UTCNow() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns t. Used in tests.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// =============================================================================
// DAYS
// =============================================================================

func Days(n float64) decimal.Decimal {
	return decimal.NewFromFloat(n)
}

// ParseDays parses a decimal day count such as "0.5" or "3".
func ParseDays(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewValidationError("duration", "must be a decimal number of days")
	}
	return d, nil
}
