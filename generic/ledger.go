/*
ledger.go - Per-user leave balance bookkeeping

PURPOSE:
  The Ledger performs the arithmetic and bounds checks for a user's
  annual-leave balance. It never decides WHEN a debit or credit happens
  (that is the workflow engine's job) and it never persists anything:
  it only mutates the Balance it is handed, so the caller can save the
  user and the triggering leave request in one transaction.

CRITICAL INVARIANTS:
  1. used <= entitlement after every successful Reserve
  2. used >= 0 after every successful Release
  3. A failed call leaves the Balance untouched

BALANCE MODEL:
  Entitlement: whole days allotted for the period (int)
  Used:        days consumed by approved, not yet canceled requests (decimal)
  Remaining:   Entitlement - Used

REFUND POLICY:
  A refund larger than Used means the data is already inconsistent.
  RefundStrict (default) reports it as UnderflowError and changes nothing.
  RefundClamp floors Used at zero and reports the amount actually credited.

EXAMPLE:
  ledger := generic.NewLedger(generic.RefundStrict)
  if err := ledger.Reserve(user, decimal.NewFromInt(5)); err != nil {
      // errors.Is(err, generic.ErrInsufficientBalance)
  }

SEE ALSO:
  - errors.go: InsufficientBalanceError, UnderflowError
  - timeoff/request.go: Calls Reserve on approve, Release on cancel
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE
// =============================================================================

// Balance is the entitlement/used pair carried by every user.
type Balance struct {
	Entitlement int
	Used        decimal.Decimal
}

// EntitlementDays returns the entitlement as a decimal.
func (b Balance) EntitlementDays() decimal.Decimal {
	return decimal.NewFromInt(int64(b.Entitlement))
}

// Remaining is entitlement minus used.
func (b Balance) Remaining() decimal.Decimal {
	return b.EntitlementDays().Sub(b.Used)
}

// Account is anything that owns a Balance.
type Account interface {
	AccountID() string
	LeaveBalance() *Balance
}

// =============================================================================
// LEDGER
// =============================================================================

type RefundPolicy string

const (
	RefundStrict RefundPolicy = "strict"
	RefundClamp  RefundPolicy = "clamp"
)

// ParseRefundPolicy accepts "strict" or "clamp".
func ParseRefundPolicy(s string) (RefundPolicy, error) {
	switch RefundPolicy(s) {
	case RefundStrict, RefundClamp:
		return RefundPolicy(s), nil
	case "":
		return RefundStrict, nil
	}
	return "", fmt.Errorf("unknown refund policy %q", s)
}

type Ledger struct {
	Refund RefundPolicy
}

func NewLedger(refund RefundPolicy) *Ledger {
	if refund == "" {
		refund = RefundStrict
	}
	return &Ledger{Refund: refund}
}

// Remaining returns the days still available to the account.
func (l *Ledger) Remaining(acct Account) decimal.Decimal {
	return acct.LeaveBalance().Remaining()
}

// Reserve debits days from the account, failing if that would exceed the entitlement.
func (l *Ledger) Reserve(acct Account, days decimal.Decimal) error {
	if !days.IsPositive() {
		return NewValidationError("duration", "must be greater than 0")
	}

	b := acct.LeaveBalance()
	remaining := b.Remaining()
	if days.GreaterThan(remaining) {
		return &InsufficientBalanceError{
			UserID:    acct.AccountID(),
			Available: remaining,
			Requested: days,
			Shortfall: days.Sub(remaining),
		}
	}

	b.Used = b.Used.Add(days)
	return nil
}

// Release credits days back to the account and returns the amount actually credited.
// Under RefundClamp the credited amount can be smaller than days.
func (l *Ledger) Release(acct Account, days decimal.Decimal) (decimal.Decimal, error) {
	if !days.IsPositive() {
		return decimal.Zero, NewValidationError("duration", "must be greater than 0")
	}

	b := acct.LeaveBalance()
	if days.GreaterThan(b.Used) {
		if l.Refund != RefundClamp {
			return decimal.Zero, &UnderflowError{
				UserID: acct.AccountID(),
				Used:   b.Used,
				Refund: days,
			}
		}
		credited := b.Used
		b.Used = decimal.Zero
		return credited, nil
	}

	b.Used = b.Used.Sub(days)
	return days, nil
}
