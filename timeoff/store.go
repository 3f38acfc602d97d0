/*
store.go - Persistence interfaces for users, leave requests and audit entries

PURPOSE:
  Defines the boundary between the workflow and the database. Stores do
  no business validation; they persist, retrieve and filter.

SOFT DELETE:
  Records are never removed. Live queries (LeaveByID, LeavesByUser,
  AllLeaves, UserByID, UserByEmail, Users) exclude rows whose deleted
  flag is set. A soft-deleted user's historical requests keep their
  UserID, and UserRecord still resolves it.

SAVE SEMANTICS:
  SaveUser/SaveLeave are upserts. On first insert (Version == 0) the
  store assigns an ID if empty, fills CreatedAt if zero, and sets
  Version = 1. Updates compare-and-swap on Version and bump it; a
  mismatch returns generic.ErrConcurrentModification.

ATOMIC UNITS:
  TxStore.WithTx runs fn against a transactional view. If fn returns an
  error every write made through the view is rolled back. Approve and
  cancel-of-approved save the user and the leave request through the
  same view.

IMPLEMENTATIONS:
  - store/sqlite: SQLite with goose migrations
  - store/memory: In-memory with snapshot rollback (tests)
*/
package timeoff

import (
	"context"
	"time"
)

// UserStore is the user directory.
type UserStore interface {
	UserByID(ctx context.Context, id string) (*User, error)

	// UserRecord returns the user even when soft-deleted. Requests keep
	// their owner reference after the owner is deleted.
	UserRecord(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	Users(ctx context.Context) ([]User, error)
	SaveUser(ctx context.Context, u *User) error
}

// LeaveStore persists leave requests.
type LeaveStore interface {
	// LeaveByID returns generic.ErrNotFound for missing or soft-deleted records.
	LeaveByID(ctx context.Context, id string) (*LeaveRequest, error)

	// LeavesByUser returns live requests for userID, newest first.
	LeavesByUser(ctx context.Context, userID string) ([]LeaveRequest, error)

	// AllLeaves returns every live request, newest first.
	AllLeaves(ctx context.Context) ([]LeaveRequest, error)

	SaveLeave(ctx context.Context, r *LeaveRequest) error
}

// AuditLog is append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	AuditByRequest(ctx context.Context, requestID string) ([]AuditEntry, error)
}

// Store is everything the workflow reads and writes.
type Store interface {
	UserStore
	LeaveStore
	AuditLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT ENTRY
// =============================================================================

type AuditAction string

const (
	AuditRequestCreated  AuditAction = "request_created"
	AuditRequestUpdated  AuditAction = "request_updated"
	AuditRequestApproved AuditAction = "request_approved"
	AuditRequestRejected AuditAction = "request_rejected"
	AuditRequestCanceled AuditAction = "request_canceled"
)

type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	RequestID string
	UserID    string
	Payload   map[string]string
}
