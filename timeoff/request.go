/*
request.go - Leave workflow engine

PURPOSE:
  Moves leave requests through their status graph and keeps the owner's
  used balance in lock-step. RequestService is the only writer of a
  request's status and of User.Balance.Used.

REQUEST FLOW:
  ┌────────────────────────────────────────────────────────────────┐
  │                                                                │
  │  create ──▶ PENDING ──approve──▶ APPROVED ──cancel──▶ CANCELED │
  │               │   │               Reserve()         Release()  │
  │               │   └──reject──▶ REJECTED ──cancel──▶ CANCELED   │
  │               └──cancel──────────────────────────▶ CANCELED    │
  │                                                                │
  └────────────────────────────────────────────────────────────────┘

DEFERRED RESERVATION:
  Create does not touch the balance. Days are reserved on approve and
  released when an APPROVED request is canceled. Two PENDING requests
  may therefore together exceed the remaining balance; the second
  approval is the one that fails.

ATOMICITY:
  Every transition runs inside TxStore.WithTx. The owner and the request
  are saved through the same transactional view together with the audit
  entry, so a failure at any step leaves both records as they were.

NOT-FOUND CLASS:
  Missing, soft-deleted and wrong-status records all fail with
  generic.NotFoundError. A second concurrent approve sees APPROVED and
  fails that way instead of reserving twice.

AUTHORIZATION ORDER:
  approve/reject are privileged-only, so the role is checked before the
  record is read. get/update/cancel/history need the owner, so the
  record is read first and a missing one is reported as not found.
*/
package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
	"go.uber.org/zap"
)

const resourceLeave = "leave request"

type RequestService struct {
	Store  TxStore
	Ledger *generic.Ledger
	Clock  generic.Clock

	logger *zap.Logger
}

func NewRequestService(store TxStore, ledger *generic.Ledger, logger ...*zap.Logger) *RequestService {
	l := zap.L().Named("leave.service")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("leave.service")
	}
	if ledger == nil {
		ledger = generic.NewLedger(generic.RefundStrict)
	}
	return &RequestService{Store: store, Ledger: ledger, Clock: generic.UTCNow, logger: l}
}

func (s *RequestService) now() generic.Clock {
	if s.Clock == nil {
		return generic.UTCNow
	}
	return s.Clock
}

// Create files a new PENDING request for ownerID. The balance is not checked here.
func (s *RequestService) Create(ctx context.Context, actor generic.Actor, ownerID string, fields LeaveFields) (*LeaveRequest, error) {
	s.logger.Debug("create leave requested", zap.String("actor", actor.Label()), zap.String("owner_id", ownerID))

	if err := fields.Validate(); err != nil {
		s.logger.Warn("create leave validation failed", zap.Error(err))
		return nil, err
	}
	s.logger.Debug("create leave fields",
		zap.String("duration", fields.Duration.String()),
		zap.String("start_date", fields.StartDate.String()),
		zap.String("end_date", fields.EndDate.String()),
	)
	if err := generic.Authorize(actor, generic.ActionCreate, ownerID); err != nil {
		s.logger.Warn("create leave forbidden", zap.String("actor", actor.Label()), zap.String("owner_id", ownerID))
		return nil, err
	}

	var created *LeaveRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		owner, err := tx.UserByID(ctx, ownerID)
		if err != nil {
			return err
		}
		if !owner.CanOwnRequests() {
			return &generic.NotFoundError{Resource: resourceUser, ID: ownerID}
		}

		now := s.now()()
		r := &LeaveRequest{UserID: owner.ID, Status: StatusPending}
		fields.applyTo(r)
		r.Audit.StampCreate(actor, now)
		r.Audit.StampUpdate(actor, now)

		if err := tx.SaveLeave(ctx, r); err != nil {
			return fmt.Errorf("save leave request: %w", err)
		}
		if err := s.audit(ctx, tx, actor, AuditRequestCreated, r, map[string]string{
			"duration": r.Duration.String(),
			"type":     string(r.Type),
		}); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		s.logFailure("create leave failed", err, zap.String("owner_id", ownerID))
		return nil, err
	}

	s.logger.Info("create leave success",
		zap.String("leave_id", created.ID),
		zap.String("owner_id", created.UserID),
	)
	return created, nil
}

// Approve reserves the request's duration from the owner's balance and marks it APPROVED.
func (s *RequestService) Approve(ctx context.Context, actor generic.Actor, id string) (*LeaveRequest, error) {
	s.logger.Debug("approve leave requested", zap.String("leave_id", id), zap.String("actor", actor.Label()))

	if err := generic.Authorize(actor, generic.ActionApprove, ""); err != nil {
		s.logger.Warn("approve leave forbidden", zap.String("leave_id", id), zap.String("actor", actor.Label()))
		return nil, err
	}

	var approved *LeaveRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		r, err := loadPending(ctx, tx, id)
		if err != nil {
			return err
		}
		owner, err := tx.UserByID(ctx, r.UserID)
		if err != nil {
			return err
		}

		if err := s.Ledger.Reserve(owner, r.Duration); err != nil {
			return err
		}

		now := s.now()()
		owner.Audit.StampUpdate(actor, now)
		r.Status = StatusApproved
		r.Audit.StampUpdate(actor, now)

		if err := tx.SaveUser(ctx, owner); err != nil {
			return fmt.Errorf("save owner balance: %w", err)
		}
		if err := tx.SaveLeave(ctx, r); err != nil {
			return fmt.Errorf("save leave request: %w", err)
		}
		if err := s.audit(ctx, tx, actor, AuditRequestApproved, r, map[string]string{
			"duration": r.Duration.String(),
			"used":     owner.Balance.Used.String(),
		}); err != nil {
			return err
		}
		approved = r
		return nil
	})
	if err != nil {
		s.logFailure("approve leave failed", err, zap.String("leave_id", id))
		return nil, err
	}

	s.logger.Info("approve leave success", zap.String("leave_id", id), zap.String("owner_id", approved.UserID))
	return approved, nil
}

// Reject marks a PENDING request REJECTED. No balance is involved.
func (s *RequestService) Reject(ctx context.Context, actor generic.Actor, id string) (*LeaveRequest, error) {
	s.logger.Debug("reject leave requested", zap.String("leave_id", id), zap.String("actor", actor.Label()))

	if err := generic.Authorize(actor, generic.ActionReject, ""); err != nil {
		s.logger.Warn("reject leave forbidden", zap.String("leave_id", id), zap.String("actor", actor.Label()))
		return nil, err
	}

	var rejected *LeaveRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		r, err := loadPending(ctx, tx, id)
		if err != nil {
			return err
		}
		r.Status = StatusRejected
		r.Audit.StampUpdate(actor, s.now()())

		if err := tx.SaveLeave(ctx, r); err != nil {
			return fmt.Errorf("save leave request: %w", err)
		}
		if err := s.audit(ctx, tx, actor, AuditRequestRejected, r, nil); err != nil {
			return err
		}
		rejected = r
		return nil
	})
	if err != nil {
		s.logFailure("reject leave failed", err, zap.String("leave_id", id))
		return nil, err
	}

	s.logger.Info("reject leave success", zap.String("leave_id", id))
	return rejected, nil
}

// Cancel soft-deletes a request from any live status, refunding days if it was APPROVED.
func (s *RequestService) Cancel(ctx context.Context, actor generic.Actor, id string) error {
	s.logger.Debug("cancel leave requested", zap.String("leave_id", id), zap.String("actor", actor.Label()))

	err := s.Store.WithTx(ctx, func(tx Store) error {
		r, err := tx.LeaveByID(ctx, id)
		if err != nil {
			return err
		}
		if err := generic.Authorize(actor, generic.ActionCancel, r.UserID); err != nil {
			return err
		}
		if !CanTransition(r.Status, StatusCanceled) {
			return &generic.NotFoundError{Resource: resourceLeave, ID: id}
		}

		now := s.now()()
		payload := map[string]string{"from": string(r.Status)}

		if r.Status == StatusApproved {
			owner, err := tx.UserRecord(ctx, r.UserID)
			if err != nil {
				return err
			}
			credited, err := s.Ledger.Release(owner, r.Duration)
			if err != nil {
				return err
			}
			if !credited.Equal(r.Duration) {
				s.logger.Warn("cancel leave refund clamped",
					zap.String("leave_id", id),
					zap.String("owner_id", owner.ID),
					zap.String("duration", r.Duration.String()),
					zap.String("credited", credited.String()),
				)
			}
			owner.Audit.StampUpdate(actor, now)
			if err := tx.SaveUser(ctx, owner); err != nil {
				return fmt.Errorf("save owner balance: %w", err)
			}
			payload["credited"] = credited.String()
		}

		r.Status = StatusCanceled
		r.Deleted = true
		r.Audit.StampUpdate(actor, now)
		if err := tx.SaveLeave(ctx, r); err != nil {
			return fmt.Errorf("save leave request: %w", err)
		}
		return s.audit(ctx, tx, actor, AuditRequestCanceled, r, payload)
	})
	if err != nil {
		s.logFailure("cancel leave failed", err, zap.String("leave_id", id))
		return err
	}

	s.logger.Info("cancel leave success", zap.String("leave_id", id))
	return nil
}

// Update replaces the editable fields of a PENDING request.
// The balance is not re-checked; approval does that.
func (s *RequestService) Update(ctx context.Context, actor generic.Actor, id string, fields LeaveFields) (*LeaveRequest, error) {
	s.logger.Debug("update leave requested", zap.String("leave_id", id), zap.String("actor", actor.Label()))

	if err := fields.Validate(); err != nil {
		s.logger.Warn("update leave validation failed", zap.Error(err))
		return nil, err
	}

	var updated *LeaveRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		r, err := tx.LeaveByID(ctx, id)
		if err != nil {
			return err
		}
		if err := generic.Authorize(actor, generic.ActionUpdate, r.UserID); err != nil {
			return err
		}
		if r.Status != StatusPending {
			return &generic.NotFoundError{Resource: resourceLeave, ID: id}
		}

		fields.applyTo(r)
		r.Audit.StampUpdate(actor, s.now()())
		if err := tx.SaveLeave(ctx, r); err != nil {
			return fmt.Errorf("save leave request: %w", err)
		}
		if err := s.audit(ctx, tx, actor, AuditRequestUpdated, r, map[string]string{
			"duration": r.Duration.String(),
			"type":     string(r.Type),
		}); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		s.logFailure("update leave failed", err, zap.String("leave_id", id))
		return nil, err
	}

	s.logger.Info("update leave success", zap.String("leave_id", id))
	return updated, nil
}

func (s *RequestService) Get(ctx context.Context, actor generic.Actor, id string) (*LeaveRequest, error) {
	r, err := s.Store.LeaveByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := generic.Authorize(actor, generic.ActionView, r.UserID); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns live requests, newest first. Privileged actors see everything
// (or ownerFilter's requests); everyone else sees only their own, and naming
// another owner in ownerFilter is forbidden.
func (s *RequestService) List(ctx context.Context, actor generic.Actor, ownerFilter *string) ([]LeaveRequest, error) {
	if ownerFilter == nil {
		if generic.CanAct(actor, generic.ActionListAll, "") {
			return s.Store.AllLeaves(ctx)
		}
		return s.Store.LeavesByUser(ctx, actor.ID)
	}
	if err := generic.Authorize(actor, generic.ActionView, *ownerFilter); err != nil {
		return nil, err
	}
	return s.Store.LeavesByUser(ctx, *ownerFilter)
}

// History returns the audit entries of a request, oldest first. Canceled
// requests keep their history.
func (s *RequestService) History(ctx context.Context, actor generic.Actor, id string) ([]AuditEntry, error) {
	entries, err := s.Store.AuditByRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &generic.NotFoundError{Resource: resourceLeave, ID: id}
	}
	if err := generic.Authorize(actor, generic.ActionView, entries[0].UserID); err != nil {
		return nil, err
	}
	return entries, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// loadPending returns the request only if it is live and PENDING.
func loadPending(ctx context.Context, tx Store, id string) (*LeaveRequest, error) {
	r, err := tx.LeaveByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, &generic.NotFoundError{Resource: resourceLeave, ID: id}
	}
	return r, nil
}

func (s *RequestService) audit(ctx context.Context, tx Store, actor generic.Actor, action AuditAction, r *LeaveRequest, payload map[string]string) error {
	actorID := actor.ID
	if actorID == "" {
		actorID = actor.Label()
	}
	entry := AuditEntry{
		Timestamp: s.now()(),
		ActorID:   actorID,
		Action:    action,
		RequestID: r.ID,
		UserID:    r.UserID,
		Payload:   payload,
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// logFailure logs client errors as Warn and everything else as Error.
func (s *RequestService) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if generic.IsClientError(err) || generic.IsNotFound(err) {
		s.logger.Warn(msg, fields...)
		return
	}
	s.logger.Error(msg, fields...)
}
