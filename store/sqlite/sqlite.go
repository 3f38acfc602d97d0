/*
Package sqlite provides a SQLite-backed implementation of timeoff.TxStore.

PURPOSE:
  Persists users, leave requests and the audit log. The store does no
  business validation; the workflow in package timeoff decides what is
  written.

KEY TABLES:
  users:          identity + balance (entitlement, used), soft-delete flag
  leave_requests: one row per leave episode, soft-delete flag
  audit_log:      append-only transition history

SOFT DELETE:
  Every live query filters on deleted = 0; UserRecord does not. Rows are never removed.

OPTIMISTIC LOCKING:
  users and leave_requests carry a version column. Updates run
  UPDATE ... WHERE id = ? AND version = ? and bump it. Zero affected rows
  means another writer got there first: generic.ErrConcurrentModification.

CONCURRENCY:
  WithTx holds the store mutex for the whole transaction, so two approvals
  of the same request in this process run one after the other and the
  second sees the committed status. The version check covers writers in
  other processes sharing the database file.

  The pool is capped at one connection. SQLite has a single writer anyway,
  and ":memory:" databases live and die with their connection.

MIGRATION:
  Schema is managed by goose with migrations embedded from ./migrations.

USAGE:
  store, err := sqlite.New(ctx, "./data/leave.db", logger)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
)

// timeLayout is fixed-width so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements timeoff.TxStore using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

var _ timeoff.TxStore = (*Store)(nil)

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sqlite")

	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite store ready", zap.String("path", dbPath))
	return &Store{db: db, logger: logger}, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// STORE (timeoff.Store interface)
// =============================================================================

func (s *Store) UserByID(ctx context.Context, id string) (*timeoff.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.UserByID(ctx, id)
}

func (s *Store) UserRecord(ctx context.Context, id string) (*timeoff.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.UserRecord(ctx, id)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*timeoff.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.UserByEmail(ctx, email)
}

func (s *Store) Users(ctx context.Context) ([]timeoff.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.Users(ctx)
}

func (s *Store) SaveUser(ctx context.Context, u *timeoff.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveUser(ctx, u)
}

func (s *Store) LeaveByID(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.LeaveByID(ctx, id)
}

func (s *Store) LeavesByUser(ctx context.Context, userID string) ([]timeoff.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.LeavesByUser(ctx, userID)
}

func (s *Store) AllLeaves(ctx context.Context) ([]timeoff.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.AllLeaves(ctx)
}

func (s *Store) SaveLeave(ctx context.Context, r *timeoff.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveLeave(ctx, r)
}

func (s *Store) AppendAudit(ctx context.Context, e timeoff.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.AppendAudit(ctx, e)
}

func (s *Store) AuditByRequest(ctx context.Context, requestID string) ([]timeoff.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.AuditByRequest(ctx, requestID)
}

// =============================================================================
// TRANSACTIONAL STORE (timeoff.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store timeoff.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES - Shared by the store and its transactional view
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs statements against either *sql.DB or *sql.Tx.
type queries struct {
	db dbtx
}

type scanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------
// users
// -----------------------------------------------------------------------------

const userColumns = `id, name, email, password_hash, role, status, entitlement, used, deleted,
	created_by, created_at, updated_by, updated_at, version`

func (q queries) UserByID(ctx context.Context, id string) (*timeoff.User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? AND deleted = 0`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Resource: "user", ID: id}
	}
	return u, err
}

func (q queries) UserRecord(ctx context.Context, id string) (*timeoff.User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Resource: "user", ID: id}
	}
	return u, err
}

func (q queries) UserByEmail(ctx context.Context, email string) (*timeoff.User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? AND deleted = 0`, timeoff.NormalizeEmail(email))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Resource: "user", ID: email}
	}
	return u, err
}

func (q queries) Users(ctx context.Context) ([]timeoff.User, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE deleted = 0 ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []timeoff.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (q queries) SaveUser(ctx context.Context, u *timeoff.User) error {
	if u.Version == 0 {
		return q.insertUser(ctx, u)
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET
			name = ?, email = ?, password_hash = ?, role = ?, status = ?,
			entitlement = ?, used = ?, deleted = ?,
			updated_by = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		u.Name, timeoff.NormalizeEmail(u.Email), u.PasswordHash, string(u.Role), string(u.Status),
		u.Balance.Entitlement, u.Balance.Used.String(), u.Deleted,
		u.Audit.UpdatedBy, formatTime(u.Audit.UpdatedAt),
		u.ID, u.Version,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: email %s is already registered", generic.ErrConflict, u.Email)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	u.Version++
	return nil
}

func (q queries) insertUser(ctx context.Context, u *timeoff.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Audit.CreatedAt.IsZero() {
		u.Audit.CreatedAt = generic.UTCNow()
	}
	if u.Audit.UpdatedAt.IsZero() {
		u.Audit.UpdatedAt = u.Audit.CreatedAt
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		u.ID, u.Name, timeoff.NormalizeEmail(u.Email), u.PasswordHash, string(u.Role), string(u.Status),
		u.Balance.Entitlement, u.Balance.Used.String(), u.Deleted,
		u.Audit.CreatedBy, formatTime(u.Audit.CreatedAt),
		u.Audit.UpdatedBy, formatTime(u.Audit.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: email %s is already registered", generic.ErrConflict, u.Email)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	u.Version = 1
	return nil
}

func scanUser(row scanner) (*timeoff.User, error) {
	var (
		u                    timeoff.User
		role, status         string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &status,
		&u.Balance.Entitlement, &u.Balance.Used, &u.Deleted,
		&u.Audit.CreatedBy, &createdAt, &u.Audit.UpdatedBy, &updatedAt, &u.Version,
	)
	if err != nil {
		return nil, err
	}
	u.Role = generic.Role(role)
	u.Status = timeoff.UserStatus(status)
	u.Audit.CreatedAt = parseTime(createdAt)
	u.Audit.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// -----------------------------------------------------------------------------
// leave requests
// -----------------------------------------------------------------------------

const leaveColumns = `id, user_id, start_date, end_date, duration, leave_type, reason, description,
	status, deleted, created_by, created_at, updated_by, updated_at, version`

func (q queries) LeaveByID(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+leaveColumns+` FROM leave_requests WHERE id = ? AND deleted = 0`, id)
	r, err := scanLeave(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Resource: "leave request", ID: id}
	}
	return r, err
}

func (q queries) LeavesByUser(ctx context.Context, userID string) ([]timeoff.LeaveRequest, error) {
	return q.queryLeaves(ctx, `
		SELECT `+leaveColumns+` FROM leave_requests
		WHERE user_id = ? AND deleted = 0
		ORDER BY created_at DESC, rowid DESC`, userID)
}

func (q queries) AllLeaves(ctx context.Context) ([]timeoff.LeaveRequest, error) {
	return q.queryLeaves(ctx, `
		SELECT `+leaveColumns+` FROM leave_requests
		WHERE deleted = 0
		ORDER BY created_at DESC, rowid DESC`)
}

func (q queries) queryLeaves(ctx context.Context, query string, args ...any) ([]timeoff.LeaveRequest, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave requests: %w", err)
	}
	defer rows.Close()

	var leaves []timeoff.LeaveRequest
	for rows.Next() {
		r, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, *r)
	}
	return leaves, rows.Err()
}

func (q queries) SaveLeave(ctx context.Context, r *timeoff.LeaveRequest) error {
	if r.Version == 0 {
		return q.insertLeave(ctx, r)
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE leave_requests SET
			start_date = ?, end_date = ?, duration = ?, leave_type = ?, reason = ?,
			description = ?, status = ?, deleted = ?,
			updated_by = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		r.StartDate.String(), r.EndDate.String(), r.Duration.String(), string(r.Type), r.Reason,
		r.Description, string(r.Status), r.Deleted,
		r.Audit.UpdatedBy, formatTime(r.Audit.UpdatedAt),
		r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave request: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	r.Version++
	return nil
}

func (q queries) insertLeave(ctx context.Context, r *timeoff.LeaveRequest) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Audit.CreatedAt.IsZero() {
		r.Audit.CreatedAt = generic.UTCNow()
	}
	if r.Audit.UpdatedAt.IsZero() {
		r.Audit.UpdatedAt = r.Audit.CreatedAt
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO leave_requests (`+leaveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		r.ID, r.UserID, r.StartDate.String(), r.EndDate.String(), r.Duration.String(),
		string(r.Type), r.Reason, r.Description, string(r.Status), r.Deleted,
		r.Audit.CreatedBy, formatTime(r.Audit.CreatedAt),
		r.Audit.UpdatedBy, formatTime(r.Audit.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: leave request %s already exists", generic.ErrConflict, r.ID)
		}
		return fmt.Errorf("failed to insert leave request: %w", err)
	}
	r.Version = 1
	return nil
}

func scanLeave(row scanner) (*timeoff.LeaveRequest, error) {
	var (
		r                    timeoff.LeaveRequest
		start, end           string
		leaveType, status    string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&r.ID, &r.UserID, &start, &end, &r.Duration, &leaveType, &r.Reason, &r.Description,
		&status, &r.Deleted, &r.Audit.CreatedBy, &createdAt, &r.Audit.UpdatedBy, &updatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	if r.StartDate, err = generic.ParseDate(start); err != nil {
		return nil, fmt.Errorf("corrupt start_date on %s: %w", r.ID, err)
	}
	if r.EndDate, err = generic.ParseDate(end); err != nil {
		return nil, fmt.Errorf("corrupt end_date on %s: %w", r.ID, err)
	}
	r.Type = timeoff.LeaveType(leaveType)
	r.Status = timeoff.RequestStatus(status)
	r.Audit.CreatedAt = parseTime(createdAt)
	r.Audit.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// -----------------------------------------------------------------------------
// audit log
// -----------------------------------------------------------------------------

func (q queries) AppendAudit(ctx context.Context, e timeoff.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = generic.UTCNow()
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, request_id, user_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), e.ActorID, string(e.Action), e.RequestID, e.UserID, string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (q queries) AuditByRequest(ctx context.Context, requestID string) ([]timeoff.AuditEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, ts, actor_id, action, request_id, user_id, payload_json
		FROM audit_log WHERE request_id = ?
		ORDER BY ts, rowid`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []timeoff.AuditEntry
	for rows.Next() {
		var (
			e           timeoff.AuditEntry
			ts, action  string
			payloadJSON string
		)
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &action, &e.RequestID, &e.UserID, &payloadJSON); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		e.Action = timeoff.AuditAction(action)
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("corrupt audit payload on %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
