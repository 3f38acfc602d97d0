// Package memory provides an in-memory timeoff.TxStore for tests and dev.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps copies of every record. Reads return fresh copies so callers
// can mutate them freely until they Save.
type Store struct {
	mu   sync.Mutex
	data *state
}

type state struct {
	seq    int64
	users  map[string]row[timeoff.User]
	leaves map[string]row[timeoff.LeaveRequest]
	audit  []timeoff.AuditEntry
}

// row remembers insertion order, used as the tie-break for equal CreatedAt.
type row[T any] struct {
	seq int64
	val T
}

func New() *Store {
	return &Store{data: newState()}
}

func newState() *state {
	return &state{
		users:  make(map[string]row[timeoff.User]),
		leaves: make(map[string]row[timeoff.LeaveRequest]),
	}
}

var _ timeoff.TxStore = (*Store)(nil)

// Ping always succeeds.
func (m *Store) Ping(context.Context) error { return nil }

func (m *Store) UserByID(ctx context.Context, id string) (*timeoff.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.userByID(id)
}

func (m *Store) UserRecord(ctx context.Context, id string) (*timeoff.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.userRecord(id)
}

func (m *Store) UserByEmail(ctx context.Context, email string) (*timeoff.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.userByEmail(email)
}

func (m *Store) Users(ctx context.Context) ([]timeoff.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listUsers(), nil
}

func (m *Store) SaveUser(ctx context.Context, u *timeoff.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.saveUser(u)
}

func (m *Store) LeaveByID(ctx context.Context, id string) (*timeoff.LeaveRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.leaveByID(id)
}

func (m *Store) LeavesByUser(ctx context.Context, userID string) ([]timeoff.LeaveRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listLeaves(userID), nil
}

func (m *Store) AllLeaves(ctx context.Context) ([]timeoff.LeaveRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listLeaves(""), nil
}

func (m *Store) SaveLeave(ctx context.Context, r *timeoff.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.saveLeave(r)
}

func (m *Store) AppendAudit(ctx context.Context, e timeoff.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.appendAudit(e)
	return nil
}

func (m *Store) AuditByRequest(ctx context.Context, requestID string) ([]timeoff.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.auditByRequest(requestID), nil
}

// WithTx runs fn against a private copy of the state and swaps it in only
// if fn succeeds. The lock is held for the whole call, so transactions are
// serialized.
func (m *Store) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := m.data.clone()
	if err := fn(&txView{data: working}); err != nil {
		return err
	}
	m.data = working
	return nil
}

// =============================================================================
// STATE - Unlocked operations shared by Store and txView
// =============================================================================

func (s *state) clone() *state {
	c := &state{
		seq:    s.seq,
		users:  make(map[string]row[timeoff.User], len(s.users)),
		leaves: make(map[string]row[timeoff.LeaveRequest], len(s.leaves)),
		audit:  append([]timeoff.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.leaves {
		c.leaves[k] = v
	}
	return c
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

func (s *state) userByID(id string) (*timeoff.User, error) {
	r, ok := s.users[id]
	if !ok || r.val.Deleted {
		return nil, &generic.NotFoundError{Resource: "user", ID: id}
	}
	u := r.val
	return &u, nil
}

func (s *state) userRecord(id string) (*timeoff.User, error) {
	r, ok := s.users[id]
	if !ok {
		return nil, &generic.NotFoundError{Resource: "user", ID: id}
	}
	u := r.val
	return &u, nil
}

func (s *state) userByEmail(email string) (*timeoff.User, error) {
	key := timeoff.NormalizeEmail(email)
	for _, r := range s.users {
		if !r.val.Deleted && r.val.Email == key {
			u := r.val
			return &u, nil
		}
	}
	return nil, &generic.NotFoundError{Resource: "user", ID: email}
}

func (s *state) listUsers() []timeoff.User {
	rows := make([]row[timeoff.User], 0, len(s.users))
	for _, r := range s.users {
		if !r.val.Deleted {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]timeoff.User, len(rows))
	for i, r := range rows {
		out[i] = r.val
	}
	return out
}

func (s *state) saveUser(u *timeoff.User) error {
	if u.Version == 0 {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if _, exists := s.users[u.ID]; exists {
			return generic.ErrConflict
		}
		if u.Audit.CreatedAt.IsZero() {
			u.Audit.CreatedAt = generic.UTCNow()
		}
		u.Version = 1
		s.users[u.ID] = row[timeoff.User]{seq: s.next(), val: *u}
		return nil
	}

	cur, ok := s.users[u.ID]
	if !ok || cur.val.Version != u.Version {
		return generic.ErrConcurrentModification
	}
	u.Version++
	s.users[u.ID] = row[timeoff.User]{seq: cur.seq, val: *u}
	return nil
}

func (s *state) leaveByID(id string) (*timeoff.LeaveRequest, error) {
	r, ok := s.leaves[id]
	if !ok || r.val.Deleted {
		return nil, &generic.NotFoundError{Resource: "leave request", ID: id}
	}
	l := r.val
	return &l, nil
}

// listLeaves returns live requests newest first; empty userID means all users.
func (s *state) listLeaves(userID string) []timeoff.LeaveRequest {
	rows := make([]row[timeoff.LeaveRequest], 0)
	for _, r := range s.leaves {
		if r.val.Deleted || (userID != "" && r.val.UserID != userID) {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].val.Audit.CreatedAt, rows[j].val.Audit.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return rows[i].seq > rows[j].seq
	})

	out := make([]timeoff.LeaveRequest, len(rows))
	for i, r := range rows {
		out[i] = r.val
	}
	return out
}

func (s *state) saveLeave(r *timeoff.LeaveRequest) error {
	if r.Version == 0 {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, exists := s.leaves[r.ID]; exists {
			return generic.ErrConflict
		}
		if r.Audit.CreatedAt.IsZero() {
			r.Audit.CreatedAt = generic.UTCNow()
		}
		r.Version = 1
		s.leaves[r.ID] = row[timeoff.LeaveRequest]{seq: s.next(), val: *r}
		return nil
	}

	cur, ok := s.leaves[r.ID]
	if !ok || cur.val.Version != r.Version {
		return generic.ErrConcurrentModification
	}
	r.Version++
	s.leaves[r.ID] = row[timeoff.LeaveRequest]{seq: cur.seq, val: *r}
	return nil
}

func (s *state) appendAudit(e timeoff.AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = generic.UTCNow()
	}
	s.audit = append(s.audit, e)
}

func (s *state) auditByRequest(requestID string) []timeoff.AuditEntry {
	var out []timeoff.AuditEntry
	for _, e := range s.audit {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView operates on the working copy; the parent lock is already held.
type txView struct {
	data *state
}

func (tv *txView) UserByID(_ context.Context, id string) (*timeoff.User, error) {
	return tv.data.userByID(id)
}

func (tv *txView) UserRecord(_ context.Context, id string) (*timeoff.User, error) {
	return tv.data.userRecord(id)
}

func (tv *txView) UserByEmail(_ context.Context, email string) (*timeoff.User, error) {
	return tv.data.userByEmail(email)
}

func (tv *txView) Users(_ context.Context) ([]timeoff.User, error) {
	return tv.data.listUsers(), nil
}

func (tv *txView) SaveUser(_ context.Context, u *timeoff.User) error {
	return tv.data.saveUser(u)
}

func (tv *txView) LeaveByID(_ context.Context, id string) (*timeoff.LeaveRequest, error) {
	return tv.data.leaveByID(id)
}

func (tv *txView) LeavesByUser(_ context.Context, userID string) ([]timeoff.LeaveRequest, error) {
	return tv.data.listLeaves(userID), nil
}

func (tv *txView) AllLeaves(_ context.Context) ([]timeoff.LeaveRequest, error) {
	return tv.data.listLeaves(""), nil
}

func (tv *txView) SaveLeave(_ context.Context, r *timeoff.LeaveRequest) error {
	return tv.data.saveLeave(r)
}

func (tv *txView) AppendAudit(_ context.Context, e timeoff.AuditEntry) error {
	tv.data.appendAudit(e)
	return nil
}

func (tv *txView) AuditByRequest(_ context.Context, requestID string) ([]timeoff.AuditEntry, error) {
	return tv.data.auditByRequest(requestID), nil
}
