/*
handlers_test.go - HTTP tests for the leave API

Tests for:
- The create/approve/cancel round trip over HTTP
- Status codes of the error taxonomy (400/401/403/404/409/422)
- Registration and login
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEnv struct {
	t      *testing.T
	router *chi.Mux
	h      *Handler
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	leaves := timeoff.NewRequestService(store, generic.NewLedger(generic.RefundStrict), zap.NewNop())
	users := timeoff.NewUserService(store, &auth.BcryptHasher{Cost: bcrypt.MinCost}, 14, zap.NewNop())
	tokens := auth.NewTokenService("test-secret", time.Hour)

	h := NewHandler(leaves, users, tokens, store)
	return &testEnv{t: t, router: NewRouter(h, RouterOptions{}), h: h}
}

func (e *testEnv) do(method, path, token string, body any) (int, envelope) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	assert.Equal(e.t, rec.Code, env.Code)
	return rec.Code, env
}

// login returns the token and user id for seeded credentials.
func (e *testEnv) login(email, password string) (string, string) {
	e.t.Helper()
	status, env := e.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: email, Password: password})
	require.Equal(e.t, http.StatusOK, status, env.Msg)
	var dto LoginDTO
	require.NoError(e.t, json.Unmarshal(env.Data, &dto))
	return dto.Token, dto.ID
}

func (e *testEnv) seed(name string) {
	e.t.Helper()
	require.NoError(e.t, e.h.SeedScenario(context.Background(), name))
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func leaveBody(days float64) LeaveRequestBody {
	return LeaveRequestBody{
		StartDate: "2025-07-07",
		EndDate:   "2025-07-11",
		Duration:  decimal.NewFromFloat(days),
		Type:      "annual",
		Reason:    "summer",
	}
}

// =============================================================================
// WORKFLOW
// =============================================================================

func TestAPI_CreateApproveCancel_RoundTrip(t *testing.T) {
	// GIVEN: The demo team
	env := newTestEnv(t)
	env.seed("demo")
	bossToken, _ := env.login("boss@example.com", "boss-pass")
	devToken, devID := env.login("dev@example.com", "dev-pass")

	// WHEN: The developer files 5 days
	status, res := env.do(http.MethodPost, "/api/leave/user/"+devID, devToken, leaveBody(5))
	require.Equal(t, http.StatusCreated, status, res.Msg)
	created := decode[LeaveDTO](t, res)
	assert.Equal(t, "PENDING", created.Status)
	assert.Equal(t, "ANNUAL", created.Type)

	// THEN: The balance is untouched until approval
	_, res = env.do(http.MethodGet, "/api/users/"+devID+"/balance", devToken, nil)
	assert.True(t, decode[BalanceDTO](t, res).Used.IsZero())

	// WHEN: The boss approves
	status, res = env.do(http.MethodPut, "/api/leave/"+created.ID+"/approve", bossToken, nil)
	require.Equal(t, http.StatusOK, status, res.Msg)
	assert.Equal(t, "APPROVED", decode[LeaveDTO](t, res).Status)

	_, res = env.do(http.MethodGet, "/api/users/"+devID+"/balance", devToken, nil)
	balance := decode[BalanceDTO](t, res)
	assert.True(t, balance.Used.Equal(decimal.NewFromInt(5)), "used %s", balance.Used)
	assert.True(t, balance.Remaining.Equal(decimal.NewFromInt(9)))

	// WHEN: The developer cancels
	status, res = env.do(http.MethodDelete, "/api/leave/"+created.ID, devToken, nil)
	require.Equal(t, http.StatusOK, status, res.Msg)

	// THEN: Days are refunded and the request is gone
	_, res = env.do(http.MethodGet, "/api/users/"+devID+"/balance", devToken, nil)
	assert.True(t, decode[BalanceDTO](t, res).Used.IsZero())
	status, _ = env.do(http.MethodGet, "/api/leave/"+created.ID, devToken, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// The history survives cancellation
	status, res = env.do(http.MethodGet, "/api/leave/"+created.ID+"/history", devToken, nil)
	require.Equal(t, http.StatusOK, status)
	history := decode[[]AuditEntryDTO](t, res)
	require.Len(t, history, 3)
	assert.Equal(t, "request_canceled", history[2].Action)
}

func TestAPI_Approve_InsufficientBalance_422(t *testing.T) {
	// GIVEN: busy@example.com has 12 of 14 days used and a pending 5-day request
	env := newTestEnv(t)
	env.seed("balance-limits")
	bossToken, _ := env.login("boss@example.com", "boss-pass")
	busyToken, busyID := env.login("busy@example.com", "busy-pass")

	_, res := env.do(http.MethodGet, "/api/leave/user/"+busyID, busyToken, nil)
	var pending LeaveDTO
	for _, l := range decode[[]LeaveDTO](t, res) {
		if l.Status == "PENDING" {
			pending = l
		}
	}
	require.NotEmpty(t, pending.ID)

	// WHEN: The boss approves
	status, res := env.do(http.MethodPut, "/api/leave/"+pending.ID+"/approve", bossToken, nil)

	// THEN: 422 and nothing changes
	assert.Equal(t, http.StatusUnprocessableEntity, status, res.Msg)
	_, res = env.do(http.MethodGet, "/api/leave/"+pending.ID, busyToken, nil)
	assert.Equal(t, "PENDING", decode[LeaveDTO](t, res).Status)
	_, res = env.do(http.MethodGet, "/api/users/"+busyID+"/balance", busyToken, nil)
	assert.True(t, decode[BalanceDTO](t, res).Used.Equal(decimal.NewFromInt(12)))
}

func TestAPI_ErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.seed("demo")
	bossToken, bossID := env.login("boss@example.com", "boss-pass")
	devToken, devID := env.login("dev@example.com", "dev-pass")

	status, res := env.do(http.MethodPost, "/api/leave/user/"+devID, devToken, leaveBody(2))
	require.Equal(t, http.StatusCreated, status)
	leaveID := decode[LeaveDTO](t, res).ID

	badDate := leaveBody(1)
	badDate.StartDate = "07/07/2025"

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"no token", http.MethodGet, "/api/leave/all", "", nil, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/leave/all", "garbage", nil, http.StatusUnauthorized},
		{"invalid json", http.MethodPost, "/api/leave/user/" + devID, devToken, "{not json", http.StatusBadRequest},
		{"bad date", http.MethodPost, "/api/leave/user/" + devID, devToken, badDate, http.StatusBadRequest},
		{"zero duration", http.MethodPost, "/api/leave/user/" + devID, devToken, leaveBody(0), http.StatusBadRequest},
		{"huge duration exponent", http.MethodPost, "/api/leave/user/" + devID, devToken, `{"start_date":"2025-07-07","end_date":"2025-07-07","duration":"1e400000000"}`, http.StatusBadRequest},
		{"duration over a year", http.MethodPost, "/api/leave/user/" + devID, devToken, leaveBody(400), http.StatusBadRequest},
		{"oversized body", http.MethodPost, "/api/auth/login", "", `{"email":"` + strings.Repeat("a", 2<<20) + `"}`, http.StatusBadRequest},
		{"unknown type", http.MethodPost, "/api/leave/user/" + devID, devToken, LeaveRequestBody{StartDate: "2025-07-07", EndDate: "2025-07-07", Duration: decimal.NewFromInt(1), Type: "SABBATICAL"}, http.StatusBadRequest},
		{"file for someone else", http.MethodPost, "/api/leave/user/" + bossID, devToken, leaveBody(1), http.StatusForbidden},
		{"programmer approves", http.MethodPut, "/api/leave/" + leaveID + "/approve", devToken, nil, http.StatusForbidden},
		{"programmer rejects", http.MethodPut, "/api/leave/" + leaveID + "/reject", devToken, nil, http.StatusForbidden},
		{"list another user", http.MethodGet, "/api/leave/user/" + bossID, devToken, nil, http.StatusForbidden},
		{"list users", http.MethodGet, "/api/users", devToken, nil, http.StatusForbidden},
		{"missing request", http.MethodGet, "/api/leave/does-not-exist", bossToken, nil, http.StatusNotFound},
		{"approve missing", http.MethodPut, "/api/leave/does-not-exist/approve", bossToken, nil, http.StatusNotFound},
		{"self promotion", http.MethodPut, "/api/users/" + devID, devToken, map[string]any{"role": "BOSS"}, http.StatusForbidden},
		{"duplicate email", http.MethodPost, "/api/auth/register", "", RegisterRequest{Name: "X", Email: "dev@example.com", Password: "x"}, http.StatusConflict},
		{"wrong password", http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "dev@example.com", Password: "nope"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := env.do(tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, status, res.Msg)
		})
	}
}

func TestAPI_UpdateAfterApprove_404(t *testing.T) {
	env := newTestEnv(t)
	env.seed("demo")
	bossToken, _ := env.login("boss@example.com", "boss-pass")
	devToken, devID := env.login("dev@example.com", "dev-pass")

	_, res := env.do(http.MethodPost, "/api/leave/user/"+devID, devToken, leaveBody(3))
	id := decode[LeaveDTO](t, res).ID

	status, res := env.do(http.MethodPut, "/api/leave/"+id, devToken, leaveBody(1))
	require.Equal(t, http.StatusOK, status, res.Msg)
	assert.Equal(t, "1", decode[LeaveDTO](t, res).Duration.String())

	status, _ = env.do(http.MethodPut, "/api/leave/"+id+"/approve", bossToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = env.do(http.MethodPut, "/api/leave/"+id, devToken, leaveBody(2))
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = env.do(http.MethodPut, "/api/leave/"+id+"/approve", bossToken, nil)
	assert.Equal(t, http.StatusNotFound, status, "second approve")
}

func TestAPI_Reject_ThenCancel(t *testing.T) {
	env := newTestEnv(t)
	env.seed("demo")
	bossToken, _ := env.login("boss@example.com", "boss-pass")
	devToken, devID := env.login("dev@example.com", "dev-pass")

	_, res := env.do(http.MethodPost, "/api/leave/user/"+devID, devToken, leaveBody(1.5))
	id := decode[LeaveDTO](t, res).ID

	status, res := env.do(http.MethodPut, "/api/leave/"+id+"/reject", bossToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "REJECTED", decode[LeaveDTO](t, res).Status)

	status, _ = env.do(http.MethodDelete, "/api/leave/"+id, devToken, nil)
	assert.Equal(t, http.StatusOK, status)
	_, res = env.do(http.MethodGet, "/api/users/"+devID+"/balance", devToken, nil)
	assert.True(t, decode[BalanceDTO](t, res).Used.IsZero())
}

func TestAPI_ListAll_ScopedByRole(t *testing.T) {
	env := newTestEnv(t)
	env.seed("demo")
	env.seed("balance-limits")
	bossToken, _ := env.login("boss@example.com", "boss-pass")
	devToken, devID := env.login("dev@example.com", "dev-pass")

	_, res := env.do(http.MethodGet, "/api/leave/all", bossToken, nil)
	assert.Len(t, decode[[]LeaveDTO](t, res), 3)

	_, res = env.do(http.MethodGet, "/api/leave/all", devToken, nil)
	own := decode[[]LeaveDTO](t, res)
	require.Len(t, own, 1)
	assert.Equal(t, devID, own[0].UserID)
}

// =============================================================================
// USERS AND AUTH
// =============================================================================

func TestAPI_RegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	// Anonymous callers cannot pick a role
	status, _ := env.do(http.MethodPost, "/api/auth/register", "",
		RegisterRequest{Name: "Mallory", Email: "m@example.com", Password: "pw", Role: "BOSS"})
	assert.Equal(t, http.StatusForbidden, status)

	status, res := env.do(http.MethodPost, "/api/auth/register", "",
		RegisterRequest{Name: "Nina", Email: "Nina@Example.com", Password: "pw"})
	require.Equal(t, http.StatusCreated, status, res.Msg)
	user := decode[UserDTO](t, res)
	assert.Equal(t, "nina@example.com", user.Email)
	assert.Equal(t, "PROGRAMMER", user.Role)
	assert.Equal(t, 14, user.AnnualLeaveEntitlement)
	assert.NotContains(t, string(res.Data), "password")

	token, id := env.login("nina@example.com", "pw")
	assert.Equal(t, user.ID, id)
	status, res = env.do(http.MethodGet, "/api/users/"+id, token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Nina", decode[UserDTO](t, res).Name)
}

func TestAPI_PrivilegedRegistration(t *testing.T) {
	env := newTestEnv(t)
	env.seed("demo")
	adminToken, _ := env.login("admin@example.com", "admin-pass")

	ent := 25
	status, res := env.do(http.MethodPost, "/api/auth/register", adminToken,
		RegisterRequest{Name: "Lead", Email: "lead@example.com", Password: "pw", Role: "boss", Entitlement: &ent})

	require.Equal(t, http.StatusCreated, status, res.Msg)
	user := decode[UserDTO](t, res)
	assert.Equal(t, "BOSS", user.Role)
	assert.Equal(t, 25, user.AnnualLeaveEntitlement)
}

func TestAPI_DeletedUserLosesAccess(t *testing.T) {
	env := newTestEnv(t)
	env.seed("demo")
	adminToken, _ := env.login("admin@example.com", "admin-pass")
	devToken, devID := env.login("dev@example.com", "dev-pass")

	status, _ := env.do(http.MethodDelete, "/api/users/"+devID, adminToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = env.do(http.MethodGet, "/api/leave/all", devToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = env.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "dev@example.com", Password: "dev-pass"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_UpdateEntitlement(t *testing.T) {
	env := newTestEnv(t)
	env.seed("balance-limits")
	bossToken, _ := env.login("boss@example.com", "boss-pass")
	_, busyID := env.login("busy@example.com", "busy-pass")

	status, _ := env.do(http.MethodPut, "/api/users/"+busyID, bossToken, map[string]any{"annual_leave_entitlement": 10})
	assert.Equal(t, http.StatusBadRequest, status, "below used")

	status, res := env.do(http.MethodPut, "/api/users/"+busyID, bossToken, map[string]any{"annual_leave_entitlement": 20})
	require.Equal(t, http.StatusOK, status, res.Msg)
	assert.Equal(t, 20, decode[UserDTO](t, res).AnnualLeaveEntitlement)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestAPI_Health(t *testing.T) {
	env := newTestEnv(t)
	status, res := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", res.Msg)
}
