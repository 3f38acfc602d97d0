package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// PASSWORD HASHING
// =============================================================================

func TestBcryptHasher(t *testing.T) {
	h := &BcryptHasher{Cost: bcrypt.MinCost}

	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.NoError(t, h.Compare(hash, "s3cret"))
	assert.Error(t, h.Compare(hash, "wrong"))

	_, err = h.Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

// =============================================================================
// TOKENS
// =============================================================================

func newTokens(now time.Time) *TokenService {
	s := NewTokenService("test-secret", time.Hour)
	s.now = func() time.Time { return now }
	return s
}

func TestTokenService_IssueAndValidate(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	s := newTokens(now)

	token, expiresAt, err := s.Issue("u1", generic.RoleBoss)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expiresAt)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, string(generic.RoleBoss), claims.Role)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestTokenService_Expired(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	s := newTokens(now)
	token, _, err := s.Issue("u1", generic.RoleProgrammer)
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = s.Validate(token)

	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenService_Rejects(t *testing.T) {
	now := time.Now()
	s := newTokens(now)

	otherKey := newTokens(now)
	otherKey.secret = []byte("another-secret")
	foreign, _, err := otherKey.Issue("u1", generic.RoleAdmin)
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(s.secret)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(s.secret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong key", foreign},
		{"wrong issuer", wrongIssuer},
		{"no subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type stubResolver map[string]*timeoff.User

func (s stubResolver) Resolve(_ context.Context, id string) (*timeoff.User, error) {
	u, ok := s[id]
	if !ok {
		return nil, generic.ErrUnauthenticated
	}
	return u, nil
}

func recordFailure(status *int, got *error) ErrorWriter {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		*got = err
		*status = http.StatusUnauthorized
		w.WriteHeader(http.StatusUnauthorized)
	}
}

func TestMiddleware(t *testing.T) {
	tokens := newTokens(time.Now())
	users := stubResolver{
		"u1": {ID: "u1", Name: "Una", Role: generic.RoleAdmin},
	}
	valid, _, err := tokens.Issue("u1", generic.RoleProgrammer)
	require.NoError(t, err)
	orphan, _, err := tokens.Issue("ghost", generic.RoleProgrammer)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantActor  bool
		wantStatus int
	}{
		{"valid token", "Bearer " + valid, true, http.StatusOK},
		{"missing header", "", false, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", false, http.StatusUnauthorized},
		{"bad token", "Bearer nope", false, http.StatusUnauthorized},
		{"unknown user", "Bearer " + orphan, false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				failStatus int
				failErr    error
				seen       generic.Actor
				reached    bool
			)
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				seen, _ = ActorFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			})
			h := Middleware(tokens, users, recordFailure(&failStatus, &failErr))(next)

			req := httptest.NewRequest(http.MethodGet, "/api/leave/all", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantActor, reached)
			if tt.wantActor {
				// The role comes from the directory, not from the token
				assert.Equal(t, generic.Actor{ID: "u1", Name: "Una", Role: generic.RoleAdmin}, seen)
			} else {
				assert.True(t, errors.Is(failErr, generic.ErrUnauthenticated), "got %v", failErr)
			}
		})
	}
}

func TestActorFrom_Empty(t *testing.T) {
	_, ok := ActorFrom(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), generic.System)
	actor, ok := ActorFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, generic.System, actor)
}
