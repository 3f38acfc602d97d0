package timeoff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"go.uber.org/zap"
)

const resourceUser = "user"

// PasswordHasher hashes and verifies passwords. auth.BcryptHasher is the production one.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// NewUser is the registration input.
type NewUser struct {
	Name        string
	Email       string
	Password    string
	Role        generic.Role
	Entitlement *int
}

// UserPatch is a partial profile update. Nil fields are left unchanged.
type UserPatch struct {
	Name        *string
	Email       *string
	Password    *string
	Role        *generic.Role
	Status      *UserStatus
	Entitlement *int
}

func (p UserPatch) touchesPrivilegedFields() bool {
	return p.Role != nil || p.Status != nil || p.Entitlement != nil
}

// BalanceView is the read model of a user's leave balance.
type BalanceView struct {
	UserID      string
	Entitlement int
	Used        decimal.Decimal
	Remaining   decimal.Decimal
}

// UserService is the user directory. It never writes Balance.Used.
type UserService struct {
	Store              TxStore
	Hasher             PasswordHasher
	DefaultEntitlement int
	Clock              generic.Clock

	logger *zap.Logger
}

func NewUserService(store TxStore, hasher PasswordHasher, defaultEntitlement int, logger ...*zap.Logger) *UserService {
	l := zap.L().Named("user.service")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("user.service")
	}
	if defaultEntitlement <= 0 {
		defaultEntitlement = DefaultEntitlement
	}
	return &UserService{
		Store:              store,
		Hasher:             hasher,
		DefaultEntitlement: defaultEntitlement,
		Clock:              generic.UTCNow,
		logger:             l,
	}
}

func (s *UserService) now() generic.Clock {
	if s.Clock == nil {
		return generic.UTCNow
	}
	return s.Clock
}

// Register creates an ACTIVE user. Only privileged actors may pick a role
// other than PROGRAMMER or a custom entitlement.
func (s *UserService) Register(ctx context.Context, actor generic.Actor, in NewUser) (*User, error) {
	s.logger.Debug("register user requested", zap.String("email", in.Email), zap.String("actor", actor.Label()))

	name := strings.TrimSpace(in.Name)
	email := NormalizeEmail(in.Email)
	switch {
	case name == "":
		return nil, generic.NewValidationError("name", "is required")
	case email == "" || !strings.Contains(email, "@"):
		return nil, generic.NewValidationError("email", "a valid email is required")
	case in.Password == "":
		return nil, generic.NewValidationError("password", "is required")
	}

	role := in.Role
	if role == "" {
		role = generic.RoleProgrammer
	}
	entitlement := s.DefaultEntitlement
	if in.Entitlement != nil {
		entitlement = *in.Entitlement
	}
	if entitlement < 0 {
		return nil, generic.NewValidationError("entitlement", "must not be negative")
	}
	if (role != generic.RoleProgrammer || entitlement != s.DefaultEntitlement) && !actor.IsPrivileged() {
		s.logger.Warn("register user forbidden", zap.String("email", email), zap.String("role", string(role)))
		return nil, fmt.Errorf("%w: only privileged users may assign roles or entitlements", generic.ErrForbidden)
	}

	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *User
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := ensureEmailFree(ctx, tx, email, ""); err != nil {
			return err
		}
		now := s.now()()
		u := &User{
			Name:         name,
			Email:        email,
			PasswordHash: hash,
			Role:         role,
			Status:       UserActive,
			Balance:      generic.Balance{Entitlement: entitlement, Used: decimal.Zero},
		}
		u.Audit.StampCreate(actor, now)
		u.Audit.StampUpdate(actor, now)
		if err := tx.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("save user: %w", err)
		}
		created = u
		return nil
	})
	if err != nil {
		s.logger.Warn("register user failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}

	s.logger.Info("register user success", zap.String("user_id", created.ID), zap.String("role", string(created.Role)))
	return created, nil
}

func (s *UserService) Get(ctx context.Context, actor generic.Actor, id string) (*User, error) {
	u, err := s.Store.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := generic.Authorize(actor, generic.ActionView, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UserService) List(ctx context.Context, actor generic.Actor) ([]User, error) {
	if err := generic.Authorize(actor, generic.ActionManageUsers, ""); err != nil {
		return nil, err
	}
	return s.Store.Users(ctx)
}

// Update applies a partial patch. Entitlement may not drop below the days already used.
func (s *UserService) Update(ctx context.Context, actor generic.Actor, id string, patch UserPatch) (*User, error) {
	s.logger.Debug("update user requested", zap.String("user_id", id), zap.String("actor", actor.Label()))

	var hash string
	if patch.Password != nil {
		if *patch.Password == "" {
			return nil, generic.NewValidationError("password", "must not be empty")
		}
		h, err := s.Hasher.Hash(*patch.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = h
	}

	var updated *User
	err := s.Store.WithTx(ctx, func(tx Store) error {
		u, err := tx.UserByID(ctx, id)
		if err != nil {
			return err
		}
		if err := generic.Authorize(actor, generic.ActionUpdate, u.ID); err != nil {
			return err
		}
		if patch.touchesPrivilegedFields() && !actor.IsPrivileged() {
			return fmt.Errorf("%w: role, status and entitlement are managed by privileged users", generic.ErrForbidden)
		}

		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return generic.NewValidationError("name", "must not be empty")
			}
			u.Name = name
		}
		if patch.Email != nil {
			email := NormalizeEmail(*patch.Email)
			if email == "" || !strings.Contains(email, "@") {
				return generic.NewValidationError("email", "a valid email is required")
			}
			if err := ensureEmailFree(ctx, tx, email, u.ID); err != nil {
				return err
			}
			u.Email = email
		}
		if hash != "" {
			u.PasswordHash = hash
		}
		if patch.Role != nil {
			u.Role = *patch.Role
		}
		if patch.Status != nil {
			u.Status = *patch.Status
		}
		if patch.Entitlement != nil {
			ent := *patch.Entitlement
			if ent < 0 || decimal.NewFromInt(int64(ent)).LessThan(u.Balance.Used) {
				return generic.NewValidationError("entitlement", "must not be below the days already used")
			}
			u.Balance.Entitlement = ent
		}

		u.Audit.StampUpdate(actor, s.now()())
		if err := tx.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("save user: %w", err)
		}
		updated = u
		return nil
	})
	if err != nil {
		s.logger.Warn("update user failed", zap.String("user_id", id), zap.Error(err))
		return nil, err
	}

	s.logger.Info("update user success", zap.String("user_id", id))
	return updated, nil
}

// Delete soft-deletes a user. Their requests keep the reference.
func (s *UserService) Delete(ctx context.Context, actor generic.Actor, id string) error {
	if err := generic.Authorize(actor, generic.ActionManageUsers, ""); err != nil {
		return err
	}
	err := s.Store.WithTx(ctx, func(tx Store) error {
		u, err := tx.UserByID(ctx, id)
		if err != nil {
			return err
		}
		u.Deleted = true
		u.Audit.StampUpdate(actor, s.now()())
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		s.logger.Warn("delete user failed", zap.String("user_id", id), zap.Error(err))
		return err
	}
	s.logger.Info("delete user success", zap.String("user_id", id))
	return nil
}

// Authenticate checks credentials. Every rejection is ErrUnauthenticated.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.Store.UserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if generic.IsNotFound(err) {
			return nil, fmt.Errorf("%w: invalid credentials", generic.ErrUnauthenticated)
		}
		return nil, err
	}
	if !u.CanAuthenticate() {
		return nil, fmt.Errorf("%w: invalid credentials", generic.ErrUnauthenticated)
	}
	if err := s.Hasher.Compare(u.PasswordHash, password); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", generic.ErrUnauthenticated)
	}
	return u, nil
}

// Resolve returns the user behind an authenticated id, rejecting deleted and locked users.
func (s *UserService) Resolve(ctx context.Context, id string) (*User, error) {
	u, err := s.Store.UserByID(ctx, id)
	if err != nil {
		if generic.IsNotFound(err) {
			return nil, fmt.Errorf("%w: unknown user", generic.ErrUnauthenticated)
		}
		return nil, err
	}
	if !u.CanAuthenticate() {
		return nil, fmt.Errorf("%w: account is not active", generic.ErrUnauthenticated)
	}
	return u, nil
}

func (s *UserService) Balance(ctx context.Context, actor generic.Actor, id string) (BalanceView, error) {
	u, err := s.Get(ctx, actor, id)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{
		UserID:      u.ID,
		Entitlement: u.Balance.Entitlement,
		Used:        u.Balance.Used,
		Remaining:   u.Balance.Remaining(),
	}, nil
}

func ensureEmailFree(ctx context.Context, tx Store, email, selfID string) error {
	existing, err := tx.UserByEmail(ctx, email)
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID == selfID:
		return nil
	}
	return fmt.Errorf("%w: email %s is already registered", generic.ErrConflict, email)
}
