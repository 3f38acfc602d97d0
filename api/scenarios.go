/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds users and leave requests that show the workflow end to end. All
  data goes through the same services the HTTP handlers use, so seeded
  balances obey the same rules as real ones.

AVAILABLE SCENARIOS:
  demo:           boss, admin and a developer with one PENDING request
  balance-limits: a developer with 12 of 14 days used and a PENDING
                  5-day request that cannot be approved

IDEMPOTENCY:
  Loading a scenario twice does not duplicate users: an existing account
  with the same email and demo password is reused.

USAGE:
  SEED_DEMO=true on start loads "demo".
  POST /api/scenarios/load {"scenario_id": "balance-limits"}
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const DefaultScenario = "demo"

var scenarios = []ScenarioDTO{
	{
		ID:          "demo",
		Name:        "Demo Team",
		Description: "A boss, an admin and a developer with one pending request",
	},
	{
		ID:          "balance-limits",
		Name:        "Balance Limits",
		Description: "Developer with 12 of 14 days used and a pending 5-day request",
	},
}

type seedUser struct {
	Name     string
	Email    string
	Password string
	Role     generic.Role
}

var (
	seedBoss  = seedUser{Name: "Bea Boss", Email: "boss@example.com", Password: "boss-pass", Role: generic.RoleBoss}
	seedAdmin = seedUser{Name: "Ada Admin", Email: "admin@example.com", Password: "admin-pass", Role: generic.RoleAdmin}
	seedDev   = seedUser{Name: "Dev Eloper", Email: "dev@example.com", Password: "dev-pass", Role: generic.RoleProgrammer}
	seedBusy  = seedUser{Name: "Busy Bee", Email: "busy@example.com", Password: "busy-pass", Role: generic.RoleProgrammer}
)

// ErrUnknownScenario is returned for an unregistered scenario id.
var ErrUnknownScenario = errors.New("unknown scenario")

// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "Scenarios fetched successfully.", scenarios)
}

// LoadScenario seeds a scenario. Privileged only.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsPrivileged() {
		writeError(w, r, fmt.Errorf("%w: only privileged users may load scenarios", generic.ErrForbidden))
		return
	}

	var req LoadScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.SeedScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, ErrUnknownScenario) {
			writeError(w, r, generic.NewValidationError("scenario_id", err.Error()))
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Scenario loaded.", map[string]string{"scenario_id": req.ScenarioID})
}

// SeedScenario loads the named scenario through the services.
func (h *Handler) SeedScenario(ctx context.Context, name string) error {
	var err error
	switch name {
	case "demo":
		err = h.loadDemoScenario(ctx)
	case "balance-limits":
		err = h.loadBalanceLimitsScenario(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	if err != nil {
		return fmt.Errorf("load scenario %s: %w", name, err)
	}
	h.logger.Info("scenario loaded", zap.String("scenario", name))
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadDemoScenario(ctx context.Context) error {
	for _, s := range []seedUser{seedBoss, seedAdmin} {
		if _, err := h.ensureUser(ctx, s); err != nil {
			return err
		}
	}

	dev, err := h.ensureUser(ctx, seedDev)
	if err != nil {
		return err
	}

	existing, err := h.Leaves.List(ctx, generic.System, &dev.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	start := generic.DateOf(time.Now().UTC()).AddDays(14)
	_, err = h.Leaves.Create(ctx, generic.System, dev.ID, timeoff.LeaveFields{
		StartDate: start,
		EndDate:   start.AddDays(1),
		Duration:  generic.Days(2),
		Type:      timeoff.LeaveAnnual,
		Reason:    "Family visit",
	})
	return err
}

func (h *Handler) loadBalanceLimitsScenario(ctx context.Context) error {
	if _, err := h.ensureUser(ctx, seedBoss); err != nil {
		return err
	}
	busy, err := h.ensureUser(ctx, seedBusy)
	if err != nil {
		return err
	}
	if busy.Balance.Used.IsPositive() {
		return nil
	}

	start := generic.DateOf(time.Now().UTC()).AddDays(-30)
	taken, err := h.Leaves.Create(ctx, generic.System, busy.ID, timeoff.LeaveFields{
		StartDate: start,
		EndDate:   start.AddDays(11),
		Duration:  generic.Days(12),
		Type:      timeoff.LeaveAnnual,
		Reason:    "Long trip",
	})
	if err != nil {
		return err
	}
	if _, err := h.Leaves.Approve(ctx, generic.System, taken.ID); err != nil {
		return err
	}

	next := generic.DateOf(time.Now().UTC()).AddDays(30)
	_, err = h.Leaves.Create(ctx, generic.System, busy.ID, timeoff.LeaveFields{
		StartDate: next,
		EndDate:   next.AddDays(4),
		Duration:  generic.Days(5),
		Type:      timeoff.LeaveAnnual,
		Reason:    "Another trip",
	})
	return err
}

// ensureUser registers s, or returns the existing account if the email is taken.
func (h *Handler) ensureUser(ctx context.Context, s seedUser) (*timeoff.User, error) {
	u, err := h.Users.Register(ctx, generic.System, timeoff.NewUser{
		Name:     s.Name,
		Email:    s.Email,
		Password: s.Password,
		Role:     s.Role,
	})
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, generic.ErrConflict) {
		return nil, err
	}
	return h.Users.Authenticate(ctx, s.Email, s.Password)
}
