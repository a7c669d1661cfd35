// Package roles derives the roles available to a user from token claims
// and manages the explicit role selection for users who hold more than
// one role. The selection is persisted separately from the session
// record so it survives token churn.
package roles

import (
	"github.com/rs/zerolog"

	errs "github.com/rosterhq/portal-session/internal/errors"
	"github.com/rosterhq/portal-session/kvstore"
	"github.com/rosterhq/portal-session/token"
)

// Role is an application role held by a portal user.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleCoach  Role = "coach"
	RoleParent Role = "parent"
)

// Resolver resolves available roles from claims and arbitrates the
// persisted explicit selection.
type Resolver struct {
	kv           *kvstore.Store
	selectionKey string
	baseline     Role
	log          zerolog.Logger
}

// NewResolver creates a Resolver. baseline is the role assumed when the
// claim set carries no role claims at all.
func NewResolver(kv *kvstore.Store, selectionKey string, baseline Role, log zerolog.Logger) *Resolver {
	return &Resolver{
		kv:           kv,
		selectionKey: selectionKey,
		baseline:     baseline,
		log:          log,
	}
}

// AvailableRoles derives the role set from the single "role" claim plus
// the multi-valued "roles" claim, de-duplicated and in claim order. A
// claim set with no role claims yields the baseline role.
func (r *Resolver) AvailableRoles(cs token.ClaimSet) []Role {
	seen := make(map[Role]struct{})
	var out []Role

	add := func(role Role) {
		if role == "" {
			return
		}
		if _, dup := seen[role]; dup {
			return
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}

	add(Role(cs.Role))
	for _, claimed := range cs.Roles {
		add(Role(claimed))
	}

	if len(out) == 0 {
		out = []Role{r.baseline}
	}
	return out
}

// PrimaryRole returns the persisted explicit selection when it is still
// a member of the available set, otherwise the first available role. A
// stale selection (a role the account no longer holds) is ignored, not
// an error.
func (r *Resolver) PrimaryRole(cs token.ClaimSet) Role {
	available := r.AvailableRoles(cs)

	if selected, ok := r.selection(); ok {
		for _, role := range available {
			if role == selected {
				return selected
			}
		}
		r.log.Debug().Str("selected", string(selected)).Msg("persisted role selection no longer held")
	}

	return available[0]
}

// SelectRole persists role as the explicit selection. It returns
// ErrInvalidRoleSelection when role is not in the available set; the
// existing selection is untouched in that case.
func (r *Resolver) SelectRole(cs token.ClaimSet, role Role) error {
	for _, available := range r.AvailableRoles(cs) {
		if available == role {
			if err := r.kv.Put(r.selectionKey, string(role)); err != nil {
				return errs.Wrapf(err, "[SelectRole] persisting selection")
			}
			return nil
		}
	}
	return errs.Wrapf(errs.ErrInvalidRoleSelection, "[SelectRole] role %q not held", role)
}

// SeedSelection persists role as the selection when none is stored yet.
// It honors the server-reported role on first login; an existing explicit
// selection always wins, and a role the claims do not hold is ignored.
func (r *Resolver) SeedSelection(cs token.ClaimSet, role Role) {
	if role == "" {
		return
	}
	if _, ok := r.selection(); ok {
		return
	}
	if err := r.SelectRole(cs, role); err != nil {
		r.log.Debug().Str("role", string(role)).Msg("server-reported role not held, ignoring")
	}
}

// ClearSelection removes the persisted selection.
func (r *Resolver) ClearSelection() {
	if err := r.kv.Remove(r.selectionKey); err != nil {
		r.log.Warn().Err(err).Msg("removing role selection")
	}
}

func (r *Resolver) selection() (Role, bool) {
	value, ok, err := r.kv.Get(r.selectionKey)
	if err != nil {
		r.log.Warn().Err(err).Msg("reading role selection")
		return "", false
	}
	if !ok || value == "" {
		return "", false
	}
	return Role(value), true
}
