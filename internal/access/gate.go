/*

Credential registry and live freeze table.

Credential issuance and transfer are an external admin concern; the engine
consumes the freeze-status lookup. Every privileged vault entry point calls
Authorize at its top and never caches the answer across calls: freezing a
credential takes effect on the very next entry.

*/

package access

import (
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"github.com/halcyonlabs/cvm/internal/verrors"
)

// Role is the privilege class a credential carries. Roles are exact-match:
// an admin credential does not implicitly satisfy operator checks.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Gate maps credential identity to role and live freeze status. Absence from
// the freeze table means "never frozen".
type Gate struct {
	mu     sync.RWMutex
	roles  map[uuid.UUID]Role
	frozen map[uuid.UUID]bool
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{
		roles:  make(map[uuid.UUID]Role),
		frozen: make(map[uuid.UUID]bool),
	}
}

// Issue mints a new credential with the given role and returns its identity.
func (g *Gate) Issue(role Role) (uuid.UUID, error) {
	if role != RoleOperator && role != RoleAdmin {
		return uuid.Nil, errorsmod.Wrapf(verrors.ErrInvalidRequest, "unknown role %q", role)
	}
	id := uuid.New()
	g.mu.Lock()
	g.roles[id] = role
	g.mu.Unlock()
	return id, nil
}

// Revoke removes a credential entirely.
func (g *Gate) Revoke(id uuid.UUID) {
	g.mu.Lock()
	delete(g.roles, id)
	delete(g.frozen, id)
	g.mu.Unlock()
}

// IsFrozen reports the live freeze flag for a credential.
func (g *Gate) IsFrozen(id uuid.UUID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frozen[id]
}

// Freeze sets the freeze flag. The acting credential must be a live admin.
func (g *Gate) Freeze(admin, target uuid.UUID) error {
	if err := g.Authorize(admin, RoleAdmin); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.roles[target]; !ok {
		return errorsmod.Wrapf(verrors.ErrNotFound, "credential %s", target)
	}
	g.frozen[target] = true
	return nil
}

// Unfreeze clears the freeze flag. The acting credential must be a live admin.
func (g *Gate) Unfreeze(admin, target uuid.UUID) error {
	if err := g.Authorize(admin, RoleAdmin); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.roles[target]; !ok {
		return errorsmod.Wrapf(verrors.ErrNotFound, "credential %s", target)
	}
	delete(g.frozen, target)
	return nil
}

// Authorize verifies the credential exists, carries the required role, and
// is not frozen right now.
func (g *Gate) Authorize(id uuid.UUID, role Role) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	have, ok := g.roles[id]
	if !ok {
		return errorsmod.Wrap(verrors.ErrUnauthorized, "unknown credential")
	}
	if have != role {
		return errorsmod.Wrapf(verrors.ErrUnauthorized, "credential role %s, need %s", have, role)
	}
	if g.frozen[id] {
		return errorsmod.Wrap(verrors.ErrUnauthorized, "credential is frozen")
	}
	return nil
}
